package models

import "time"

// CycleOutcome summarises how a cycle ended.
type CycleOutcome string

const (
	OutcomeApplied CycleOutcome = "applied"
	OutcomePartial CycleOutcome = "partial"
	OutcomeDryRun  CycleOutcome = "dry_run"
	OutcomeNoop    CycleOutcome = "noop"
	OutcomeFailed  CycleOutcome = "failed"
)

// DispatchGroup names one of the ordered dispatch batches.
type DispatchGroup string

const (
	GroupCreate    DispatchGroup = "create"
	GroupUpdate    DispatchGroup = "update"
	GroupDisable   DispatchGroup = "disable"
	GroupLabels    DispatchGroup = "labels"
	GroupSnapshots DispatchGroup = "snapshots"
)

// DispatchFailure records one failed remote call.
type DispatchFailure struct {
	Group  DispatchGroup `json:"group"`
	Target string        `json:"target"`
	Error  string        `json:"error"`
}

// GateResult is the verdict of one quality gate over a cycle.
type GateResult struct {
	ID       string `json:"id"`
	Desc     string `json:"desc"`
	Breached bool   `json:"breached"`
	Matches  int    `json:"matches"`
}

// CycleReport is the persisted record of one reconciliation cycle.
type CycleReport struct {
	ID              string            `json:"id"`
	ServiceID       string            `json:"service_id"`
	ViewID          string            `json:"view_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DryRun          bool              `json:"dry_run"`
	Outcome         CycleOutcome      `json:"outcome"`
	Fingerprint     string            `json:"fingerprint,omitempty"`
	Transactions    int               `json:"transactions"`
	Created         int               `json:"created"`
	Updated         int               `json:"updated"`
	Disabled        int               `json:"disabled"`
	LabelDeltas     int               `json:"label_deltas"`
	ForcedSnapshots int               `json:"forced_snapshots"`
	Failures        []DispatchFailure `json:"failures,omitempty"`
	Gates           []GateResult      `json:"gates,omitempty"`
	Error           string            `json:"error,omitempty"`
}
