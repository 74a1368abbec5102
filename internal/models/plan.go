package models

// TimerActionKind enumerates timer lifecycle actions.
type TimerActionKind string

const (
	ActionNone    TimerActionKind = ""
	ActionCreate  TimerActionKind = "create"
	ActionUpdate  TimerActionKind = "update"
	ActionDisable TimerActionKind = "disable"
)

// TimerAction is a single timer mutation produced by reconciliation. Create
// actions carry the identity; update and disable actions carry the timer id.
type TimerAction struct {
	Kind        TimerActionKind
	Identity    TransactionIdentity
	TimerID     string
	ThresholdMs int64
}

// Decision records how one transaction was reconciled within a cycle.
type Decision struct {
	Identity    TransactionIdentity
	Classified  PerformanceState
	Effective   PerformanceState
	Machine     string
	Excluded    bool
	Action      TimerActionKind
	ThresholdMs int64
	Events      int
}

// Plan is the complete, deterministic outcome of one reconciliation.
type Plan struct {
	Creates         []TimerAction
	Updates         []TimerAction
	Disables        []TimerAction
	LabelDeltas     []LabelDelta
	LabelsToCreate  []string
	ForcedSnapshots []string
	Decisions       []Decision
}

// IsEmpty reports whether the plan requires no dispatch at all.
func (p Plan) IsEmpty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Disables) == 0 &&
		len(p.LabelDeltas) == 0 && len(p.LabelsToCreate) == 0 && len(p.ForcedSnapshots) == 0
}
