package engine

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/miradorstack/mirador-timers/internal/models"
)

var fingerprintMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: core deterministic mode: %v", err))
	}
	fingerprintMode = mode
}

type fingerprintAction struct {
	Kind      string `cbor:"1,keyasint"`
	Namespace string `cbor:"2,keyasint,omitempty"`
	Member    string `cbor:"3,keyasint,omitempty"`
	TimerID   string `cbor:"4,keyasint,omitempty"`
	Threshold int64  `cbor:"5,keyasint,omitempty"`
}

type fingerprintDelta struct {
	EventID string   `cbor:"1,keyasint"`
	Add     []string `cbor:"2,keyasint,omitempty"`
	Remove  []string `cbor:"3,keyasint,omitempty"`
}

type fingerprintPlan struct {
	Actions   []fingerprintAction `cbor:"1,keyasint"`
	Deltas    []fingerprintDelta  `cbor:"2,keyasint"`
	Labels    []string            `cbor:"3,keyasint"`
	Snapshots []string            `cbor:"4,keyasint"`
}

// Fingerprint digests the action content of a plan. Decisions are not part
// of the digest. Equal plans always produce equal fingerprints.
func Fingerprint(plan models.Plan) (string, error) {
	fp := fingerprintPlan{
		Actions:   make([]fingerprintAction, 0, len(plan.Creates)+len(plan.Updates)+len(plan.Disables)),
		Deltas:    make([]fingerprintDelta, 0, len(plan.LabelDeltas)),
		Labels:    append([]string{}, plan.LabelsToCreate...),
		Snapshots: append([]string{}, plan.ForcedSnapshots...),
	}
	for _, group := range [][]models.TimerAction{plan.Creates, plan.Updates, plan.Disables} {
		for _, a := range group {
			fp.Actions = append(fp.Actions, fingerprintAction{
				Kind:      string(a.Kind),
				Namespace: a.Identity.Namespace,
				Member:    a.Identity.Member,
				TimerID:   a.TimerID,
				Threshold: a.ThresholdMs,
			})
		}
	}
	for _, d := range plan.LabelDeltas {
		fp.Deltas = append(fp.Deltas, fingerprintDelta{EventID: d.EventID, Add: d.Add, Remove: d.Remove})
	}

	encoded, err := fingerprintMode.Marshal(fp)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
