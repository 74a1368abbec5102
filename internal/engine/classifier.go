package engine

import (
	"math"

	"github.com/miradorstack/mirador-timers/internal/models"
)

// Classifier turns window statistics into performance states and decides
// which labels an event needs for a state.
//
// Classify receives every active-window transaction in one call. Identities
// it leaves out are reconciled as NO_DATA; identities it adds are ignored.
// CategorizeEvent must register every label it adds with the LabelSet.
type Classifier interface {
	Classify(active, baseline map[models.TransactionIdentity]models.TransactionStats) map[models.TransactionIdentity]models.PerformanceState
	CategorizeEvent(event models.EventRecord, state models.PerformanceState, labels *LabelSet) models.LabelDelta
}

// LabelConfig names the labels attached to degraded events.
type LabelConfig struct {
	Slowing  string `yaml:"slowing"`
	Critical string `yaml:"critical"`
}

// DefaultLabelConfig returns the stock label names.
func DefaultLabelConfig() LabelConfig {
	return LabelConfig{Slowing: "Slowing", Critical: "Critical"}
}

// ThresholdClassifier compares active and baseline means against the policy
// cut-points.
type ThresholdClassifier struct {
	policy models.Policy
	labels LabelConfig
}

// NewThresholdClassifier builds the default classifier. Empty label names
// fall back to DefaultLabelConfig.
func NewThresholdClassifier(policy models.Policy, labels LabelConfig) *ThresholdClassifier {
	defaults := DefaultLabelConfig()
	if labels.Slowing == "" {
		labels.Slowing = defaults.Slowing
	}
	if labels.Critical == "" {
		labels.Critical = defaults.Critical
	}
	return &ThresholdClassifier{policy: policy, labels: labels}
}

// Classify evaluates every active transaction. A transaction missing from
// the baseline is classified against zero stats and therefore as NO_DATA.
func (c *ThresholdClassifier) Classify(active, baseline map[models.TransactionIdentity]models.TransactionStats) map[models.TransactionIdentity]models.PerformanceState {
	result := make(map[models.TransactionIdentity]models.PerformanceState, len(active))
	for id, stats := range active {
		result[id] = c.ClassifyOne(stats, baseline[id])
	}
	return result
}

// ClassifyOne classifies a single transaction.
func (c *ThresholdClassifier) ClassifyOne(active, baseline models.TransactionStats) models.PerformanceState {
	p := c.policy
	if active.InvocationCount < p.ActiveInvocationsThreshold || baseline.InvocationCount < p.BaselineInvocationsThreshold {
		return models.StateNoData
	}

	delta := active.MeanLatencyMs - baseline.MeanLatencyMs
	if delta < p.MinDeltaThresholdMs || delta < baseline.MeanLatencyMs*p.MinDeltaThresholdPercentage {
		return models.StateOK
	}
	if active.MeanLatencyMs <= baseline.MeanLatencyMs+baseline.StdDeviationMs*p.StdDevFactor {
		return models.StateOK
	}

	ratio := math.Inf(1)
	if baseline.MeanLatencyMs > 0 {
		ratio = delta / baseline.MeanLatencyMs
	}
	switch {
	case ratio >= p.OverAvgCriticalPercentage:
		return models.StateCritical
	case ratio >= p.OverAvgSlowingPercentage:
		return models.StateSlowing
	default:
		return models.StateOK
	}
}

// CategorizeEvent returns the label changes that bring event in line with
// state. Labels already present are not re-added and absent labels are not
// removed, so the delta is empty for an event that is already consistent.
func (c *ThresholdClassifier) CategorizeEvent(event models.EventRecord, state models.PerformanceState, labels *LabelSet) models.LabelDelta {
	var want, drop []string
	switch state {
	case models.StateSlowing:
		want, drop = []string{c.labels.Slowing}, []string{c.labels.Critical}
	case models.StateCritical:
		want, drop = []string{c.labels.Critical}, []string{c.labels.Slowing}
	default:
		drop = []string{c.labels.Slowing, c.labels.Critical}
	}

	delta := models.LabelDelta{EventID: event.ID}
	for _, name := range want {
		if event.HasLabel(name) {
			continue
		}
		if labels != nil {
			labels.Ensure(name)
		}
		delta.Add = append(delta.Add, name)
	}
	for _, name := range drop {
		if event.HasLabel(name) {
			delta.Remove = append(delta.Remove, name)
		}
	}
	return delta
}
