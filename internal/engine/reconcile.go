package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-timers/internal/metrics"
	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

// Inputs is everything one reconciliation consumes, as fetched at the start
// of a cycle.
type Inputs struct {
	Active   map[models.TransactionIdentity]models.TransactionStats
	Baseline map[models.TransactionIdentity]models.TransactionStats
	Events   []models.EventRecord
	Timers   []models.Timer
	Rules    *models.ExclusionRules
}

// Reconciler turns classified transactions into a timer and label plan.
type Reconciler struct {
	classifier Classifier
	policy     models.Policy
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewReconciler constructs a reconciler. A nil classifier falls back to the
// threshold classifier with default labels.
func NewReconciler(classifier Classifier, policy models.Policy, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewThresholdClassifier(policy, DefaultLabelConfig())
	}
	return &Reconciler{
		classifier: classifier,
		policy:     policy,
		logger:     logger,
		tracer:     otel.Tracer("mirador-timers/engine"),
	}
}

// Policy returns the frozen policy used by the reconciler.
func (r *Reconciler) Policy() models.Policy {
	return r.policy
}

type pendingDelta struct {
	add    map[string]struct{}
	remove map[string]struct{}
}

// Reconcile evaluates every named active transaction exactly once and returns
// a plan whose slices are sorted, so identical inputs yield identical plans.
func (r *Reconciler) Reconcile(ctx context.Context, in Inputs) (models.Plan, error) {
	ctx, span := r.tracer.Start(ctx, "engine.reconcile", trace.WithAttributes(
		attribute.Int("transactions.active", len(in.Active)),
		attribute.Int("events", len(in.Events)),
		attribute.Int("timers", len(in.Timers)),
	))
	defer span.End()

	active := normalizeStats(in.Active)
	baseline := normalizeStats(in.Baseline)
	identities := sortedIdentities(active)

	var (
		matches map[models.TransactionIdentity][]models.EventRecord
		states  map[models.TransactionIdentity]models.PerformanceState
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		matches = MatchEvents(identities, in.Events)
		return nil
	})
	g.Go(func() error {
		states = r.classify(active, baseline)
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.Plan{}, err
	}

	timers := indexTimers(in.Timers)
	labels := NewLabelSet(existingLabels(in.Events)...)
	deltas := make(map[string]*pendingDelta)
	snapshots := make(map[string]struct{})
	plan := models.Plan{}

	for _, id := range identities {
		if id.IsWildcard() {
			continue
		}

		classified := states[id]
		effective := classified
		excluded := IsExcluded(id, in.Rules)
		if excluded {
			effective = models.StateNoData
		}

		events := matches[id]
		for _, event := range events {
			mergeDelta(deltas, r.classifier.CategorizeEvent(event, effective, labels))
		}

		timer, hasTimer := timers[id]
		machine := machineStateFor(effective, hasTimer, r.policy)
		step, ok := nextStep(machine, hasTimer, r.policy)
		if !ok {
			return models.Plan{}, fmt.Errorf("no transition for %s (timer=%t, always on=%t)", machine, hasTimer, r.policy.TimerAlwaysOn)
		}

		decision := models.Decision{
			Identity:   id,
			Classified: classified,
			Effective:  effective,
			Machine:    string(machine),
			Excluded:   excluded,
			Events:     len(events),
		}

		switch step {
		case stepDisable:
			plan.Disables = append(plan.Disables, models.TimerAction{Kind: models.ActionDisable, Identity: id, TimerID: timer.ID})
			decision.Action = models.ActionDisable
		case stepThreshold:
			stats := active[id]
			candidate := int64(stats.MeanLatencyMs + stats.StdDeviationMs*r.policy.TimerStdDevFactor)
			decision.ThresholdMs = candidate
			if candidate < r.policy.MinTimerThresholdMs {
				r.logger.Debug("timer threshold below floor",
					slog.String("transaction", id.String()),
					slog.Int64("threshold_ms", candidate),
					slog.Int64("floor_ms", r.policy.MinTimerThresholdMs))
				break
			}
			if hasTimer {
				plan.Updates = append(plan.Updates, models.TimerAction{Kind: models.ActionUpdate, Identity: id, TimerID: timer.ID, ThresholdMs: candidate})
				decision.Action = models.ActionUpdate
			} else {
				plan.Creates = append(plan.Creates, models.TimerAction{Kind: models.ActionCreate, Identity: id, ThresholdMs: candidate})
				decision.Action = models.ActionCreate
			}
			for _, event := range events {
				if event.ID != "" {
					snapshots[event.ID] = struct{}{}
				}
			}
		}
		plan.Decisions = append(plan.Decisions, decision)
	}

	plan.LabelDeltas = flattenDeltas(deltas)
	plan.LabelsToCreate = labels.ToCreate()
	plan.ForcedSnapshots = sortedKeys(snapshots)
	sortActions(plan.Creates)
	sortActions(plan.Updates)
	sortActions(plan.Disables)

	span.SetAttributes(
		attribute.Int("plan.creates", len(plan.Creates)),
		attribute.Int("plan.updates", len(plan.Updates)),
		attribute.Int("plan.disables", len(plan.Disables)),
		attribute.Int("plan.label_deltas", len(plan.LabelDeltas)),
		attribute.Int("plan.snapshots", len(plan.ForcedSnapshots)),
	)
	return plan, nil
}

// classify calls the classifier once and repairs its result: omitted
// identities become NO_DATA and unknown identities are dropped.
func (r *Reconciler) classify(active, baseline map[models.TransactionIdentity]models.TransactionStats) map[models.TransactionIdentity]models.PerformanceState {
	raw := r.classifier.Classify(active, baseline)

	states := make(map[models.TransactionIdentity]models.PerformanceState, len(active))
	var unknown []string
	for id, state := range raw {
		id = id.Normalized()
		if _, ok := active[id]; !ok {
			unknown = append(unknown, id.String())
			continue
		}
		states[id] = state
	}

	var omitted []string
	for id := range active {
		if _, ok := states[id]; !ok {
			omitted = append(omitted, id.String())
			states[id] = models.StateNoData
		}
	}

	if n := len(unknown) + len(omitted); n > 0 {
		sort.Strings(unknown)
		sort.Strings(omitted)
		r.logger.Warn("classifier result repaired",
			slog.Any("error", utils.ErrClassifierContract),
			slog.Any("omitted", omitted),
			slog.Any("unknown", unknown))
		metrics.AddClassifierViolations(n)
	}
	return states
}

// normalizeStats re-keys stats by normalized identity. When two spellings of
// one namespace collide, the entry with more invocations wins.
func normalizeStats(in map[models.TransactionIdentity]models.TransactionStats) map[models.TransactionIdentity]models.TransactionStats {
	out := make(map[models.TransactionIdentity]models.TransactionStats, len(in))
	for id, stats := range in {
		key := id.Normalized()
		if prev, ok := out[key]; ok && prev.InvocationCount >= stats.InvocationCount {
			continue
		}
		out[key] = stats
	}
	return out
}

func sortedIdentities(stats map[models.TransactionIdentity]models.TransactionStats) []models.TransactionIdentity {
	ids := make([]models.TransactionIdentity, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return identityLess(ids[i], ids[j]) })
	return ids
}

func identityLess(a, b models.TransactionIdentity) bool {
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	return a.Member < b.Member
}

// indexTimers keys timers by identity. If several timers share an identity
// the enabled one with the lowest id is kept.
func indexTimers(timers []models.Timer) map[models.TransactionIdentity]models.Timer {
	index := make(map[models.TransactionIdentity]models.Timer, len(timers))
	for _, t := range timers {
		id := t.Identity.Normalized()
		if prev, ok := index[id]; ok && !preferTimer(t, prev) {
			continue
		}
		index[id] = t
	}
	return index
}

func preferTimer(candidate, current models.Timer) bool {
	if candidate.Enabled != current.Enabled {
		return candidate.Enabled
	}
	return candidate.ID < current.ID
}

func existingLabels(events []models.EventRecord) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Labels...)
	}
	return out
}

func mergeDelta(into map[string]*pendingDelta, delta models.LabelDelta) {
	if delta.IsEmpty() || delta.EventID == "" {
		return
	}
	pd, ok := into[delta.EventID]
	if !ok {
		pd = &pendingDelta{add: make(map[string]struct{}), remove: make(map[string]struct{})}
		into[delta.EventID] = pd
	}
	for _, l := range delta.Add {
		pd.add[l] = struct{}{}
	}
	for _, l := range delta.Remove {
		pd.remove[l] = struct{}{}
	}
}

// flattenDeltas emits one delta per event. A label both added and removed
// for the same event is kept.
func flattenDeltas(pending map[string]*pendingDelta) []models.LabelDelta {
	out := make([]models.LabelDelta, 0, len(pending))
	for eventID, pd := range pending {
		for l := range pd.add {
			delete(pd.remove, l)
		}
		delta := models.LabelDelta{EventID: eventID, Add: sortedKeys(pd.add), Remove: sortedKeys(pd.remove)}
		if delta.IsEmpty() {
			continue
		}
		out = append(out, delta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortActions(actions []models.TimerAction) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Identity != actions[j].Identity {
			return identityLess(actions[i].Identity, actions[j].Identity)
		}
		return actions[i].TimerID < actions[j].TimerID
	})
}
