package engine

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-timers/internal/metrics"
	"github.com/miradorstack/mirador-timers/internal/models"
)

// Dispatcher executes plan actions against the remote service. Timer ids are
// opaque strings here.
type Dispatcher interface {
	CreateTimer(ctx context.Context, serviceID string, identity models.TransactionIdentity, thresholdMs int64) error
	UpdateTimer(ctx context.Context, serviceID, timerID string, thresholdMs int64) error
	DisableTimer(ctx context.Context, serviceID, timerID string) error
	EnsureLabels(ctx context.Context, serviceID string, names []string) error
	ApplyLabelDeltas(ctx context.Context, serviceID string, deltas []models.LabelDelta) error
	ForceSnapshots(ctx context.Context, serviceID string, eventIDs []string) error
}

// Apply dispatches plan in fixed group order: creates, updates, disables,
// labels, then forced snapshots. Nothing is retried. A failed call is
// recorded and the remaining calls still run.
func Apply(ctx context.Context, d Dispatcher, serviceID string, plan models.Plan, logger *slog.Logger) []models.DispatchFailure {
	if logger == nil {
		logger = slog.Default()
	}
	var failures []models.DispatchFailure
	record := func(group models.DispatchGroup, target string, err error) {
		if err == nil {
			return
		}
		logger.Warn("dispatch call failed",
			slog.String("service_id", serviceID),
			slog.String("group", string(group)),
			slog.String("target", target),
			slog.Any("error", err))
		metrics.IncDispatchFailure(string(group))
		failures = append(failures, models.DispatchFailure{Group: group, Target: target, Error: err.Error()})
	}

	for _, a := range plan.Creates {
		record(models.GroupCreate, a.Identity.String(), d.CreateTimer(ctx, serviceID, a.Identity, a.ThresholdMs))
	}
	for _, a := range plan.Updates {
		record(models.GroupUpdate, a.TimerID, d.UpdateTimer(ctx, serviceID, a.TimerID, a.ThresholdMs))
	}
	for _, a := range plan.Disables {
		record(models.GroupDisable, a.TimerID, d.DisableTimer(ctx, serviceID, a.TimerID))
	}
	if len(plan.LabelsToCreate) > 0 {
		record(models.GroupLabels, "create", d.EnsureLabels(ctx, serviceID, plan.LabelsToCreate))
	}
	if len(plan.LabelDeltas) > 0 {
		record(models.GroupLabels, "batch", d.ApplyLabelDeltas(ctx, serviceID, plan.LabelDeltas))
	}
	if len(plan.ForcedSnapshots) > 0 {
		record(models.GroupSnapshots, "batch", d.ForceSnapshots(ctx, serviceID, plan.ForcedSnapshots))
	}
	return failures
}
