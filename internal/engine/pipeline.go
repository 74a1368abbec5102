package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-timers/internal/cache"
	"github.com/miradorstack/mirador-timers/internal/metrics"
	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

// DefaultTimersView is the view whose events receive labels and snapshots.
const DefaultTimersView = "My Timers"

// ErrCycleInProgress is returned when another runner holds the service lease.
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

// TelemetrySource defines the telemetry reads a cycle needs.
type TelemetrySource interface {
	ResolveView(ctx context.Context, serviceID, name string) (models.View, error)
	FetchTransactionStats(ctx context.Context, serviceID, viewID string, window models.TimeRange, points int) (map[models.TransactionIdentity]models.TransactionStats, error)
	FetchEvents(ctx context.Context, serviceID, viewID string, window models.TimeRange) ([]models.EventRecord, error)
	FetchTimers(ctx context.Context, serviceID string) ([]models.Timer, error)
	FetchRedactionRules(ctx context.Context, serviceID string) (*models.ExclusionRules, error)
}

// ReportRecorder persists finished cycle reports.
type ReportRecorder interface {
	RecordReport(ctx context.Context, report models.CycleReport) error
}

// PipelineOptions carries the optional collaborators of a pipeline.
type PipelineOptions struct {
	TimersView string
	Lease      cache.Provider
	LeaseTTL   time.Duration
	Gates      *GateEngine
	Recorders  []ReportRecorder
	Clock      func() time.Time
}

// Pipeline runs reconciliation cycles end to end.
type Pipeline struct {
	logger     *slog.Logger
	source     TelemetrySource
	dispatcher Dispatcher
	reconciler *Reconciler
	timersView string
	lease      cache.Provider
	leaseTTL   time.Duration
	gates      *GateEngine
	recorders  []ReportRecorder
	clock      func() time.Time
	tracer     trace.Tracer
}

// NewPipeline constructs a cycle pipeline.
func NewPipeline(logger *slog.Logger, source TelemetrySource, dispatcher Dispatcher, reconciler *Reconciler, opts PipelineOptions) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TimersView == "" {
		opts.TimersView = DefaultTimersView
	}
	if opts.Lease == nil {
		opts.Lease = cache.NoopProvider{}
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		logger:     logger,
		source:     source,
		dispatcher: dispatcher,
		reconciler: reconciler,
		timersView: opts.TimersView,
		lease:      opts.Lease,
		leaseTTL:   opts.LeaseTTL,
		gates:      opts.Gates,
		recorders:  opts.Recorders,
		clock:      opts.Clock,
		tracer:     otel.Tracer("mirador-timers/pipeline"),
	}
}

// RunCycle executes one reconciliation cycle. Fatal errors abort before any
// dispatch; the returned report then has outcome failed and the error set.
// Dispatch failures do not fail the cycle and are listed in the report.
func (p *Pipeline) RunCycle(ctx context.Context, req models.CycleRequest) (models.CycleReport, error) {
	if p.source == nil || p.reconciler == nil {
		return models.CycleReport{}, utils.ConfigurationError("run cycle", "pipeline not configured", nil)
	}
	if req.ServiceID == "" || req.ViewID == "" {
		return models.CycleReport{}, utils.ConfigurationError("run cycle", "service_id and view_id are required", nil)
	}
	if !req.DryRun && p.dispatcher == nil {
		return models.CycleReport{}, utils.ConfigurationError("run cycle", "dispatcher not configured", nil)
	}
	if err := p.reconciler.Policy().Validate(); err != nil {
		return models.CycleReport{}, utils.ConfigurationError("run cycle", "invalid policy", err)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run_cycle", trace.WithAttributes(
		attribute.String("service.id", req.ServiceID),
		attribute.String("view.id", req.ViewID),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer span.End()

	started := p.clock()
	report := models.CycleReport{
		ID:        uuid.NewString(),
		ServiceID: req.ServiceID,
		ViewID:    req.ViewID,
		StartedAt: started.UTC(),
		DryRun:    req.DryRun,
	}

	leaseKey := "mirador-timers:lease:" + req.ServiceID
	acquired, err := p.lease.SetNX(ctx, leaseKey, []byte(report.ID), p.leaseTTL)
	if err != nil {
		return report, fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		return report, ErrCycleInProgress
	}
	defer func() {
		if err := p.lease.Del(context.WithoutCancel(ctx), leaseKey); err != nil {
			p.logger.Warn("failed to release cycle lease", slog.String("service_id", req.ServiceID), slog.Any("error", err))
		}
	}()

	cycleErr := p.execute(ctx, req, &report)
	report.FinishedAt = p.clock().UTC()
	if cycleErr != nil {
		report.Outcome = models.OutcomeFailed
		report.Error = cycleErr.Error()
		span.RecordError(cycleErr)
		span.SetStatus(codes.Error, cycleErr.Error())
		p.logger.Error("reconciliation cycle failed",
			slog.String("service_id", req.ServiceID),
			slog.String("cycle_id", report.ID),
			slog.Any("error", cycleErr))
	} else {
		p.logger.Info("reconciliation cycle finished",
			slog.String("service_id", req.ServiceID),
			slog.String("cycle_id", report.ID),
			slog.String("outcome", string(report.Outcome)),
			slog.Int("created", report.Created),
			slog.Int("updated", report.Updated),
			slog.Int("disabled", report.Disabled),
			slog.Int("failures", len(report.Failures)))
	}
	span.SetAttributes(attribute.String("outcome", string(report.Outcome)))

	p.record(ctx, report)
	metrics.ObserveCycle(report.FinishedAt.Sub(report.StartedAt), string(report.Outcome))
	return report, cycleErr
}

func (p *Pipeline) execute(ctx context.Context, req models.CycleRequest, report *models.CycleReport) error {
	policy := p.reconciler.Policy()
	now := req.Now
	if now.IsZero() {
		now = p.clock()
	}
	activeRange := models.TimeRange{Start: now.Add(-policy.ActiveTimespan), End: now}
	baselineRange := models.TimeRange{Start: now.Add(-policy.BaselineTimespan), End: now}

	view, err := p.source.ResolveView(ctx, req.ServiceID, p.timersView)
	if err != nil {
		return utils.TelemetryError("resolve view", fmt.Sprintf("label-target view %q unavailable", p.timersView), err)
	}

	active, err := p.source.FetchTransactionStats(ctx, req.ServiceID, req.ViewID, activeRange, policy.ActivePointResolution)
	if err != nil {
		return utils.TelemetryError("fetch active stats", "active window unavailable", err)
	}
	if len(active) == 0 {
		p.logger.Info("no active transactions", slog.String("service_id", req.ServiceID))
		report.Outcome = models.OutcomeNoop
		return nil
	}

	baseline, err := p.source.FetchTransactionStats(ctx, req.ServiceID, req.ViewID, baselineRange, policy.BaselinePointResolution)
	if err != nil {
		return utils.TelemetryError("fetch baseline stats", "baseline window unavailable", err)
	}
	events, err := p.source.FetchEvents(ctx, req.ServiceID, view.ID, baselineRange)
	if err != nil {
		return utils.TelemetryError("fetch events", "events unavailable", err)
	}
	timers, err := p.source.FetchTimers(ctx, req.ServiceID)
	if err != nil {
		return utils.TelemetryError("fetch timers", "timers unavailable", err)
	}
	rules, err := p.source.FetchRedactionRules(ctx, req.ServiceID)
	if err != nil {
		return utils.TelemetryError("fetch redaction rules", "redaction rules unavailable", err)
	}

	plan, err := p.reconciler.Reconcile(ctx, Inputs{
		Active:   active,
		Baseline: baseline,
		Events:   events,
		Timers:   timers,
		Rules:    rules,
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	fingerprint, err := Fingerprint(plan)
	if err != nil {
		return err
	}
	report.Fingerprint = fingerprint
	report.Transactions = len(plan.Decisions)
	report.Created = len(plan.Creates)
	report.Updated = len(plan.Updates)
	report.Disabled = len(plan.Disables)
	report.LabelDeltas = len(plan.LabelDeltas)
	report.ForcedSnapshots = len(plan.ForcedSnapshots)

	metrics.AddTimerActions(string(models.ActionCreate), report.Created)
	metrics.AddTimerActions(string(models.ActionUpdate), report.Updated)
	metrics.AddTimerActions(string(models.ActionDisable), report.Disabled)

	switch {
	case req.DryRun:
		report.Outcome = models.OutcomeDryRun
	case plan.IsEmpty():
		report.Outcome = models.OutcomeNoop
	default:
		report.Failures = Apply(ctx, p.dispatcher, req.ServiceID, plan, p.logger)
		report.Outcome = models.OutcomeApplied
		if len(report.Failures) > 0 {
			report.Outcome = models.OutcomePartial
		}
	}

	report.Gates = p.gates.Evaluate(plan.Decisions)
	for _, g := range report.Gates {
		if g.Breached {
			metrics.IncGateBreach(g.ID)
			p.logger.Warn("quality gate breached",
				slog.String("service_id", req.ServiceID),
				slog.String("gate", g.ID),
				slog.String("desc", g.Desc),
				slog.Int("matches", g.Matches))
		}
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, report models.CycleReport) {
	for _, r := range p.recorders {
		if r == nil {
			continue
		}
		if err := r.RecordReport(ctx, report); err != nil {
			p.logger.Warn("failed to persist cycle report",
				slog.String("cycle_id", report.ID),
				slog.Any("error", err))
		}
	}
}
