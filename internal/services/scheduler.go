package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-timers/internal/config"
	"github.com/miradorstack/mirador-timers/internal/engine"
	"github.com/miradorstack/mirador-timers/internal/models"
)

// Scheduler runs a cycle for every configured target on a fixed interval.
type Scheduler struct {
	logger      *slog.Logger
	runner      CycleRunner
	targets     []config.Target
	interval    time.Duration
	concurrency int
	dryRun      bool
}

// NewScheduler builds a scheduler over the configured targets.
func NewScheduler(logger *slog.Logger, runner CycleRunner, cfg config.SchedulerConfig, dryRun bool) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		logger:      logger,
		runner:      runner,
		targets:     append([]config.Target(nil), cfg.Targets...),
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		dryRun:      dryRun,
	}
}

// Run executes a pass immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("scheduled pass had failures", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs one cycle per target with bounded parallelism. Fatal cycle
// errors are joined; a target whose lease is held elsewhere is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, target := range s.targets {
		if ctx.Err() != nil {
			break
		}
		target := target
		g.Go(func() error {
			report, err := s.runner.RunCycle(ctx, models.CycleRequest{
				ServiceID: target.ServiceID,
				ViewID:    target.ViewID,
				DryRun:    s.dryRun,
			})
			switch {
			case errors.Is(err, engine.ErrCycleInProgress):
				s.logger.Info("cycle skipped, lease held", slog.String("service_id", target.ServiceID))
			case err != nil:
				mu.Lock()
				errs = append(errs, fmt.Errorf("service %s: %w", target.ServiceID, err))
				mu.Unlock()
			default:
				s.logger.Info("cycle finished",
					slog.String("service_id", target.ServiceID),
					slog.String("cycle_id", report.ID),
					slog.String("outcome", string(report.Outcome)),
					slog.Int("created", report.Created),
					slog.Int("updated", report.Updated),
					slog.Int("disabled", report.Disabled),
					slog.Int("failures", len(report.Failures)))
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
