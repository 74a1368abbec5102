package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-timers/internal/api"
	"github.com/miradorstack/mirador-timers/internal/engine"
	timersv1 "github.com/miradorstack/mirador-timers/internal/grpc/timersv1"
	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

// CycleRunner executes reconciliation cycles.
type CycleRunner interface {
	RunCycle(ctx context.Context, req models.CycleRequest) (models.CycleReport, error)
}

// CycleHistory lists persisted cycle reports.
type CycleHistory interface {
	ListReports(ctx context.Context, req models.ListCyclesRequest) (models.ListCyclesResponse, error)
}

// TimerService implements the gRPC TimerReconciler service.
type TimerService struct {
	timersv1.UnimplementedTimerReconcilerServer

	logger    *slog.Logger
	runner    CycleRunner
	history   CycleHistory
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewTimerService constructs the service facade.
func NewTimerService(logger *slog.Logger, runner CycleRunner, history CycleHistory) *TimerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerService{
		logger:    logger,
		runner:    runner,
		history:   history,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// RunCycle reconciles the timers of one service against its telemetry.
func (s *TimerService) RunCycle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	domainReq, err := api.FromProtoCycleRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("RunCycle called", slog.String("service_id", domainReq.ServiceID), slog.Bool("dry_run", domainReq.DryRun))

	start := time.Now()
	report, err := s.runner.RunCycle(ctx, domainReq)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("cycle failed", slog.String("service_id", domainReq.ServiceID), slog.Any("error", err))
		return nil, statusFromError(err)
	}

	s.latencies.Observe(domainReq.ServiceID, duration)
	if count := s.latencies.Count(domainReq.ServiceID); count >= 20 && count%20 == 0 {
		s.logger.Info("cycle latency",
			slog.String("service_id", domainReq.ServiceID),
			slog.Duration("p95", s.latencies.Percentile(domainReq.ServiceID, 95)),
			slog.Int("samples", count))
	}

	out, err := api.ToProtoCycleReport(report)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ListCycles returns persisted cycle reports, newest first.
func (s *TimerService) ListCycles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history store not configured")
	}

	domainReq, err := api.FromProtoListCyclesRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.history.ListReports(ctx, domainReq)
	if err != nil {
		s.logger.Error("list cycles failed", slog.Any("error", err))
		return nil, statusFromError(err)
	}

	out, err := api.ToProtoListCyclesResponse(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// HealthCheck returns the current health state.
func (s *TimerService) HealthCheck(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := api.ToProtoHealth("SERVING", s.now())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// LatencyP95 returns the current p95 cycle latency for a service.
func (s *TimerService) LatencyP95(serviceID string) time.Duration {
	return s.latencies.Percentile(serviceID, 95)
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, utils.ErrConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, engine.ErrCycleInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, utils.ErrTelemetryUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
