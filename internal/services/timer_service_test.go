package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-timers/internal/config"
	"github.com/miradorstack/mirador-timers/internal/engine"
	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

type runnerStub struct {
	mu       sync.Mutex
	requests []models.CycleRequest
	errs     map[string]error
}

func (r *runnerStub) RunCycle(ctx context.Context, req models.CycleRequest) (models.CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if err := r.errs[req.ServiceID]; err != nil {
		return models.CycleReport{ServiceID: req.ServiceID, Outcome: models.OutcomeFailed}, err
	}
	return models.CycleReport{ID: "c-" + req.ServiceID, ServiceID: req.ServiceID, Outcome: models.OutcomeApplied, Created: 1}, nil
}

type historyStub struct {
	req models.ListCyclesRequest
	err error
}

func (h *historyStub) ListReports(ctx context.Context, req models.ListCyclesRequest) (models.ListCyclesResponse, error) {
	h.req = req
	if h.err != nil {
		return models.ListCyclesResponse{}, h.err
	}
	return models.ListCyclesResponse{Cycles: []models.CycleReport{{ID: "c1"}}, NextPageToken: "1"}, nil
}

func cycleRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestRunCycle(t *testing.T) {
	runner := &runnerStub{}
	service := NewTimerService(nil, runner, nil)

	resp, err := service.RunCycle(context.Background(), cycleRequest(t, map[string]any{"service_id": "S1", "view_id": "v1", "dry_run": true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["id"].GetStringValue() != "c-S1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(runner.requests) != 1 || !runner.requests[0].DryRun {
		t.Fatalf("unexpected runner requests: %+v", runner.requests)
	}
}

func TestRunCycleMapsErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		code codes.Code
	}{
		"config":    {utils.ConfigurationError("op", "bad", nil), codes.InvalidArgument},
		"telemetry": {utils.TelemetryError("op", "down", nil), codes.Unavailable},
		"lease":     {engine.ErrCycleInProgress, codes.Aborted},
		"other":     {errors.New("boom"), codes.Internal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			service := NewTimerService(nil, &runnerStub{errs: map[string]error{"S1": tc.err}}, nil)
			_, err := service.RunCycle(context.Background(), cycleRequest(t, map[string]any{"service_id": "S1", "view_id": "v1"}))
			if status.Code(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestRunCycleMissingView(t *testing.T) {
	service := NewTimerService(nil, &runnerStub{}, nil)
	_, err := service.RunCycle(context.Background(), cycleRequest(t, map[string]any{"service_id": "S1"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestListCycles(t *testing.T) {
	history := &historyStub{}
	service := NewTimerService(nil, nil, history)

	resp, err := service.ListCycles(context.Background(), cycleRequest(t, map[string]any{"service_id": "S1", "page_size": 5}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.req.ServiceID != "S1" || history.req.PageSize != 5 {
		t.Fatalf("unexpected history request: %+v", history.req)
	}
	if resp.GetFields()["next_page_token"].GetStringValue() != "1" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestListCyclesWithoutHistory(t *testing.T) {
	service := NewTimerService(nil, nil, nil)
	_, err := service.ListCycles(context.Background(), cycleRequest(t, map[string]any{}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	resp, err := NewTimerService(nil, nil, nil).HealthCheck(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != "SERVING" {
		t.Fatalf("unexpected status: %v", resp)
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	runner := &runnerStub{errs: map[string]error{
		"S2": utils.TelemetryError("fetch", "down", nil),
		"S3": engine.ErrCycleInProgress,
	}}
	scheduler := NewScheduler(nil, runner, config.SchedulerConfig{
		Concurrency: 2,
		Targets: []config.Target{
			{ServiceID: "S1", ViewID: "v1"},
			{ServiceID: "S2", ViewID: "v2"},
			{ServiceID: "S3", ViewID: "v3"},
		},
	}, true)

	err := scheduler.RunOnce(context.Background())
	if !errors.Is(err, utils.ErrTelemetryUnavailable) {
		t.Fatalf("expected joined telemetry error, got %v", err)
	}
	if errors.Is(err, engine.ErrCycleInProgress) {
		t.Fatalf("held leases must not count as failures")
	}
	if len(runner.requests) != 3 {
		t.Fatalf("expected every target to run, got %d", len(runner.requests))
	}
	for _, req := range runner.requests {
		if !req.DryRun {
			t.Fatalf("dry-run flag must propagate: %+v", req)
		}
	}
}

func TestSchedulerRunRequiresInterval(t *testing.T) {
	scheduler := NewScheduler(nil, &runnerStub{}, config.SchedulerConfig{}, false)
	if err := scheduler.Run(context.Background()); err == nil {
		t.Fatalf("expected error without interval")
	}
}
