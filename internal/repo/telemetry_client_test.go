package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = data
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTelemetryTestClient(rt roundTripFunc) *TelemetryClient {
	client := NewTelemetryClient(TelemetryClientConfig{
		BaseURL:  "https://telemetry.example.com",
		APIKey:   "secret",
		ViewTTL:  time.Minute,
		RulesTTL: time.Minute,
	}, newStubCache(), nil)
	client.httpClient = newTestClient(rt)
	return client
}

func TestResolveViewCachesResults(t *testing.T) {
	hits := 0
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.Method != http.MethodGet || req.URL.Path != "/api/v1/services/S1/views" {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if req.Header.Get("X-API-Key") != "secret" {
			t.Fatalf("missing api key header")
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"views": []map[string]any{{"id": 42, "name": "My Timers"}, {"id": "v2", "name": "All Events"}},
		}), nil
	})

	ctx := context.Background()
	view, err := client.ResolveView(ctx, "S1", "My Timers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.ID != "42" {
		t.Fatalf("expected numeric id to be kept as string, got %q", view.ID)
	}

	if _, err := client.ResolveView(ctx, "S1", "All Events"); err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if _, err := client.ResolveView(ctx, "S1", "Missing"); err == nil {
		t.Fatalf("expected error for unknown view")
	}
}

func TestFetchTransactionStatsAggregates(t *testing.T) {
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/services/S1/transactions/graph" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["view_id"] != "v1" || body["points"] != float64(12) || body["from"] != "2024-03-01T09:00:00.000Z" {
			t.Fatalf("unexpected request body: %v", body)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"graphs": []map[string]any{{
				"namespace": "pkg.Foo",
				"member":    "bar",
				"points": []map[string]any{
					{"time": "2024-03-01T09:05:00Z", "avg_time": 100.0, "invocations": 3},
					{"time": "2024-03-01T09:10:00Z", "avg_time": 200.0, "invocations": 1},
				},
			}},
		}), nil
	})

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	result, err := client.FetchTransactionStats(context.Background(), "S1", "v1", models.TimeRange{Start: start, End: start.Add(time.Hour)}, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats, ok := result[models.NewTransactionIdentity("pkg/Foo", "bar")]
	if !ok || stats.MeanLatencyMs != 125 || stats.InvocationCount != 4 {
		t.Fatalf("unexpected stats: %+v", result)
	}
}

func TestFetchEventsAndTimers(t *testing.T) {
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/api/v1/services/S1/events":
			return jsonResponse(t, http.StatusOK, map[string]any{
				"events": []map[string]any{
					{"id": "e1", "summary": "slow", "labels": []string{"Slowing"}, "entry_point": map[string]any{"namespace": "pkg.Foo", "member": "bar"}},
					{"id": "e2"},
				},
			}), nil
		case "/api/v1/services/S1/timers":
			return jsonResponse(t, http.StatusOK, map[string]any{
				"timers": []map[string]any{{"id": 7, "namespace": "pkg.Foo", "member": "bar", "threshold": 130, "enabled": true}},
			}), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})

	ctx := context.Background()
	events, err := client.FetchEvents(ctx, "S1", "v1", models.TimeRange{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].EntryPoint == nil || events[1].EntryPoint != nil || !events[0].HasLabel("Slowing") {
		t.Fatalf("unexpected events: %+v", events)
	}

	timers, err := client.FetchTimers(ctx, "S1")
	if err != nil {
		t.Fatalf("timers: %v", err)
	}
	if len(timers) != 1 || timers[0].ID != "7" || timers[0].Identity.Namespace != "pkg/Foo" || timers[0].ThresholdMs != 130 {
		t.Fatalf("unexpected timers: %+v", timers)
	}
}

func TestFetchRedactionRulesAbsent(t *testing.T) {
	hits := 0
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(t, http.StatusNotFound, nil), nil
	})

	for i := 0; i < 2; i++ {
		rules, err := client.FetchRedactionRules(context.Background(), "S1")
		if err != nil {
			t.Fatalf("404 must mean absent rules, got %v", err)
		}
		if rules != nil {
			t.Fatalf("expected nil rules, got %+v", rules)
		}
	}
	if hits != 1 {
		t.Fatalf("absent rules should be cached; hits=%d", hits)
	}
}

func TestFetchRedactionRulesError(t *testing.T) {
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadGateway, nil), nil
	})
	if _, err := client.FetchRedactionRules(context.Background(), "S1"); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestTimerDispatchUsesNumericIDs(t *testing.T) {
	var paths []string
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.URL.Path)
		data, _ := io.ReadAll(req.Body)
		if strings.HasSuffix(req.URL.Path, "/toggle") && !strings.Contains(string(data), `"enable":false`) {
			t.Fatalf("unexpected toggle body: %s", data)
		}
		return jsonResponse(t, http.StatusCreated, nil), nil
	})

	ctx := context.Background()
	if err := client.CreateTimer(ctx, "S1", models.NewTransactionIdentity("pkg.Foo", "bar"), 130); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := client.UpdateTimer(ctx, "S1", "7", 140); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := client.DisableTimer(ctx, "S1", "7"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	want := []string{"/api/v1/services/S1/timers", "/api/v1/services/S1/timers/7", "/api/v1/services/S1/timers/7/toggle"}
	if strings.Join(paths, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected paths: %v", paths)
	}

	err := client.UpdateTimer(ctx, "S1", "abc", 10)
	if !errors.Is(err, utils.ErrDispatchFailure) {
		t.Fatalf("expected dispatch failure for non-numeric id, got %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("non-numeric id must not reach the remote API")
	}
}

func TestEnsureLabelsToleratesConflict(t *testing.T) {
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		var body map[string]string
		_ = json.NewDecoder(req.Body).Decode(&body)
		switch body["name"] {
		case "Slowing":
			return jsonResponse(t, http.StatusConflict, nil), nil
		case "Broken":
			return jsonResponse(t, http.StatusInternalServerError, nil), nil
		}
		return jsonResponse(t, http.StatusOK, nil), nil
	})

	ctx := context.Background()
	if err := client.EnsureLabels(ctx, "S1", []string{"Slowing", "Critical"}); err != nil {
		t.Fatalf("409 must count as success: %v", err)
	}
	err := client.EnsureLabels(ctx, "S1", []string{"Broken", "Critical"})
	if !errors.Is(err, utils.ErrDispatchFailure) {
		t.Fatalf("expected dispatch failure, got %v", err)
	}
}

func TestApplyLabelDeltasBatch(t *testing.T) {
	var body struct {
		HandleSimilar bool `json:"handle_similar_events"`
		Modifications []struct {
			EventID string   `json:"event_id"`
			Add     []string `json:"add"`
			Remove  []string `json:"remove"`
		} `json:"modifications"`
	}
	client := newTelemetryTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/services/S1/labels/batch" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return jsonResponse(t, http.StatusOK, nil), nil
	})

	err := client.ApplyLabelDeltas(context.Background(), "S1", []models.LabelDelta{{EventID: "e1", Add: []string{"Critical"}}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if body.HandleSimilar || len(body.Modifications) != 1 || body.Modifications[0].Remove == nil {
		t.Fatalf("unexpected batch body: %+v", body)
	}
}
