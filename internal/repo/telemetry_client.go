package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-timers/internal/cache"
	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/stats"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

// DefaultServicePath is the per-service API root; {service} is substituted.
const DefaultServicePath = "/api/v1/services/{service}"

// TelemetryClientConfig holds connection parameters for the telemetry API.
type TelemetryClientConfig struct {
	BaseURL     string
	APIKey      string
	ServicePath string
	Timeout     time.Duration
	ViewTTL     time.Duration
	RulesTTL    time.Duration
}

// StatusError is returned for non-2xx telemetry API responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telemetry api returned %s", e.Status)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// TelemetryClient reads transaction telemetry and applies timer and label
// changes through the telemetry API.
type TelemetryClient struct {
	baseURL     string
	apiKey      string
	servicePath string
	httpClient  *http.Client
	cache       cache.Provider
	viewTTL     time.Duration
	rulesTTL    time.Duration
	logger      *slog.Logger
}

// NewTelemetryClient constructs a client targeting the configured telemetry API.
func NewTelemetryClient(cfg TelemetryClientConfig, cacheProvider cache.Provider, logger *slog.Logger) *TelemetryClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServicePath == "" {
		cfg.ServicePath = DefaultServicePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelemetryClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		servicePath: cfg.ServicePath,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cache:       cacheProvider,
		viewTTL:     cfg.ViewTTL,
		rulesTTL:    cfg.RulesTTL,
		logger:      logger,
	}
}

// remoteID accepts ids encoded either as JSON strings or numbers.
type remoteID string

func (r *remoteID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = remoteID(n.String())
	return nil
}

// ResolveView finds a view of the service by exact name.
func (c *TelemetryClient) ResolveView(ctx context.Context, serviceID, name string) (models.View, error) {
	var views []models.View
	cacheKey := "timers:views:" + serviceID
	if !c.loadCache(ctx, cacheKey, &views) {
		var response struct {
			Views []struct {
				ID   remoteID `json:"id"`
				Name string   `json:"name"`
			} `json:"views"`
		}
		if err := c.getJSON(ctx, c.serviceURL(serviceID, "views"), &response); err != nil {
			return models.View{}, fmt.Errorf("telemetry views request failed: %w", err)
		}
		views = make([]models.View, 0, len(response.Views))
		for _, v := range response.Views {
			views = append(views, models.View{ID: string(v.ID), Name: v.Name})
		}
		c.storeCache(ctx, cacheKey, views, c.viewTTL)
	}

	for _, v := range views {
		if v.Name == name {
			return v, nil
		}
	}
	return models.View{}, fmt.Errorf("view %q not found for service %s", name, serviceID)
}

// FetchTransactionStats fetches transaction graphs for the window and
// aggregates them per normalized identity.
func (c *TelemetryClient) FetchTransactionStats(ctx context.Context, serviceID, viewID string, window models.TimeRange, points int) (map[models.TransactionIdentity]models.TransactionStats, error) {
	payload := map[string]any{
		"view_id": viewID,
		"from":    utils.FormatISOMillis(window.Start),
		"to":      utils.FormatISOMillis(window.End),
		"points":  points,
	}

	var response struct {
		Graphs []struct {
			Namespace string `json:"namespace"`
			Member    string `json:"member"`
			Points    []struct {
				Time        time.Time `json:"time"`
				AvgTime     float64   `json:"avg_time"`
				Invocations int64     `json:"invocations"`
			} `json:"points"`
		} `json:"graphs"`
	}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "transactions/graph"), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry graph request failed: %w", err)
	}

	graphs := make([]models.TransactionGraph, 0, len(response.Graphs))
	for _, g := range response.Graphs {
		graph := models.TransactionGraph{
			Identity: models.NewTransactionIdentity(g.Namespace, g.Member),
			Points:   make([]models.GraphPoint, 0, len(g.Points)),
		}
		for _, p := range g.Points {
			graph.Points = append(graph.Points, models.GraphPoint{Time: p.Time, AvgTimeMs: p.AvgTime, Invocations: p.Invocations})
		}
		graphs = append(graphs, graph)
	}
	return stats.AggregateGraphs(graphs), nil
}

// FetchEvents lists events captured in the view over the window.
func (c *TelemetryClient) FetchEvents(ctx context.Context, serviceID, viewID string, window models.TimeRange) ([]models.EventRecord, error) {
	payload := map[string]any{
		"view_id": viewID,
		"from":    utils.FormatISOMillis(window.Start),
		"to":      utils.FormatISOMillis(window.End),
	}

	var response struct {
		Events []struct {
			ID         remoteID `json:"id"`
			Summary    string   `json:"summary"`
			Labels     []string `json:"labels"`
			EntryPoint *struct {
				Namespace string `json:"namespace"`
				Member    string `json:"member"`
			} `json:"entry_point"`
		} `json:"events"`
	}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "events"), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry events request failed: %w", err)
	}

	events := make([]models.EventRecord, 0, len(response.Events))
	for _, e := range response.Events {
		record := models.EventRecord{ID: string(e.ID), Summary: e.Summary, Labels: e.Labels}
		if e.EntryPoint != nil {
			record.EntryPoint = &models.EntryPoint{Namespace: e.EntryPoint.Namespace, Member: e.EntryPoint.Member}
		}
		events = append(events, record)
	}
	return events, nil
}

// FetchTimers lists every timer configured for the service.
func (c *TelemetryClient) FetchTimers(ctx context.Context, serviceID string) ([]models.Timer, error) {
	var response struct {
		Timers []struct {
			ID        remoteID `json:"id"`
			Namespace string   `json:"namespace"`
			Member    string   `json:"member"`
			Threshold int64    `json:"threshold"`
			Enabled   bool     `json:"enabled"`
		} `json:"timers"`
	}
	if err := c.getJSON(ctx, c.serviceURL(serviceID, "timers"), &response); err != nil {
		return nil, fmt.Errorf("telemetry timers request failed: %w", err)
	}

	timers := make([]models.Timer, 0, len(response.Timers))
	for _, t := range response.Timers {
		timers = append(timers, models.Timer{
			ID:          string(t.ID),
			Identity:    models.NewTransactionIdentity(t.Namespace, t.Member),
			ThresholdMs: t.Threshold,
			Enabled:     t.Enabled,
		})
	}
	return timers, nil
}

// FetchRedactionRules returns the service exclusion rules, or nil when none
// are configured.
func (c *TelemetryClient) FetchRedactionRules(ctx context.Context, serviceID string) (*models.ExclusionRules, error) {
	var rules *models.ExclusionRules
	cacheKey := "timers:redaction:" + serviceID
	if c.loadCache(ctx, cacheKey, &rules) {
		return rules, nil
	}

	var response struct {
		Packages []string `json:"packages"`
		Classes  []string `json:"classes"`
	}
	err := c.getJSON(ctx, c.serviceURL(serviceID, "redaction/exclude"), &response)
	switch {
	case IsStatus(err, http.StatusNotFound):
		rules = nil
	case err != nil:
		return nil, fmt.Errorf("telemetry redaction request failed: %w", err)
	default:
		rules = &models.ExclusionRules{PackagePrefixes: response.Packages, ClassNames: response.Classes}
	}

	c.storeCache(ctx, cacheKey, rules, c.rulesTTL)
	return rules, nil
}

// CreateTimer creates a timer for the transaction.
func (c *TelemetryClient) CreateTimer(ctx context.Context, serviceID string, identity models.TransactionIdentity, thresholdMs int64) error {
	payload := map[string]any{
		"namespace": identity.Namespace,
		"member":    identity.Member,
		"threshold": thresholdMs,
	}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "timers"), payload, nil); err != nil {
		return utils.DispatchError("create timer", identity.String(), err)
	}
	return nil
}

// UpdateTimer changes the threshold of an existing timer.
func (c *TelemetryClient) UpdateTimer(ctx context.Context, serviceID, timerID string, thresholdMs int64) error {
	id, err := numericTimerID(timerID)
	if err != nil {
		return utils.DispatchError("update timer", timerID, err)
	}
	payload := map[string]any{"threshold": thresholdMs}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "timers", strconv.Itoa(id)), payload, nil); err != nil {
		return utils.DispatchError("update timer", timerID, err)
	}
	return nil
}

// DisableTimer switches a timer off without deleting it.
func (c *TelemetryClient) DisableTimer(ctx context.Context, serviceID, timerID string) error {
	id, err := numericTimerID(timerID)
	if err != nil {
		return utils.DispatchError("disable timer", timerID, err)
	}
	payload := map[string]any{"enable": false}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "timers", strconv.Itoa(id), "toggle"), payload, nil); err != nil {
		return utils.DispatchError("disable timer", timerID, err)
	}
	return nil
}

// EnsureLabels creates each label. A label that already exists is not an error.
func (c *TelemetryClient) EnsureLabels(ctx context.Context, serviceID string, names []string) error {
	var errs []error
	for _, name := range names {
		err := c.postJSON(ctx, c.serviceURL(serviceID, "labels"), map[string]any{"name": name}, nil)
		if IsStatus(err, http.StatusConflict) {
			c.logger.Info("label already exists", slog.String("service_id", serviceID), slog.String("label", name))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("label %q: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return utils.DispatchError("create labels", serviceID, err)
	}
	return nil
}

// ApplyLabelDeltas sends all label changes in one batch request.
func (c *TelemetryClient) ApplyLabelDeltas(ctx context.Context, serviceID string, deltas []models.LabelDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	type modification struct {
		EventID string   `json:"event_id"`
		Add     []string `json:"add"`
		Remove  []string `json:"remove"`
	}
	mods := make([]modification, 0, len(deltas))
	for _, d := range deltas {
		mods = append(mods, modification{EventID: d.EventID, Add: nonNil(d.Add), Remove: nonNil(d.Remove)})
	}
	payload := map[string]any{
		"handle_similar_events": false,
		"modifications":         mods,
	}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "labels/batch"), payload, nil); err != nil {
		return utils.DispatchError("apply label deltas", serviceID, err)
	}
	return nil
}

// ForceSnapshots requests full snapshots for the given events.
func (c *TelemetryClient) ForceSnapshots(ctx context.Context, serviceID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	payload := map[string]any{"event_ids": eventIDs}
	if err := c.postJSON(ctx, c.serviceURL(serviceID, "events/force-snapshots"), payload, nil); err != nil {
		return utils.DispatchError("force snapshots", serviceID, err)
	}
	return nil
}

// numericTimerID converts an opaque timer id for endpoints that address timers numerically.
func numericTimerID(timerID string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(timerID))
	if err != nil {
		return 0, fmt.Errorf("timer id %q is not numeric: %w", timerID, err)
	}
	return id, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (c *TelemetryClient) serviceURL(serviceID string, parts ...string) string {
	if c.baseURL == "" {
		return ""
	}
	root := strings.ReplaceAll(c.servicePath, "{service}", serviceID)
	cleaned := "/" + strings.TrimLeft(path.Join(append([]string{root}, parts...)...), "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *TelemetryClient) loadCache(ctx context.Context, key string, out any) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("telemetry cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *TelemetryClient) storeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, ttl); err != nil {
		c.logger.Debug("telemetry cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *TelemetryClient) getJSON(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *TelemetryClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, payload, out)
}

func (c *TelemetryClient) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("telemetry client not initialised")
	}
	if endpoint == "" {
		return fmt.Errorf("telemetry base URL not configured")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
