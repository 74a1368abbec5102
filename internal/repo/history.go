package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryStore keeps cycle reports in SQLite or Postgres as JSON payloads.
type HistoryStore struct {
	db       *sql.DB
	postgres bool
}

// NewHistoryStore opens the history database. Driver is "sqlite" (default)
// or "postgres"; for sqlite the DSN is a file path.
func NewHistoryStore(ctx context.Context, driver, dsn string) (*HistoryStore, error) {
	store := &HistoryStore{}
	switch strings.ToLower(driver) {
	case "", "sqlite":
		if dsn == "" {
			dsn = "mirador-timers.db"
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		store.db = db
	case "postgres", "pgx":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store.db = db
		store.postgres = true
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	if err := store.db.PingContext(ctx); err != nil {
		_ = store.db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := store.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cycle_reports (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		payload TEXT NOT NULL
	)`); err != nil {
		_ = store.db.Close()
		return nil, fmt.Errorf("create cycle_reports table: %w", err)
	}
	return store, nil
}

// RecordReport inserts or replaces a cycle report.
func (s *HistoryStore) RecordReport(ctx context.Context, report models.CycleReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO cycle_reports (id, service_id, started_at, outcome, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET outcome = excluded.outcome, payload = excluded.payload`),
		report.ID, report.ServiceID, report.StartedAt.UnixNano(), string(report.Outcome), string(payload))
	if err != nil {
		return fmt.Errorf("store report %s: %w", report.ID, err)
	}
	return nil
}

// ListReports returns reports newest first. The page token is an opaque offset.
func (s *HistoryStore) ListReports(ctx context.Context, req models.ListCyclesRequest) (models.ListCyclesResponse, error) {
	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	offset := 0
	if req.PageToken != "" {
		n, err := strconv.Atoi(req.PageToken)
		if err != nil || n < 0 {
			return models.ListCyclesResponse{}, utils.ConfigurationError("list reports", fmt.Sprintf("invalid page token %q", req.PageToken), err)
		}
		offset = n
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT payload FROM cycle_reports
		WHERE (? = '' OR service_id = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`), req.ServiceID, req.ServiceID, size+1, offset)
	if err != nil {
		return models.ListCyclesResponse{}, fmt.Errorf("select reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []models.CycleReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return models.ListCyclesResponse{}, fmt.Errorf("scan: %w", err)
		}
		var report models.CycleReport
		if err := json.Unmarshal([]byte(payload), &report); err != nil {
			return models.ListCyclesResponse{}, fmt.Errorf("decode report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return models.ListCyclesResponse{}, err
	}

	resp := models.ListCyclesResponse{Cycles: reports}
	if len(reports) > size {
		resp.Cycles = reports[:size]
		resp.NextPageToken = strconv.Itoa(offset + size)
	}
	return resp, nil
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *HistoryStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
