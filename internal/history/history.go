// Package history keeps an append-only log of every execution attempt.
// The state registry only holds the latest status of a job; the history
// answers "what happened to this molecule over time".
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/me/qcpipe/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so recorded_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Attempt is one finished execution of a job.
type Attempt struct {
	ID         string          `json:"id"`
	JobKey     string          `json:"job_key"`
	Molecule   string          `json:"molecule"`
	CalcType   model.CalcType  `json:"calc_type"`
	Attempt    int             `json:"attempt"`
	Outcome    model.Status    `json:"outcome"`
	ErrorType  model.ErrorType `json:"error_type,omitempty"`
	Message    string          `json:"message,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Hostname   string          `json:"hostname,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Recorder appends attempts. The completion handler depends on this
// interface only.
type Recorder interface {
	RecordAttempt(ctx context.Context, a *Attempt) error
}

// SQLiteHistory implements Recorder using SQLite.
type SQLiteHistory struct {
	db       *sql.DB
	hostname string
	logger   *slog.Logger
}

// NewSQLiteHistory opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteHistory(dbPath string, logger *slog.Logger) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode so `qcpipe history` can read while the pipeline writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	host, _ := os.Hostname()
	return &SQLiteHistory{
		db:       db,
		hostname: host,
		logger:   logger.With("component", "history"),
	}, nil
}

// Close closes the underlying database connection.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// Migrate creates all required tables and indexes.
func (h *SQLiteHistory) Migrate(ctx context.Context) error {
	h.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, h.db)
}

// RecordAttempt inserts a. Missing ID, timestamp and hostname are filled in.
func (h *SQLiteHistory) RecordAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = "att_" + uuid.New().String()
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}
	if a.Hostname == "" {
		a.Hostname = h.hostname
	}
	h.logger.Debug("sql", "op", "insert", "table", "attempts", "id", a.ID, "job_key", a.JobKey)

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO attempts (id, job_key, molecule, calc_type, attempt, outcome, error_type, message, duration_ms, hostname, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobKey, a.Molecule, string(a.CalcType), a.Attempt, string(a.Outcome),
		string(a.ErrorType), a.Message, a.Duration.Milliseconds(), a.Hostname,
		a.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.ID, err)
	}
	return nil
}

// ListByJob returns every attempt for jobKey, oldest first.
func (h *SQLiteHistory) ListByJob(ctx context.Context, jobKey string) ([]*Attempt, error) {
	h.logger.Debug("sql", "op", "select", "table", "attempts", "job_key", jobKey)
	return h.query(ctx,
		`SELECT id, job_key, molecule, calc_type, attempt, outcome, error_type, message, duration_ms, hostname, recorded_at
		 FROM attempts WHERE job_key = ? ORDER BY recorded_at ASC, attempt ASC`, jobKey)
}

// ListByMolecule returns every attempt for molecule, oldest first.
func (h *SQLiteHistory) ListByMolecule(ctx context.Context, molecule string) ([]*Attempt, error) {
	h.logger.Debug("sql", "op", "select", "table", "attempts", "molecule", molecule)
	return h.query(ctx,
		`SELECT id, job_key, molecule, calc_type, attempt, outcome, error_type, message, duration_ms, hostname, recorded_at
		 FROM attempts WHERE molecule = ? ORDER BY recorded_at ASC, attempt ASC`, molecule)
}

// ListRecent returns the newest attempts, newest first.
func (h *SQLiteHistory) ListRecent(ctx context.Context, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	h.logger.Debug("sql", "op", "list", "table", "attempts", "limit", limit)
	return h.query(ctx,
		`SELECT id, job_key, molecule, calc_type, attempt, outcome, error_type, message, duration_ms, hostname, recorded_at
		 FROM attempts ORDER BY recorded_at DESC, attempt DESC LIMIT ?`, limit)
}

// CountByOutcome returns the number of attempts per outcome.
func (h *SQLiteHistory) CountByOutcome(ctx context.Context) (map[model.Status]int, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM attempts GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[model.Status(outcome)] = n
	}
	return counts, rows.Err()
}

func (h *SQLiteHistory) query(ctx context.Context, q string, args ...any) ([]*Attempt, error) {
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		var calc, outcome, errType, recordedAt string
		var durationMS int64
		if err := rows.Scan(&a.ID, &a.JobKey, &a.Molecule, &calc, &a.Attempt, &outcome,
			&errType, &a.Message, &durationMS, &a.Hostname, &recordedAt); err != nil {
			return nil, err
		}
		a.CalcType = model.CalcType(calc)
		a.Outcome = model.Status(outcome)
		a.ErrorType = model.ErrorType(errType)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Nop is a Recorder that discards attempts. Used when no history database
// is configured.
type Nop struct{}

// RecordAttempt implements Recorder.
func (Nop) RecordAttempt(context.Context, *Attempt) error { return nil }

// ErrNoHistory is returned by read paths when history is disabled.
var ErrNoHistory = errors.New("attempt history is not configured")
