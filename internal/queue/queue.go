// Package queue is the local durable mutation log. Every state transition
// is committed to SQLite before the call returns, so a process restart
// mid-sync loses nothing: unacknowledged mutations are still there and get
// drained on the next online transition.
package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrDuplicateKey is returned when an idempotency key is enqueued twice.
var ErrDuplicateKey = errors.New("idempotency key already queued")

// Queue owns the SQLite handle. SQLite allows a single writer, so the
// connection pool is pinned to one connection.
type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at path and applies the schema.
// Safe to call repeatedly against the same file.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply queue schema: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue persists a new mutation with status pending. The record's Seq is
// filled in from the insert. Fails on storage errors and on idempotency
// key reuse; neither is retried here.
func (q *Queue) Enqueue(ctx context.Context, rec *models.MutationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = models.StatusPending

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO mutations (idempotency_key, entity_type, entity_id, operation, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.IdempotencyKey, rec.EntityType, rec.EntityID, rec.Operation,
		string(rec.Payload), rec.Status, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, rec.IdempotencyKey)
		}
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read mutation seq: %w", err)
	}
	rec.Seq = seq
	return nil
}

// ListUnresolved returns all pending and terminally failed mutations in
// seq order, optionally filtered to one entity. The orchestrator needs
// failed records too: a terminally failed create must hold back later
// mutations for the same entity rather than let them jump ahead.
func (q *Queue) ListUnresolved(ctx context.Context, entityID string) ([]models.MutationRecord, error) {
	query := `
		SELECT seq, idempotency_key, entity_type, entity_id, operation, payload,
		       status, attempts, last_attempt_at, next_attempt_at, last_error, created_at
		FROM mutations
		WHERE status IN ('pending', 'inFlight', 'failed')`
	args := []any{}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY seq"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []models.MutationRecord
	for rows.Next() {
		var rec models.MutationRecord
		var payload string
		var lastAttempt, nextAttempt sql.NullTime
		if err := rows.Scan(&rec.Seq, &rec.IdempotencyKey, &rec.EntityType, &rec.EntityID,
			&rec.Operation, &payload, &rec.Status, &rec.Attempts,
			&lastAttempt, &nextAttempt, &rec.LastError, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		rec.Payload = []byte(payload)
		if lastAttempt.Valid {
			t := lastAttempt.Time
			rec.LastAttemptAt = &t
		}
		if nextAttempt.Valid {
			t := nextAttempt.Time
			rec.NextAttemptAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkInFlight transitions a pending mutation before it is sent.
func (q *Queue) MarkInFlight(ctx context.Context, keys []string) error {
	now := time.Now().UTC()
	for _, key := range keys {
		_, err := q.db.ExecContext(ctx,
			"UPDATE mutations SET status = ?, last_attempt_at = ? WHERE idempotency_key = ? AND status = ?",
			models.StatusInFlight, now, key, models.StatusPending)
		if err != nil {
			return fmt.Errorf("failed to mark in flight: %w", err)
		}
	}
	return nil
}

// MarkAcknowledged removes an acknowledged mutation. Calling it twice, or
// for an unknown key, is a no-op.
func (q *Queue) MarkAcknowledged(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM mutations WHERE idempotency_key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to acknowledge mutation: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. While attempts remain the record
// goes back to pending with a retry time; past the ceiling it becomes
// terminally failed and is never retried automatically.
func (q *Queue) MarkFailed(ctx context.Context, key, errMsg string, nextAttemptAt *time.Time, terminal bool) error {
	now := time.Now().UTC()
	status := models.StatusPending
	if terminal {
		status = models.StatusFailed
	}
	var next any
	if nextAttemptAt != nil {
		next = nextAttemptAt.UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE mutations
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?, next_attempt_at = ?, last_error = ?
		WHERE idempotency_key = ?`,
		status, now, next, errMsg, key)
	if err != nil {
		return fmt.Errorf("failed to mark mutation failed: %w", err)
	}
	return nil
}

// RequeueInFlight returns inFlight mutations to pending. Called on
// startup: a pass abandoned by a crash is safe to resend because the
// server deduplicates on idempotency key.
func (q *Queue) RequeueInFlight(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE mutations SET status = ? WHERE status = ?",
		models.StatusPending, models.StatusInFlight)
	if err != nil {
		return fmt.Errorf("failed to requeue in-flight mutations: %w", err)
	}
	return nil
}

// PendingCount counts mutations still awaiting acknowledgement.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mutations WHERE status IN ('pending', 'inFlight')").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return n, nil
}

// TerminalFailures returns mutations that exhausted their retries and need
// manual intervention.
func (q *Queue) TerminalFailures(ctx context.Context) ([]models.MutationRecord, error) {
	all, err := q.ListUnresolved(ctx, "")
	if err != nil {
		return nil, err
	}
	var failed []models.MutationRecord
	for _, rec := range all {
		if rec.Status == models.StatusFailed {
			failed = append(failed, rec)
		}
	}
	return failed, nil
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint failures in the message; matching on it
	// avoids importing driver internals.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
