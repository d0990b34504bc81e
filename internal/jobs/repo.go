// Package jobs is a durable job queue backed by the admin database, plus a
// runner that polls it and dispatches to registered handlers.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

var ErrNotFound = errors.New("job not found")

const defaultMaxAttempts = 3

// timeFormat is fixed width so stored timestamps compare as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"runAt"`
	Payload     []byte     `json:"payload"`
	Status      Status     `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	LockedAt    *time.Time `json:"lockedAt,omitempty"`
	DedupeKey   string     `json:"dedupeKey,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// LastAttempt reports whether a failure of the current run is final.
func (j Job) LastAttempt() bool {
	return j.Attempt+1 >= j.MaxAttempts
}

// Repo is the persistence behind the queue.
type Repo interface {
	// Enqueue inserts a job. When dedupeKey is set and a job with that key
	// is queued, running or done, its id is returned instead.
	Enqueue(ctx context.Context, kind string, runAt time.Time, payload []byte, dedupeKey string) (string, error)
	// ClaimDue marks up to limit due queued jobs as running and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Complete(ctx context.Context, id string) error
	// Fail records errMsg and requeues the job at nextRunAt, or marks it
	// failed once attempts are used up.
	Fail(ctx context.Context, id, errMsg string, nextRunAt time.Time) error
	Cancel(ctx context.Context, id string) error
	// RequeueStale resets jobs running since before staleBefore.
	RequeueStale(ctx context.Context, staleBefore time.Time) (int, error)
	Get(ctx context.Context, id string) (*Job, error)
}

var _ Repo = (*SQLRepo)(nil)

// SQLRepo implements Repo on the jobs table.
type SQLRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db, now: time.Now}
}

func (r *SQLRepo) Enqueue(ctx context.Context, kind string, runAt time.Time, payload []byte, dedupeKey string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning enqueue: %w", err)
	}
	defer tx.Rollback()

	if dedupeKey != "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE dedupe_key = ? AND status NOT IN ('failed', 'canceled') ORDER BY created_at DESC LIMIT 1`,
			dedupeKey,
		).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("dedupe check: %w", err)
		}
	}

	id := uuid.NewString()
	now := formatTime(r.now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		id, kind, formatTime(runAt), string(payload), defaultMaxAttempts, nullIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing enqueue: %w", err)
	}
	return id, nil
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

func (r *SQLRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due jobs: %w", err)
	}
	var due []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating due jobs: %w", err)
	}
	rows.Close()

	// A job is ours only if the conditional update flipped it.
	lockedAt := now.UTC()
	var claimed []Job
	for _, j := range due {
		res, err := r.db.ExecContext(ctx,
			`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ? AND status = 'queued'`,
			formatTime(lockedAt), formatTime(lockedAt), j.ID,
		)
		if err != nil {
			return claimed, fmt.Errorf("claiming job %s: %w", j.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		j.Status = StatusRunning
		j.LockedAt = &lockedAt
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (r *SQLRepo) Complete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`,
		formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return expectRow(res)
}

func (r *SQLRepo) Fail(ctx context.Context, id, errMsg string, nextRunAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail: %w", err)
	}
	defer tx.Rollback()

	var attempt, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempt, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempt, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up job: %w", err)
	}

	now := formatTime(r.now())
	attempt++
	if attempt >= maxAttempts {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'failed', attempt = ?, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'queued', attempt = ?, last_error = ?, run_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, formatTime(nextRunAt), now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("updating failed job: %w", err)
	}
	return tx.Commit()
}

func (r *SQLRepo) Cancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = ? WHERE id = ? AND status IN ('queued', 'running')`,
		formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("canceling job: %w", err)
	}
	return expectRow(res)
}

func (r *SQLRepo) RequeueStale(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		formatTime(r.now()), formatTime(staleBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLRepo) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		j                       Job
		runAt, created, updated string
		payload                 string
		status                  string
		lockedAt, dedupe        sql.NullString
	)
	err := s.Scan(&j.ID, &j.Kind, &runAt, &payload, &status, &j.Attempt, &j.MaxAttempts,
		&j.LastError, &lockedAt, &dedupe, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, err
		}
		return j, fmt.Errorf("scanning job: %w", err)
	}
	j.RunAt = parseTime(runAt)
	j.Payload = []byte(payload)
	j.Status = Status(status)
	if lockedAt.Valid {
		t := parseTime(lockedAt.String)
		j.LockedAt = &t
	}
	j.DedupeKey = dedupe.String
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return j, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
