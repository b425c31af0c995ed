package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/intake/pkg/delivery"
)

const outboxSchema = `
CREATE TABLE IF NOT EXISTS delivery_outbox (
	submission_id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	scheduled_at TEXT NOT NULL,
	next_attempt TEXT NOT NULL,
	leased_by TEXT NOT NULL DEFAULT '',
	leased_until TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT ''
);`

// SQLOutbox implements delivery.Outbox. Leases are taken row by row with a
// guarded UPDATE, so two workers never hold the same job.
type SQLOutbox struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLOutbox(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLOutbox, error) {
	if _, err := db.ExecContext(ctx, outboxSchema); err != nil {
		return nil, fmt.Errorf("migrate delivery_outbox: %w", err)
	}
	return &SQLOutbox{db: db, dialect: dialect}, nil
}

func (o *SQLOutbox) Schedule(ctx context.Context, job delivery.Job) error {
	next := job.NextAttempt
	if next.IsZero() {
		next = job.ScheduledAt
	}
	query := `
		INSERT INTO delivery_outbox (submission_id, event_id, status, scheduled_at, next_attempt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	_, err := o.db.ExecContext(ctx, o.dialect.Rebind(query),
		job.SubmissionID, job.EventID, string(delivery.StatusPending),
		job.ScheduledAt.UTC().Format(timeLayout), next.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to schedule delivery: %w", err)
	}
	return nil
}

func (o *SQLOutbox) Lease(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]delivery.Job, error) {
	ts := now.UTC().Format(timeLayout)
	query := `
		SELECT submission_id FROM delivery_outbox
		WHERE status = ? AND next_attempt <= ? AND leased_until <= ?
		ORDER BY next_attempt ASC, submission_id ASC
		LIMIT ?`
	rows, err := o.db.QueryContext(ctx, o.dialect.Rebind(query), string(delivery.StatusPending), ts, ts, limit)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	until := now.Add(lease).UTC().Format(timeLayout)
	claim := `
		UPDATE delivery_outbox
		SET leased_by = ?, leased_until = ?
		WHERE submission_id = ? AND status = ? AND leased_until <= ?`
	jobs := make([]delivery.Job, 0, len(candidates))
	for _, id := range candidates {
		res, err := o.db.ExecContext(ctx, o.dialect.Rebind(claim), workerID, until, id, string(delivery.StatusPending), ts)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			// Another worker got there first.
			continue
		}
		job, err := o.get(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (o *SQLOutbox) get(ctx context.Context, id string) (delivery.Job, error) {
	query := `
		SELECT submission_id, event_id, status, attempts, scheduled_at, next_attempt, leased_by, leased_until, last_error
		FROM delivery_outbox WHERE submission_id = ?`
	var (
		job                                  delivery.Job
		status, scheduled, next, leasedUntil string
	)
	err := o.db.QueryRowContext(ctx, o.dialect.Rebind(query), id).Scan(
		&job.SubmissionID, &job.EventID, &status, &job.Attempts, &scheduled, &next, &job.LeasedBy, &leasedUntil, &job.LastError)
	if err != nil {
		return delivery.Job{}, err
	}
	job.Status = delivery.Status(status)
	job.ScheduledAt = parseTime(scheduled)
	job.NextAttempt = parseTime(next)
	job.LeasedUntil = parseTime(leasedUntil)
	return job, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (o *SQLOutbox) Complete(ctx context.Context, submissionID string) error {
	return o.exec(ctx, `UPDATE delivery_outbox SET status = ?, leased_by = '', leased_until = '' WHERE submission_id = ?`,
		string(delivery.StatusDone), submissionID)
}

func (o *SQLOutbox) Retry(ctx context.Context, submissionID string, next time.Time, lastErr string) error {
	return o.exec(ctx, `
		UPDATE delivery_outbox
		SET attempts = attempts + 1, next_attempt = ?, last_error = ?, leased_by = '', leased_until = ''
		WHERE submission_id = ?`,
		next.UTC().Format(timeLayout), lastErr, submissionID)
}

func (o *SQLOutbox) Fail(ctx context.Context, submissionID string, lastErr string) error {
	return o.exec(ctx, `UPDATE delivery_outbox SET status = ?, last_error = ?, leased_by = '', leased_until = '' WHERE submission_id = ?`,
		string(delivery.StatusDead), lastErr, submissionID)
}

func (o *SQLOutbox) exec(ctx context.Context, query string, args ...any) error {
	res, err := o.db.ExecContext(ctx, o.dialect.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return delivery.ErrUnknownJob
	}
	return nil
}
