// Package delivery is the collaborator that moves submitted and approved
// submissions to finalized.
//
// The Dispatcher observes submission.submitted and review.approved events
// and records a Job in an Outbox. Workers lease due jobs, hand the
// submission to a Deliverer and, on success, call the submission manager's
// Finalize entry point. Failures are recorded as delivery.failed events and
// retried with backoff until the attempt budget runs out.
package delivery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status of an outbox job.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Job is one pending delivery. There is at most one job per submission.
type Job struct {
	SubmissionID string    `json:"submissionId"`
	EventID      string    `json:"eventId"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	NextAttempt  time.Time `json:"nextAttempt"`
	LeasedBy     string    `json:"leasedBy,omitempty"`
	LeasedUntil  time.Time `json:"leasedUntil,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// Outbox persists delivery jobs.
//
// Lease must be atomic: a job handed to one worker is not handed to another
// until its lease lapses.
type Outbox interface {
	// Schedule records job. Scheduling a submission twice is a no-op.
	Schedule(ctx context.Context, job Job) error
	Lease(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]Job, error)
	Complete(ctx context.Context, submissionID string) error
	// Retry releases the lease and counts a failed attempt.
	Retry(ctx context.Context, submissionID string, next time.Time, lastErr string) error
	// Fail gives up on the job.
	Fail(ctx context.Context, submissionID string, lastErr string) error
}

// MemoryOutbox is an in-process Outbox.
type MemoryOutbox struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{jobs: make(map[string]*Job)}
}

func (o *MemoryOutbox) Schedule(_ context.Context, job Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.jobs[job.SubmissionID]; ok {
		return nil
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.NextAttempt.IsZero() {
		job.NextAttempt = job.ScheduledAt
	}
	o.jobs[job.SubmissionID] = &job
	return nil
}

func (o *MemoryOutbox) Lease(_ context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	due := make([]*Job, 0)
	for _, j := range o.jobs {
		if j.Status == StatusPending && !j.NextAttempt.After(now) && !j.LeasedUntil.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].NextAttempt.Equal(due[b].NextAttempt) {
			return due[a].NextAttempt.Before(due[b].NextAttempt)
		}
		return due[a].SubmissionID < due[b].SubmissionID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		j.LeasedBy = workerID
		j.LeasedUntil = now.Add(lease)
		out = append(out, *j)
	}
	return out, nil
}

func (o *MemoryOutbox) Complete(_ context.Context, submissionID string) error {
	return o.update(submissionID, func(j *Job) {
		j.Status = StatusDone
		j.LeasedBy, j.LeasedUntil = "", time.Time{}
	})
}

func (o *MemoryOutbox) Retry(_ context.Context, submissionID string, next time.Time, lastErr string) error {
	return o.update(submissionID, func(j *Job) {
		j.Attempts++
		j.NextAttempt = next
		j.LastError = lastErr
		j.LeasedBy, j.LeasedUntil = "", time.Time{}
	})
}

func (o *MemoryOutbox) Fail(_ context.Context, submissionID string, lastErr string) error {
	return o.update(submissionID, func(j *Job) {
		j.Status = StatusDead
		j.LastError = lastErr
		j.LeasedBy, j.LeasedUntil = "", time.Time{}
	})
}

func (o *MemoryOutbox) update(id string, fn func(*Job)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	fn(j)
	return nil
}

// Job returns a copy of the job for a submission.
func (o *MemoryOutbox) Job(submissionID string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[submissionID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
