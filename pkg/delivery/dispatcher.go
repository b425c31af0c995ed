package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// Lifecycle is the part of the submission manager delivery drives.
type Lifecycle interface {
	Get(ctx context.Context, id string) (*contracts.Submission, error)
	Finalize(ctx context.Context, id, token string, actor contracts.Actor, receipt map[string]any) (*contracts.Submission, error)
	RecordDeliveryFailure(ctx context.Context, id string, actor contracts.Actor, reason string, attempt int) error
}

// Actor is attributed to finalize and delivery.failed events.
var Actor = contracts.Actor{Kind: contracts.ActorSystem, ID: "delivery", Name: "delivery"}

// Dispatcher schedules and performs deliveries.
type Dispatcher struct {
	lifecycle Lifecycle
	outbox    Outbox
	deliverer Deliverer

	logger   *slog.Logger
	clock    func() time.Time
	policy   Policy
	workerID string
	workers  int
	lease    time.Duration
	batch    int
	interval time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }
func WithClock(clock func() time.Time) Option { return func(d *Dispatcher) { d.clock = clock } }
func WithPolicy(p Policy) Option { return func(d *Dispatcher) { d.policy = p } }
func WithWorkerID(id string) Option { return func(d *Dispatcher) { d.workerID = id } }

// WithWorkers sets how many goroutines Run polls with.
func WithWorkers(n int) Option { return func(d *Dispatcher) { d.workers = n } }

// WithPollInterval sets how often idle workers look for due jobs.
func WithPollInterval(iv time.Duration) Option { return func(d *Dispatcher) { d.interval = iv } }

// NewDispatcher creates a dispatcher. A nil deliverer means NopDeliverer.
func NewDispatcher(lifecycle Lifecycle, outbox Outbox, deliverer Deliverer, opts ...Option) *Dispatcher {
	if deliverer == nil {
		deliverer = NopDeliverer{}
	}
	d := &Dispatcher{
		lifecycle: lifecycle,
		outbox:    outbox,
		deliverer: deliverer,
		logger:    slog.Default().With("component", "delivery"),
		clock:     time.Now,
		policy:    DefaultPolicy,
		workerID:  "delivery",
		workers:   1,
		lease:     time.Minute,
		batch:     16,
		interval:  time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe implements submission.Observer. It schedules a job for every
// submission that becomes deliverable.
func (d *Dispatcher) Observe(ctx context.Context, sub *contracts.Submission, ev contracts.Event) {
	if ev.Type != contracts.EventSubmissionSubmitted && ev.Type != contracts.EventReviewApproved {
		return
	}
	now := d.clock()
	err := d.outbox.Schedule(ctx, Job{
		SubmissionID: sub.ID,
		EventID:      ev.EventID,
		Status:       StatusPending,
		ScheduledAt:  now,
		NextAttempt:  now,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to schedule delivery", "submission_id", sub.ID, "error", err)
		return
	}
	d.logger.DebugContext(ctx, "delivery scheduled", "submission_id", sub.ID, "event", ev.Type)
}

// DeliverableLister lists the ids of submissions waiting for delivery.
type DeliverableLister interface {
	ListDeliverable(ctx context.Context) ([]string, error)
}

// Recover schedules every submission l reports. It rebuilds an outbox that
// does not survive restarts from a store that does. Already scheduled
// submissions are left alone.
func (d *Dispatcher) Recover(ctx context.Context, l DeliverableLister) (int, error) {
	ids, err := l.ListDeliverable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list deliverable submissions: %w", err)
	}
	now := d.clock()
	for _, id := range ids {
		err := d.outbox.Schedule(ctx, Job{
			SubmissionID: id,
			EventID:      "recovered",
			Status:       StatusPending,
			ScheduledAt:  now,
			NextAttempt:  now,
		})
		if err != nil {
			return 0, fmt.Errorf("schedule %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range max(d.workers, 1) {
		worker := fmt.Sprintf("%s-%d", d.workerID, i)
		g.Go(func() error {
			ticker := time.NewTicker(d.interval)
			defer ticker.Stop()
			for {
				if _, err := d.deliverDue(ctx, worker); err != nil {
					d.logger.ErrorContext(ctx, "delivery poll failed", "worker", worker, "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// DeliverDue performs every job that is due now and returns how many jobs
// it handled.
func (d *Dispatcher) DeliverDue(ctx context.Context) (int, error) {
	return d.deliverDue(ctx, d.workerID)
}

func (d *Dispatcher) deliverDue(ctx context.Context, worker string) (int, error) {
	jobs, err := d.outbox.Lease(ctx, worker, d.clock(), d.lease, d.batch)
	if err != nil {
		return 0, fmt.Errorf("lease jobs: %w", err)
	}
	for _, job := range jobs {
		if err := d.deliver(ctx, job); err != nil {
			d.logger.ErrorContext(ctx, "delivery bookkeeping failed", "submission_id", job.SubmissionID, "error", err)
		}
	}
	return len(jobs), nil
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) error {
	sub, err := d.lifecycle.Get(ctx, job.SubmissionID)
	if err != nil {
		if se, ok := submission.AsError(err); ok {
			return d.outbox.Fail(ctx, job.SubmissionID, se.Message)
		}
		return d.retry(ctx, job, err.Error())
	}
	switch sub.State {
	case contracts.StateSubmitted, contracts.StateApproved:
	case contracts.StateFinalized:
		return d.outbox.Complete(ctx, job.SubmissionID)
	default:
		d.logger.InfoContext(ctx, "submission no longer deliverable",
			"submission_id", sub.ID, "state", sub.State)
		return d.outbox.Fail(ctx, job.SubmissionID, "submission is "+string(sub.State))
	}

	receipt, derr := d.deliverer.Deliver(ctx, sub)
	if derr != nil {
		attempt := job.Attempts + 1
		if err := d.lifecycle.RecordDeliveryFailure(ctx, sub.ID, Actor, derr.Error(), attempt); err != nil {
			d.logger.WarnContext(ctx, "failed to record delivery failure", "submission_id", sub.ID, "error", err)
		}
		if attempt >= d.policy.MaxAttempts {
			d.logger.ErrorContext(ctx, "delivery abandoned", "submission_id", sub.ID, "attempts", attempt, "error", derr)
			return d.outbox.Fail(ctx, sub.ID, derr.Error())
		}
		return d.retry(ctx, job, derr.Error())
	}

	if _, err := d.lifecycle.Finalize(ctx, sub.ID, sub.VersionToken, Actor, receipt); err != nil {
		if se, ok := submission.AsError(err); ok && se.Type == contracts.ErrConflict {
			// Moved between Get and Finalize; the next attempt re-reads it.
			return d.outbox.Retry(ctx, sub.ID, d.clock(), err.Error())
		}
		return d.retry(ctx, job, err.Error())
	}
	d.logger.InfoContext(ctx, "submission delivered", "submission_id", sub.ID, "attempts", job.Attempts+1)
	return d.outbox.Complete(ctx, sub.ID)
}

func (d *Dispatcher) retry(ctx context.Context, job Job, reason string) error {
	next := d.clock().Add(d.policy.Backoff(job.SubmissionID, job.Attempts))
	return d.outbox.Retry(ctx, job.SubmissionID, next, reason)
}
