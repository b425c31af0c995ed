package delivery_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intake/pkg/approval"
	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/delivery"
	"github.com/Mindburn-Labs/intake/pkg/submission/submissiontest"
)

type harness struct {
	*submissiontest.Fixture
	outbox     *delivery.MemoryOutbox
	dispatcher *delivery.Dispatcher
}

func newHarness(t *testing.T, d delivery.Deliverer, opts ...delivery.Option) *harness {
	t.Helper()
	f := submissiontest.New(t)
	outbox := delivery.NewMemoryOutbox()
	all := append([]delivery.Option{delivery.WithClock(f.Clock.Now)}, opts...)
	disp := delivery.NewDispatcher(f.Manager, outbox, d, all...)
	f.Manager.AddObserver(disp)
	return &harness{Fixture: f, outbox: outbox, dispatcher: disp}
}

func TestDispatcher_FinalizesSubmitted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sub := h.Submitted(t, "profile")

	job, ok := h.outbox.Job(sub.ID)
	require.True(t, ok)
	assert.Equal(t, delivery.StatusPending, job.Status)
	assert.Equal(t, sub.Events[len(sub.Events)-1].EventID, job.EventID)

	n, err := h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.Manager.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalized, got.State)
	ev := got.Events[len(got.Events)-1]
	assert.Equal(t, delivery.Actor, ev.Actor)
	assert.Equal(t, "nop", ev.Payload["deliverer"])

	job, _ = h.outbox.Job(sub.ID)
	assert.Equal(t, delivery.StatusDone, job.Status)

	n, err = h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_WaitsForApproval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	reviews := approval.NewManager(h.Manager)
	sub := h.Submitted(t, "kyc")

	_, ok := h.outbox.Job(sub.ID)
	assert.False(t, ok, "review requests are not deliverable")

	approved, err := reviews.Approve(ctx, sub.ID, sub.VersionToken, submissiontest.Reviewer, "")
	require.NoError(t, err)
	_, ok = h.outbox.Job(sub.ID)
	require.True(t, ok)

	_, err = h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)
	got, err := h.Manager.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalized, got.State)
}

func TestDispatcher_RetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	flaky := delivery.DelivererFunc(func(context.Context, *contracts.Submission) (map[string]any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("downstream 503")
		}
		return map[string]any{"ok": true}, nil
	})
	policy := delivery.Policy{Base: time.Second, Max: time.Minute, MaxAttempts: 3}
	h := newHarness(t, flaky, delivery.WithPolicy(policy))
	ctx := context.Background()
	sub := h.Submitted(t, "profile")

	_, err := h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)

	job, _ := h.outbox.Job(sub.ID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "downstream 503", job.LastError)
	assert.Equal(t, submissiontest.Start.Add(time.Second), job.NextAttempt)

	got, err := h.Manager.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateSubmitted, got.State)
	assert.Equal(t, sub.VersionToken, got.VersionToken, "a failed delivery does not rotate the token")
	assert.Equal(t, contracts.EventDeliveryFailed, got.Events[len(got.Events)-1].Type)

	n, err := h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due before the backoff elapses")

	h.Clock.Advance(time.Second)
	_, err = h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)
	got, err = h.Manager.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalized, got.State)
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	down := delivery.DelivererFunc(func(context.Context, *contracts.Submission) (map[string]any, error) {
		return nil, errors.New("connection refused")
	})
	h := newHarness(t, down, delivery.WithPolicy(delivery.Policy{Base: time.Second, Max: time.Second, MaxAttempts: 2}))
	ctx := context.Background()
	sub := h.Submitted(t, "profile")

	for range 2 {
		_, err := h.dispatcher.DeliverDue(ctx)
		require.NoError(t, err)
		h.Clock.Advance(time.Minute)
	}

	job, _ := h.outbox.Job(sub.ID)
	assert.Equal(t, delivery.StatusDead, job.Status)
	assert.Equal(t, []contracts.EventType{
		contracts.EventSubmissionCreated,
		contracts.EventSubmissionSubmitted,
		contracts.EventDeliveryFailed,
		contracts.EventDeliveryFailed,
	}, h.EventTypes(sub.ID))
}

func TestDispatcher_DropsCancelledSubmissions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sub := h.Submitted(t, "profile")

	_, err := h.Manager.Cancel(ctx, sub.ID, sub.VersionToken, submissiontest.Human, "changed my mind")
	require.NoError(t, err)

	_, err = h.dispatcher.DeliverDue(ctx)
	require.NoError(t, err)
	job, _ := h.outbox.Job(sub.ID)
	assert.Equal(t, delivery.StatusDead, job.Status)
	assert.Equal(t, "submission is cancelled", job.LastError)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, delivery.WithWorkers(2), delivery.WithPollInterval(5*time.Millisecond))
	sub := h.Submitted(t, "profile")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, _ := h.outbox.Job(sub.ID)
		return job.Status == delivery.StatusDone
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryOutbox_LeaseExclusive(t *testing.T) {
	o := delivery.NewMemoryOutbox()
	ctx := context.Background()
	now := submissiontest.Start

	require.NoError(t, o.Schedule(ctx, delivery.Job{SubmissionID: "b", EventID: "e2", ScheduledAt: now}))
	require.NoError(t, o.Schedule(ctx, delivery.Job{SubmissionID: "a", EventID: "e1", ScheduledAt: now}))
	require.NoError(t, o.Schedule(ctx, delivery.Job{SubmissionID: "a", EventID: "e3", ScheduledAt: now}))

	jobs, err := o.Lease(ctx, "w1", now, time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].SubmissionID)
	assert.Equal(t, "e1", jobs[0].EventID)

	jobs, err = o.Lease(ctx, "w2", now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].SubmissionID)

	jobs, err = o.Lease(ctx, "w3", now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "lapsed leases are handed out again")

	assert.ErrorIs(t, o.Complete(ctx, "zzz"), delivery.ErrUnknownJob)
}

func TestPolicy_Backoff(t *testing.T) {
	p := delivery.Policy{Base: time.Second, Max: 10 * time.Second, MaxJitter: 500 * time.Millisecond}

	for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second} {
		d := p.Backoff("sub-1", attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+p.MaxJitter)
		assert.Equal(t, d, p.Backoff("sub-1", attempt), "jitter is deterministic")
	}
	assert.GreaterOrEqual(t, p.Backoff("x", 100), 10*time.Second, "large attempts are capped, not overflowed")
	assert.LessOrEqual(t, p.Backoff("x", 100), 10*time.Second+p.MaxJitter)

	noJitter := delivery.Policy{Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Second, noJitter.Backoff("x", -3))
}

type listerFunc func(context.Context) ([]string, error)

func (f listerFunc) ListDeliverable(ctx context.Context) ([]string, error) { return f(ctx) }

func TestDispatcher_RecoverReschedulesAfterRestart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sub := h.Submitted(t, "profile")

	// A fresh process starts with an empty outbox.
	outbox := delivery.NewMemoryOutbox()
	disp := delivery.NewDispatcher(h.Manager, outbox, nil, delivery.WithClock(h.Clock.Now))
	n, err := disp.DeliverDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	recovered, err := disp.Recover(ctx, listerFunc(func(context.Context) ([]string, error) {
		return []string{sub.ID}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	n, err = disp.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := h.Manager.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalized, got.State)

	_, err = disp.Recover(ctx, listerFunc(func(context.Context) ([]string, error) {
		return nil, errors.New("scan failed")
	}))
	assert.Error(t, err)
}
