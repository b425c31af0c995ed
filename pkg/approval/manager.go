// Package approval records human review decisions on submissions that the
// approval gate routed to needs_review.
//
// Decisions run through submission.Manager.Apply, so they rotate the version
// token and obey the same stale-token and state rules as field writes.
// Reviewer notification is best-effort and never affects a recorded decision.
package approval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/schema"
	"github.com/Mindburn-Labs/intake/pkg/submission"
	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// Manager applies review decisions.
type Manager struct {
	subs     *submission.Manager
	notifier Notifier
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the reviewer notifier. A nil notifier is replaced by
// NopNotifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over subs and registers it as an observer so
// that reviewers are notified when a submission enters review.
func NewManager(subs *submission.Manager, opts ...Option) *Manager {
	m := &Manager{
		subs:     subs,
		notifier: NopNotifier{},
		logger:   slog.Default().With("component", "approval"),
	}
	for _, opt := range opts {
		opt(m)
	}
	subs.AddObserver(m)
	return m
}

// Approve moves a needs_review submission to approved.
func (m *Manager) Approve(ctx context.Context, id, token string, actor contracts.Actor, comment string) (*contracts.Submission, error) {
	return m.subs.Apply(ctx, id, token, submission.Mutation{
		Name:    "approve",
		Trigger: submission.TriggerApprove,
		Actor:   actor,
		Mutate: func(work *contracts.Submission, _ *schema.Definition) (submission.Outcome, error) {
			d := m.decision(contracts.ReviewApprove, actor, comment)
			work.ReviewDecisions = append(work.ReviewDecisions, d)
			return submission.Outcome{
				Event:   contracts.EventReviewApproved,
				Payload: decisionPayload(d),
			}, nil
		},
	})
}

// Reject moves a needs_review submission to rejected. reason is mandatory.
func (m *Manager) Reject(ctx context.Context, id, token string, actor contracts.Actor, reason, comment string) (*contracts.Submission, error) {
	return m.subs.Apply(ctx, id, token, submission.Mutation{
		Name:    "reject",
		Trigger: submission.TriggerReject,
		Actor:   actor,
		Mutate: func(work *contracts.Submission, _ *schema.Definition) (submission.Outcome, error) {
			if strings.TrimSpace(reason) == "" {
				return submission.Outcome{}, submission.MissingInput(work, "reason", "a rejection reason is required")
			}
			d := m.decision(contracts.ReviewReject, actor, comment)
			d.Reason = reason
			work.ReviewDecisions = append(work.ReviewDecisions, d)
			return submission.Outcome{
				Event:   contracts.EventReviewRejected,
				Payload: decisionPayload(d),
			}, nil
		},
	})
}

// RequestChanges sends a needs_review submission back to draft with
// per-field comments for the submitter.
func (m *Manager) RequestChanges(ctx context.Context, id, token string, actor contracts.Actor, fieldComments []contracts.FieldComment, comment string) (*contracts.Submission, error) {
	return m.subs.Apply(ctx, id, token, submission.Mutation{
		Name:    "request_changes",
		Trigger: submission.TriggerRequestChanges,
		Actor:   actor,
		Mutate: func(work *contracts.Submission, _ *schema.Definition) (submission.Outcome, error) {
			if len(fieldComments) == 0 {
				return submission.Outcome{}, submission.MissingInput(work, "fieldComments", "at least one field comment is required")
			}
			comments := make([]contracts.FieldComment, len(fieldComments))
			for i, fc := range fieldComments {
				p, err := validation.NormalizePath(fc.FieldPath)
				if err != nil {
					return submission.Outcome{}, submission.InvalidInput(work, "fieldComments", err.Error())
				}
				if strings.TrimSpace(fc.Comment) == "" {
					return submission.Outcome{}, submission.MissingInput(work, "fieldComments", "comment for "+p+" is empty")
				}
				fc.FieldPath = p
				comments[i] = fc
			}
			d := m.decision(contracts.ReviewRequestChanges, actor, comment)
			d.FieldComments = comments
			work.ReviewDecisions = append(work.ReviewDecisions, d)

			payload := map[string]any{
				"action":        string(contracts.ReviewRequestChanges),
				"fieldComments": comments,
			}
			if comment != "" {
				payload["comment"] = comment
			}
			return submission.Outcome{Event: contracts.EventFieldUpdated, Payload: payload}, nil
		},
	})
}

// NotifyReviewers tells reviewerIDs that sub awaits review. Failures are
// logged and swallowed.
func (m *Manager) NotifyReviewers(ctx context.Context, sub *contracts.Submission, reviewerIDs []string, reviewURL string) {
	if len(reviewerIDs) == 0 {
		return
	}
	n := Notification{
		SubmissionID: sub.ID,
		DefinitionID: sub.DefinitionID,
		ReviewerIDs:  reviewerIDs,
		ReviewURL:    reviewURL,
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.logger.WarnContext(ctx, "reviewer notification failed",
			"submission_id", sub.ID, "reviewers", reviewerIDs, "error", err)
	}
}

// Observe notifies reviewers on review.requested.
func (m *Manager) Observe(ctx context.Context, sub *contracts.Submission, ev contracts.Event) {
	if ev.Type != contracts.EventReviewRequested {
		return
	}
	reviewers, _ := ev.Payload["reviewers"].([]string)
	url, _ := ev.Payload["reviewUrl"].(string)
	m.NotifyReviewers(ctx, sub, reviewers, url)
}

func (m *Manager) decision(action contracts.ReviewAction, actor contracts.Actor, comment string) contracts.ReviewDecision {
	return contracts.ReviewDecision{
		Action:    action,
		Actor:     actor,
		Timestamp: m.subs.Now(),
		Comment:   comment,
	}
}

func decisionPayload(d contracts.ReviewDecision) map[string]any {
	p := map[string]any{"action": string(d.Action)}
	if d.Comment != "" {
		p["comment"] = d.Comment
	}
	if d.Reason != "" {
		p["reason"] = d.Reason
	}
	return p
}
