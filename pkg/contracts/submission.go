// Package contracts defines the data model shared by the submission runtime:
// submissions and their lifecycle states, actors, review decisions, audit
// events, and the structured error vocabulary returned to callers.
//
// Everything in this package is plain data. Behaviour lives in the
// submission, approval and validation packages.
package contracts

import (
	"time"
)

// State is the lifecycle state of a submission.
type State string

const (
	StateDraft       State = "draft"
	StateInProgress  State = "in_progress"
	StateSubmitted   State = "submitted"
	StateNeedsReview State = "needs_review"
	StateApproved    State = "approved"
	StateRejected    State = "rejected"
	StateFinalized   State = "finalized"
	StateCancelled   State = "cancelled"
	StateExpired     State = "expired"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateDraft,
	StateInProgress,
	StateSubmitted,
	StateNeedsReview,
	StateApproved,
	StateRejected,
	StateFinalized,
	StateCancelled,
	StateExpired,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further mutation is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateFinalized, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Submission is the mutable root entity: one data-collection instance.
//
// VersionToken identifies the exact snapshot a caller last observed. Every
// mutating call must present it and every successful mutation replaces it.
type Submission struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId"`
	State        State  `json:"state"`
	VersionToken string `json:"versionToken"`

	// Fields maps dot-paths to values. Last write wins.
	Fields map[string]any `json:"fields"`
	// FieldAttribution holds the most recent writer of each path.
	FieldAttribution map[string]Actor `json:"fieldAttribution"`

	CreatedBy Actor     `json:"createdBy"`
	UpdatedBy Actor     `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	ReviewDecisions []ReviewDecision `json:"reviewDecisions,omitempty"`
	Events          []Event          `json:"events,omitempty"`
}

// Expired reports whether the submission's TTL has elapsed at now.
func (s *Submission) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy so that stores and callers never share maps or
// slices with the manager's working copy.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = cloneValue(v)
	}
	c.FieldAttribution = make(map[string]Actor, len(s.FieldAttribution))
	for k, v := range s.FieldAttribution {
		c.FieldAttribution[k] = v
	}
	if s.ReviewDecisions != nil {
		c.ReviewDecisions = make([]ReviewDecision, len(s.ReviewDecisions))
		for i, d := range s.ReviewDecisions {
			c.ReviewDecisions[i] = d.clone()
		}
	}
	if s.Events != nil {
		c.Events = make([]Event, len(s.Events))
		copy(c.Events, s.Events)
	}
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
