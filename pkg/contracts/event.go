package contracts

import "time"

// EventType names one kind of lifecycle occurrence.
type EventType string

const (
	EventSubmissionCreated   EventType = "submission.created"
	EventFieldUpdated        EventType = "field.updated"
	EventSubmissionSubmitted EventType = "submission.submitted"
	EventReviewRequested     EventType = "review.requested"
	EventReviewApproved      EventType = "review.approved"
	EventReviewRejected      EventType = "review.rejected"
	EventSubmissionCancelled EventType = "submission.cancelled"
	EventSubmissionExpired   EventType = "submission.expired"
	EventSubmissionFinalized EventType = "submission.finalized"
	EventDeliveryFailed      EventType = "delivery.failed"
)

// Event is an immutable audit record of one lifecycle occurrence.
// EventID is unique and sorts in emission order within a submission.
type Event struct {
	EventID      string         `json:"eventId"`
	Type         EventType      `json:"type"`
	SubmissionID string         `json:"submissionId"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        Actor          `json:"actor"`
	State        State          `json:"state"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// FieldChange records one path written by a field.updated event.
type FieldChange struct {
	Path     string `json:"path"`
	Previous any    `json:"previous,omitempty"`
	Value    any    `json:"value"`
}
