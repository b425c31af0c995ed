package contracts

import "time"

// ReviewAction is the decision a reviewer records on a submission under review.
type ReviewAction string

const (
	ReviewApprove        ReviewAction = "approve"
	ReviewReject         ReviewAction = "reject"
	ReviewRequestChanges ReviewAction = "request_changes"
)

// FieldComment points a requested change at a single field.
type FieldComment struct {
	FieldPath      string `json:"fieldPath"`
	Comment        string `json:"comment"`
	SuggestedValue any    `json:"suggestedValue,omitempty"`
}

// ReviewDecision is one immutable entry in a submission's review history.
//
// Reason is mandatory for reject; FieldComments is mandatory and non-empty
// for request_changes.
type ReviewDecision struct {
	Action        ReviewAction   `json:"action"`
	Actor         Actor          `json:"actor"`
	Timestamp     time.Time      `json:"timestamp"`
	Comment       string         `json:"comment,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	FieldComments []FieldComment `json:"fieldComments,omitempty"`
}

func (d ReviewDecision) clone() ReviewDecision {
	if d.FieldComments != nil {
		fc := make([]FieldComment, len(d.FieldComments))
		copy(fc, d.FieldComments)
		d.FieldComments = fc
	}
	return d
}
