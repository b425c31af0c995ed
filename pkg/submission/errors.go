package submission

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// Error is the typed outcome of a call that failed for a reason the caller
// can act on. Anything else returned by the managers is a hard failure of
// the store or the event sink.
type Error struct {
	Type         contracts.ErrorType
	Message      string
	SubmissionID string
	State        contracts.State
	Summary      string
	Fields       []contracts.FieldError
	NextActions  []contracts.NextAction
	Retryable    bool

	cause error
}

func (e *Error) Error() string {
	if e.SubmissionID != "" {
		return fmt.Sprintf("%s: submission %s: %s", e.Type, e.SubmissionID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Envelope converts e to its wire shape.
func (e *Error) Envelope() contracts.ErrorEnvelope {
	return contracts.ErrorEnvelope{
		ErrorType:    e.Type,
		Message:      e.Message,
		SubmissionID: e.SubmissionID,
		State:        e.State,
		Summary:      e.Summary,
		Fields:       e.Fields,
		NextActions:  e.NextActions,
		Retryable:    e.Retryable,
	}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func refetch(hint string, canRetry bool) contracts.NextAction {
	return contracts.NextAction{
		Action:   contracts.ActionRefetchSubmission,
		Hint:     hint,
		CanRetry: canRetry,
	}
}

func startOver(hint string) contracts.NextAction {
	return contracts.NextAction{
		Action:   contracts.ActionStartNewSubmission,
		Hint:     hint,
		CanRetry: false,
	}
}

// staleToken is returned when the presented token is not the stored one.
// canRetry is false when the caller re-sent values already stored, which
// would otherwise loop on the same failure.
func staleToken(sub *contracts.Submission, canRetry bool) *Error {
	return &Error{
		Type:         contracts.ErrConflict,
		Message:      "version token is stale; the submission was changed by another caller",
		SubmissionID: sub.ID,
		State:        sub.State,
		NextActions: []contracts.NextAction{
			refetch("Fetch the submission to obtain the current version token, then retry.", canRetry),
		},
		Retryable: canRetry,
		cause:     ErrVersionConflict,
	}
}

func illegalTransition(sub *contracts.Submission, t Trigger) *Error {
	return &Error{
		Type:         contracts.ErrConflict,
		Message:      fmt.Sprintf("cannot %s a submission in state %s", t.verb(), sub.State),
		SubmissionID: sub.ID,
		State:        sub.State,
		NextActions: []contracts.NextAction{
			refetch("Fetch the submission to see its current state before choosing the next operation.", false),
		},
	}
}

// expired discloses the submission id and nothing else.
func expired(id string) *Error {
	return &Error{
		Type:         contracts.ErrExpired,
		Message:      "submission has expired",
		SubmissionID: id,
		NextActions: []contracts.NextAction{
			startOver("The submission can no longer be changed. Start a new submission."),
		},
	}
}

func cancelled(sub *contracts.Submission) *Error {
	return &Error{
		Type:         contracts.ErrCancelled,
		Message:      "submission was cancelled",
		SubmissionID: sub.ID,
		State:        sub.State,
		NextActions: []contracts.NextAction{
			startOver("The submission was cancelled. Start a new submission."),
		},
	}
}

func needsApproval(sub *contracts.Submission, t Trigger) *Error {
	fields := []contracts.FieldError{{
		Code:    contracts.CodeApprovalRequired,
		Message: fmt.Sprintf("cannot %s a submission awaiting review", t.verb()),
	}}
	return &Error{
		Type:         contracts.ErrNeedsApproval,
		Message:      "submission is awaiting human review",
		SubmissionID: sub.ID,
		State:        sub.State,
		Summary:      validation.Summary(fields),
		Fields:       fields,
		NextActions:  validation.Guide(nil, fields),
		Retryable:    true,
	}
}

// notFound reports an id or token that matches nothing.
func notFound(what string) *Error {
	return &Error{
		Type:    contracts.ErrMissing,
		Message: what + " not found",
		NextActions: []contracts.NextAction{
			startOver("No submission matches. Check the identifier or start a new submission."),
		},
		cause: ErrNotFound,
	}
}

// MissingInput reports an absent call argument such as a reject reason.
func MissingInput(sub *contracts.Submission, field, message string) *Error {
	fields := []contracts.FieldError{{Path: field, Code: contracts.CodeRequired, Message: message}}
	e := &Error{
		Type:        contracts.ErrMissing,
		Message:     message,
		Summary:     validation.Summary(fields),
		Fields:      fields,
		NextActions: validation.Guide(nil, fields),
		Retryable:   true,
	}
	if sub != nil {
		e.SubmissionID, e.State = sub.ID, sub.State
	}
	return e
}

// InvalidInput reports a malformed call argument.
func InvalidInput(sub *contracts.Submission, field, message string) *Error {
	fields := []contracts.FieldError{{Path: field, Code: contracts.CodeInvalidValue, Message: message}}
	e := &Error{
		Type:        contracts.ErrInvalid,
		Message:     message,
		Summary:     validation.Summary(fields),
		Fields:      fields,
		NextActions: validation.Guide(nil, fields),
		Retryable:   true,
	}
	if sub != nil {
		e.SubmissionID, e.State = sub.ID, sub.State
	}
	return e
}

// unknownDefinition is the only way Create fails on caller input.
func unknownDefinition(id string, cause error) *Error {
	return &Error{
		Type:    contracts.ErrInvalid,
		Message: fmt.Sprintf("unknown definition %q", id),
		Fields: []contracts.FieldError{{
			Path:     "definitionId",
			Code:     contracts.CodeInvalidValue,
			Message:  "no form definition is registered under this id",
			Received: id,
		}},
		NextActions: []contracts.NextAction{{
			Action:   contracts.ActionContactSupport,
			Field:    "definitionId",
			Hint:     "Ask the form owner for a registered definition id.",
			CanRetry: false,
		}},
		cause: cause,
	}
}

// validationFailed wraps a failed full validation. The call is "missing"
// when every problem is an absent value and "invalid" otherwise.
func validationFailed(sub *contracts.Submission, s *validation.Schema, r validation.Result) *Error {
	typ := contracts.ErrMissing
	for _, fe := range r.Errors {
		if fe.Code != contracts.CodeRequired {
			typ = contracts.ErrInvalid
			break
		}
	}
	summary := validation.Summary(r.Errors)
	return &Error{
		Type:         typ,
		Message:      "submission failed validation: " + summary,
		SubmissionID: sub.ID,
		State:        sub.State,
		Summary:      summary,
		Fields:       r.Errors,
		NextActions:  validation.Guide(s, r.Errors),
		Retryable:    true,
	}
}
