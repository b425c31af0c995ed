package contracts

// ErrorType classifies the outcome of a failed call. It is distinct from
// ErrorCode, which classifies why a single field failed.
type ErrorType string

const (
	ErrMissing       ErrorType = "missing"
	ErrInvalid       ErrorType = "invalid"
	ErrConflict      ErrorType = "conflict"
	ErrNeedsApproval ErrorType = "needs_approval"
	ErrExpired       ErrorType = "expired"
	ErrCancelled     ErrorType = "cancelled"
)

// Envelope is the success result of every runtime call.
type Envelope struct {
	SubmissionID string `json:"submissionId"`
	State        State  `json:"state"`
	VersionToken string `json:"versionToken"`
}

// EnvelopeOf builds the success envelope for s.
func EnvelopeOf(s *Submission) Envelope {
	return Envelope{
		SubmissionID: s.ID,
		State:        s.State,
		VersionToken: s.VersionToken,
	}
}

// ErrorEnvelope is the failure result of every runtime call.
type ErrorEnvelope struct {
	ErrorType    ErrorType    `json:"errorType"`
	Message      string       `json:"message"`
	SubmissionID string       `json:"submissionId,omitempty"`
	State        State        `json:"state,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	Fields       []FieldError `json:"fields,omitempty"`
	NextActions  []NextAction `json:"nextActions,omitempty"`
	Retryable    bool         `json:"retryable"`
}
