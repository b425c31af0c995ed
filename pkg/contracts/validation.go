package contracts

// ErrorCode classifies why a specific field failed validation. The set is
// closed and stable: agents branch on these strings.
type ErrorCode string

const (
	CodeRequired         ErrorCode = "required"
	CodeInvalidType      ErrorCode = "invalid_type"
	CodeInvalidFormat    ErrorCode = "invalid_format"
	CodeTooShort         ErrorCode = "too_short"
	CodeTooLong          ErrorCode = "too_long"
	CodeOutOfRange       ErrorCode = "out_of_range"
	CodeInvalidValue     ErrorCode = "invalid_value"
	CodePatternMismatch  ErrorCode = "pattern_mismatch"
	CodeArrayLength      ErrorCode = "array_length"
	CodeDuplicateValue   ErrorCode = "duplicate_value"
	CodeApprovalRequired ErrorCode = "approval_required"
)

// ErrorCodes lists the vocabulary in its canonical order. The order is used
// as a tie-breaker when sorting errors on the same path.
var ErrorCodes = []ErrorCode{
	CodeRequired,
	CodeInvalidType,
	CodeInvalidFormat,
	CodeTooShort,
	CodeTooLong,
	CodeOutOfRange,
	CodeInvalidValue,
	CodePatternMismatch,
	CodeArrayLength,
	CodeDuplicateValue,
	CodeApprovalRequired,
}

// Rank returns the position of c in ErrorCodes, or len(ErrorCodes) if unknown.
func (c ErrorCode) Rank() int {
	for i, known := range ErrorCodes {
		if c == known {
			return i
		}
	}
	return len(ErrorCodes)
}

// FieldError describes one failed constraint on one field path.
type FieldError struct {
	Path     string    `json:"path"`
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Expected string    `json:"expected,omitempty"`
	Received string    `json:"received,omitempty"`
}

// ActionKind is the operation a caller should perform next.
type ActionKind string

const (
	ActionCollectField       ActionKind = "collect_field"
	ActionRequestUpload      ActionKind = "request_upload"
	ActionContactSupport     ActionKind = "contact_support"
	ActionWaitForApproval    ActionKind = "wait_for_approval"
	ActionRefetchSubmission  ActionKind = "refetch_submission"
	ActionStartNewSubmission ActionKind = "start_new_submission"
)

// NextAction is deterministic guidance paired with a FieldError or with a
// submission-level error.
type NextAction struct {
	Action   ActionKind `json:"action"`
	Field    string     `json:"field,omitempty"`
	Hint     string     `json:"hint"`
	CanRetry bool       `json:"canRetry"`
}
