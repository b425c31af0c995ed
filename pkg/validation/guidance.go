package validation

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// Guide returns exactly one NextAction per FieldError, in the same order.
func Guide(s *Schema, errs []contracts.FieldError) []contracts.NextAction {
	if len(errs) == 0 {
		return nil
	}
	var files []string
	if s != nil {
		files = s.FileFields
	}
	out := make([]contracts.NextAction, 0, len(errs))
	for _, fe := range errs {
		out = append(out, actionFor(fe, files))
	}
	return out
}

func actionFor(fe contracts.FieldError, files []string) contracts.NextAction {
	switch {
	case fe.Code == contracts.CodeApprovalRequired:
		return contracts.NextAction{
			Action:   contracts.ActionWaitForApproval,
			Hint:     "A reviewer must approve this submission before it can proceed.",
			CanRetry: true,
		}
	case fe.Path == "":
		return contracts.NextAction{
			Action:   contracts.ActionContactSupport,
			Hint:     "The submission as a whole violates a form constraint (" + fe.Message + "). Contact support.",
			CanRetry: true,
		}
	case withinAny(fe.Path, files):
		return contracts.NextAction{
			Action:   contracts.ActionRequestUpload,
			Field:    fe.Path,
			Hint:     fmt.Sprintf("Upload a file for %s.", fe.Path),
			CanRetry: true,
		}
	}
	return contracts.NextAction{
		Action:   contracts.ActionCollectField,
		Field:    fe.Path,
		Hint:     hintFor(fe),
		CanRetry: true,
	}
}

func hintFor(fe contracts.FieldError) string {
	p := fe.Path
	switch fe.Code {
	case contracts.CodeRequired:
		return fmt.Sprintf("Provide a value for %s.", p)
	case contracts.CodeInvalidType:
		if fe.Expected != "" {
			return fmt.Sprintf("Provide %s as %s.", p, fe.Expected)
		}
	case contracts.CodeInvalidFormat:
		if fe.Expected != "" {
			return fmt.Sprintf("Provide %s in %s format.", p, fe.Expected)
		}
	case contracts.CodeTooShort:
		return fmt.Sprintf("Provide a longer value for %s (length %s).", p, fe.Expected)
	case contracts.CodeTooLong:
		return fmt.Sprintf("Shorten %s (length %s).", p, fe.Expected)
	case contracts.CodeOutOfRange:
		if fe.Expected != "" {
			return fmt.Sprintf("Provide %s %s.", p, fe.Expected)
		}
	case contracts.CodeInvalidValue:
		if fe.Expected != "" {
			return fmt.Sprintf("Set %s to %s.", p, fe.Expected)
		}
	case contracts.CodePatternMismatch:
		return fmt.Sprintf("Provide %s matching %s.", p, fe.Expected)
	case contracts.CodeArrayLength:
		if fe.Expected != "" {
			return fmt.Sprintf("Provide %s with %s.", p, fe.Expected)
		}
	case contracts.CodeDuplicateValue:
		return fmt.Sprintf("Remove duplicate entries from %s.", p)
	}
	return fmt.Sprintf("Correct %s: %s.", p, fe.Message)
}

// Summary renders errs as one comma-joined "path (code)" entry per error, in
// slice order. Submission-level errors use the path "submission".
func Summary(errs []contracts.FieldError) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		p := fe.Path
		if p == "" {
			p = "submission"
		}
		parts = append(parts, p+" ("+string(fe.Code)+")")
	}
	return strings.Join(parts, ", ")
}
