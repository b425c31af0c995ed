// Package api is the HTTP adapter over the submission and approval managers.
// Errors are RFC 7807 problem details; call outcomes additionally carry the
// runtime's error envelope so agents can branch on errorType.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

const problemBase = "https://intake.mindburn.dev/problems/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID is the request id assigned by RequestID.
	TraceID string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// CallProblem is the body of a failed lifecycle call: the problem detail
// with the error envelope inlined.
type CallProblem struct {
	ProblemDetail
	contracts.ErrorEnvelope
}

// StatusFor maps an errorType to its HTTP status.
func StatusFor(t contracts.ErrorType) int {
	switch t {
	case contracts.ErrMissing, contracts.ErrInvalid:
		return http.StatusUnprocessableEntity
	case contracts.ErrConflict:
		return http.StatusConflict
	case contracts.ErrNeedsApproval:
		return http.StatusLocked
	case contracts.ErrExpired, contracts.ErrCancelled:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func problemType(status int) string {
	return fmt.Sprintf("%s%d", problemBase, status)
}

func writeProblem(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, status, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR is WriteError enriched with the request path and request id.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, status, &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(RequestIDHeader),
	})
}

// WriteCallError renders err. A *submission.Error becomes a CallProblem
// with the status of its errorType; an unknown submission id is a 404 with
// the same envelope. Anything else is a hard failure and is never leaked.
func WriteCallError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := submission.AsError(err)
	if !ok {
		WriteInternal(w, r, err)
		return
	}
	status := StatusFor(se.Type)
	if errors.Is(err, submission.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeProblem(w, status, &CallProblem{
		ProblemDetail: ProblemDetail{
			Type:     problemBase + string(se.Type),
			Title:    http.StatusText(status),
			Status:   status,
			Detail:   se.Message,
			Instance: r.URL.Path,
			TraceID:  w.Header().Get(RequestIDHeader),
		},
		ErrorEnvelope: se.Envelope(),
	})
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response. err is logged, never sent.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error",
		"error", err,
		"path", r.URL.Path,
		"request_id", w.Header().Get(RequestIDHeader),
	)
	WriteErrorR(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
