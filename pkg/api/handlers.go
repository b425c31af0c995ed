package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/observability"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

const maxBody = 1 << 20

type createRequest struct {
	DefinitionID string         `json:"definitionId"`
	Fields       map[string]any `json:"fields,omitempty"`
	TTLSeconds   int64          `json:"ttlSeconds,omitempty"`
}

type setFieldsRequest struct {
	Token  string         `json:"token,omitempty"`
	Fields map[string]any `json:"fields"`
}

type decisionRequest struct {
	Token         string                   `json:"token,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Comment       string                   `json:"comment,omitempty"`
	FieldComments []contracts.FieldComment `json:"fieldComments,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body is not valid JSON")
		return false
	}
	return true
}

func resumeToken(r *http.Request, fromBody string) (string, error) {
	if tok := r.Header.Get(ResumeTokenHeader); tok != "" {
		return tok, nil
	}
	if fromBody != "" {
		return fromBody, nil
	}
	return "", submission.MissingInput(nil, "token", "a resume token is required")
}

func (s *Server) track(r *http.Request, op string) (context.Context, func(error)) {
	return s.tracker.TrackOperation(r.Context(), "http."+op, observability.AttrTransport.String("http"))
}

// respond writes the success envelope or the call error.
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, sub *contracts.Submission, err error) {
	if err != nil {
		WriteCallError(w, r, err)
		return
	}
	observability.AddSpanEvent(ctx, "submission.state",
		observability.SubmissionAttrs(sub.ID, sub.DefinitionID, string(sub.State))...)
	writeJSON(w, status, contracts.EnvelopeOf(sub))
}

// sloReporter is implemented by trackers that keep SLO state.
type sloReporter interface {
	SLOStatuses() []observability.SLOStatus
}

type healthResponse struct {
	Status string                    `json:"status"`
	SLO    []observability.SLOStatus `json:"slo,omitempty"`
}

// health always answers 200. A violated SLO only marks the body degraded.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if rep, ok := s.tracker.(sloReporter); ok {
		resp.SLO = rep.SLOStatuses()
		for _, st := range resp.SLO {
			if !st.InCompliance {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, done := s.track(r, "create")
	sub, err := s.subs.Create(ctx, req.DefinitionID, req.Fields, ActorFrom(ctx), time.Duration(req.TTLSeconds)*time.Second)
	done(err)
	s.respond(ctx, w, r, http.StatusCreated, sub, err)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.track(r, "get")
	sub, err := s.subs.Get(ctx, chi.URLParam(r, "id"))
	done(err)
	if err != nil {
		WriteCallError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.track(r, "resume")
	sub, err := s.subs.GetByToken(ctx, chi.URLParam(r, "token"))
	done(err)
	if err != nil {
		WriteCallError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) setFields(w http.ResponseWriter, r *http.Request) {
	var req setFieldsRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, done := s.track(r, "set_fields")
	token, err := resumeToken(r, req.Token)
	var sub *contracts.Submission
	if err == nil {
		sub, err = s.subs.SetFields(ctx, chi.URLParam(r, "id"), token, req.Fields, ActorFrom(ctx))
	}
	done(err)
	s.respond(ctx, w, r, http.StatusOK, sub, err)
}

// decision runs op for the handlers whose body is a decisionRequest.
func (s *Server) decision(w http.ResponseWriter, r *http.Request, name string,
	op func(ctx context.Context, id, token string, actor contracts.Actor, req decisionRequest) (*contracts.Submission, error),
) {
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, done := s.track(r, name)
	token, err := resumeToken(r, req.Token)
	var sub *contracts.Submission
	if err == nil {
		sub, err = op(ctx, chi.URLParam(r, "id"), token, ActorFrom(ctx), req)
	}
	done(err)
	s.respond(ctx, w, r, http.StatusOK, sub, err)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, "submit", func(ctx context.Context, id, token string, actor contracts.Actor, _ decisionRequest) (*contracts.Submission, error) {
		return s.subs.Submit(ctx, id, token, actor)
	})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, "cancel", func(ctx context.Context, id, token string, actor contracts.Actor, req decisionRequest) (*contracts.Submission, error) {
		return s.subs.Cancel(ctx, id, token, actor, req.Reason)
	})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, "approve", func(ctx context.Context, id, token string, actor contracts.Actor, req decisionRequest) (*contracts.Submission, error) {
		return s.reviews.Approve(ctx, id, token, actor, req.Comment)
	})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, "reject", func(ctx context.Context, id, token string, actor contracts.Actor, req decisionRequest) (*contracts.Submission, error) {
		return s.reviews.Reject(ctx, id, token, actor, req.Reason, req.Comment)
	})
}

func (s *Server) requestChanges(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, "request_changes", func(ctx context.Context, id, token string, actor contracts.Actor, req decisionRequest) (*contracts.Submission, error) {
		return s.reviews.RequestChanges(ctx, id, token, actor, req.FieldComments, req.Comment)
	})
}
