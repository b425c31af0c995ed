// Package mcptools exposes the lifecycle operations as MCP tools so agents
// can drive submissions over stdio.
//
// A typed call error is a tool result with IsError set whose structured
// content is the error envelope. Agents branch on its errorType. Only store
// or sink failures surface as plain tool errors.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Mindburn-Labs/intake/pkg/approval"
	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// DefaultActor attributes calls that do not name an actor.
var DefaultActor = contracts.Actor{Kind: contracts.ActorAgent, ID: "mcp-client"}

// ErrInternal replaces hard failures in tool results.
var ErrInternal = errors.New("internal error; the call may be retried later")

// Handlers implements the tools.
type Handlers struct {
	subs    *submission.Manager
	reviews *approval.Manager
	actor   contracts.Actor
	logger  *slog.Logger
}

// NewHandlers binds the tools to the managers. actor is used when a call
// carries none; the zero Actor selects DefaultActor.
func NewHandlers(subs *submission.Manager, reviews *approval.Manager, actor contracts.Actor, logger *slog.Logger) *Handlers {
	if actor == (contracts.Actor{}) {
		actor = DefaultActor
	}
	if logger == nil {
		logger = slog.Default().With("component", "mcptools")
	}
	return &Handlers{subs: subs, reviews: reviews, actor: actor, logger: logger}
}

type CreateInput struct {
	DefinitionID string           `json:"definitionId" jsonschema:"Form definition id, optionally name@version"`
	Fields       map[string]any   `json:"fields,omitempty" jsonschema:"Initial values keyed by dot-path"`
	TTLSeconds   int64            `json:"ttlSeconds,omitempty" jsonschema:"Lifetime in seconds; defaults to the definition's TTL"`
	Actor        *contracts.Actor `json:"actor,omitempty" jsonschema:"Who is acting; defaults to the server's actor"`
}

type SetFieldsInput struct {
	SubmissionID string           `json:"submissionId"`
	Token        string           `json:"token" jsonschema:"Current version token"`
	Fields       map[string]any   `json:"fields,omitempty" jsonschema:"Values keyed by dot-path"`
	Actor        *contracts.Actor `json:"actor,omitempty"`
}

type TokenInput struct {
	SubmissionID string           `json:"submissionId"`
	Token        string           `json:"token" jsonschema:"Current version token"`
	Actor        *contracts.Actor `json:"actor,omitempty"`
}

type GetInput struct {
	SubmissionID string `json:"submissionId"`
}

type ResumeInput struct {
	Token string `json:"token" jsonschema:"A resume token previously returned by any call"`
}

type CancelInput struct {
	SubmissionID string           `json:"submissionId"`
	Token        string           `json:"token"`
	Reason       string           `json:"reason,omitempty"`
	Actor        *contracts.Actor `json:"actor,omitempty"`
}

type DecisionInput struct {
	SubmissionID string           `json:"submissionId"`
	Token        string           `json:"token"`
	Comment      string           `json:"comment,omitempty"`
	Actor        *contracts.Actor `json:"actor,omitempty"`
}

type RejectInput struct {
	SubmissionID string           `json:"submissionId"`
	Token        string           `json:"token"`
	Reason       string           `json:"reason,omitempty" jsonschema:"Why the submission is rejected (required)"`
	Comment      string           `json:"comment,omitempty"`
	Actor        *contracts.Actor `json:"actor,omitempty"`
}

type RequestChangesInput struct {
	SubmissionID  string                   `json:"submissionId"`
	Token         string                   `json:"token"`
	FieldComments []contracts.FieldComment `json:"fieldComments,omitempty" jsonschema:"One comment per field that must change"`
	Comment       string                   `json:"comment,omitempty"`
	Actor         *contracts.Actor         `json:"actor,omitempty"`
}

func (h *Handlers) who(a *contracts.Actor) contracts.Actor {
	if a == nil {
		return h.actor
	}
	return *a
}

// result converts a call's outcome. view is what a success returns.
func (h *Handlers) result(ctx context.Context, tool string, view any, err error) (*mcp.CallToolResult, any, error) {
	if err == nil {
		return nil, view, nil
	}
	se, ok := submission.AsError(err)
	if !ok {
		h.logger.ErrorContext(ctx, "tool call failed", "tool", tool, "error", err)
		return nil, nil, ErrInternal
	}
	env := se.Envelope()
	text, mErr := json.Marshal(env)
	if mErr != nil {
		return nil, nil, mErr
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
	}, env, nil
}

func (h *Handlers) envelope(ctx context.Context, tool string, sub *contracts.Submission, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		return h.result(ctx, tool, nil, err)
	}
	return h.result(ctx, tool, contracts.EnvelopeOf(sub), nil)
}

func (h *Handlers) Create(ctx context.Context, _ *mcp.CallToolRequest, in CreateInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.subs.Create(ctx, in.DefinitionID, in.Fields, h.who(in.Actor), time.Duration(in.TTLSeconds)*time.Second)
	return h.envelope(ctx, "create_submission", sub, err)
}

func (h *Handlers) SetFields(ctx context.Context, _ *mcp.CallToolRequest, in SetFieldsInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.subs.SetFields(ctx, in.SubmissionID, in.Token, in.Fields, h.who(in.Actor))
	return h.envelope(ctx, "set_fields", sub, err)
}

func (h *Handlers) Submit(ctx context.Context, _ *mcp.CallToolRequest, in TokenInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.subs.Submit(ctx, in.SubmissionID, in.Token, h.who(in.Actor))
	return h.envelope(ctx, "submit_submission", sub, err)
}

func (h *Handlers) Get(ctx context.Context, _ *mcp.CallToolRequest, in GetInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.subs.Get(ctx, in.SubmissionID)
	if err != nil {
		return h.result(ctx, "get_submission", nil, err)
	}
	return h.result(ctx, "get_submission", sub, nil)
}

func (h *Handlers) Resume(ctx context.Context, _ *mcp.CallToolRequest, in ResumeInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.subs.GetByToken(ctx, in.Token)
	if err != nil {
		return h.result(ctx, "resume_submission", nil, err)
	}
	return h.result(ctx, "resume_submission", sub, nil)
}

func (h *Handlers) Cancel(ctx context.Context, _ *mcp.CallToolRequest, in CancelInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.subs.Cancel(ctx, in.SubmissionID, in.Token, h.who(in.Actor), in.Reason)
	return h.envelope(ctx, "cancel_submission", sub, err)
}

func (h *Handlers) Approve(ctx context.Context, _ *mcp.CallToolRequest, in DecisionInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.reviews.Approve(ctx, in.SubmissionID, in.Token, h.who(in.Actor), in.Comment)
	return h.envelope(ctx, "approve_submission", sub, err)
}

func (h *Handlers) Reject(ctx context.Context, _ *mcp.CallToolRequest, in RejectInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.reviews.Reject(ctx, in.SubmissionID, in.Token, h.who(in.Actor), in.Reason, in.Comment)
	return h.envelope(ctx, "reject_submission", sub, err)
}

func (h *Handlers) RequestChanges(ctx context.Context, _ *mcp.CallToolRequest, in RequestChangesInput) (*mcp.CallToolResult, any, error) {
	sub, err := h.reviews.RequestChanges(ctx, in.SubmissionID, in.Token, h.who(in.Actor), in.FieldComments, in.Comment)
	return h.envelope(ctx, "request_changes", sub, err)
}
