package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolRef names and describes one registered tool.
type ToolRef struct {
	Name        string
	Description string
}

// Catalog lists the tools in registration order.
var Catalog = []ToolRef{
	{"create_submission", "Start a submission for a form definition, optionally with initial field values. Returns submissionId, state and versionToken."},
	{"set_fields", "Write field values by dot-path. Requires the current version token and returns a new one."},
	{"submit_submission", "Validate and submit. On failure returns field errors with next actions; nothing changes."},
	{"get_submission", "Read a submission by id, including fields, attribution and events."},
	{"resume_submission", "Resume work from a version token returned by an earlier call."},
	{"cancel_submission", "Cancel a submission that is not yet finalized."},
	{"approve_submission", "Approve a submission awaiting review."},
	{"reject_submission", "Reject a submission awaiting review. A reason is required."},
	{"request_changes", "Send a submission under review back to draft with per-field comments."},
}

func describe(name string) *mcp.Tool {
	for _, ref := range Catalog {
		if ref.Name == name {
			return &mcp.Tool{Name: ref.Name, Description: ref.Description}
		}
	}
	panic("mcptools: unknown tool " + name)
}

// NewServer registers every tool of h on a new MCP server.
func NewServer(h *Handlers, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "intake", Version: version}, nil)

	mcp.AddTool(server, describe("create_submission"), h.Create)
	mcp.AddTool(server, describe("set_fields"), h.SetFields)
	mcp.AddTool(server, describe("submit_submission"), h.Submit)
	mcp.AddTool(server, describe("get_submission"), h.Get)
	mcp.AddTool(server, describe("resume_submission"), h.Resume)
	mcp.AddTool(server, describe("cancel_submission"), h.Cancel)
	mcp.AddTool(server, describe("approve_submission"), h.Approve)
	mcp.AddTool(server, describe("reject_submission"), h.Reject)
	mcp.AddTool(server, describe("request_changes"), h.RequestChanges)
	return server
}

// ServeStdio runs server on stdin/stdout until ctx is done or the client
// disconnects.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
