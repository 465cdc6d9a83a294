// Package mcpadapter exposes operator actions as MCP tools.
package mcpadapter

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// Operations is the admin surface the tools call into.
type Operations interface {
	ports.EscalationService
	ports.OutcomeReader
}

type Tools struct {
	ops     Operations
	mailbox string
}

func NewTools(ops Operations, mailbox string) *Tools {
	return &Tools{ops: ops, mailbox: mailbox}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(tools *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"inbox-autoresponder-ops",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Inspect and handle escalated customer emails. Escalations are ordered by priority; resolve them once a human has replied."),
	)

	s.AddTool(mcp.NewTool("list_escalations",
		mcp.WithDescription("List escalations, highest priority first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("pending", "assigned", "resolved")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of escalations (default 50)")),
	), tools.ListEscalations)

	s.AddTool(mcp.NewTool("get_escalation",
		mcp.WithDescription("Fetch one escalation including its draft reply."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id", mcp.Required(), mcp.Description("Escalation id")),
	), tools.GetEscalation)

	s.AddTool(mcp.NewTool("assign_escalation",
		mcp.WithDescription("Assign a pending escalation to a person."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Escalation id")),
		mcp.WithString("assignee", mcp.Required(), mcp.Description("Who handles it")),
	), tools.AssignEscalation)

	s.AddTool(mcp.NewTool("resolve_escalation",
		mcp.WithDescription("Mark an escalation as resolved."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Escalation id")),
	), tools.ResolveEscalation)

	s.AddTool(mcp.NewTool("outcome_stats",
		mcp.WithDescription("Count processed messages by category and disposition."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("hours", mcp.Description("Look-back window in hours (default 24)")),
	), tools.OutcomeStats)

	s.AddTool(mcp.NewTool("get_watermark",
		mcp.WithDescription("Highest mailbox UID whose processing completed."),
		mcp.WithReadOnlyHintAnnotation(true),
	), tools.GetWatermark)

	return s
}

func (t *Tools) ListEscalations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status domain.EscalationStatus
	if raw := req.GetString("status", ""); raw != "" {
		parsed, ok := domain.ParseEscalationStatus(raw)
		if !ok {
			return mcp.NewToolResultErrorf("unknown status %q", raw), nil
		}
		status = parsed
	}
	list, err := t.ops.ListEscalations(ctx, status, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("list escalations failed", err), nil
	}
	return mcp.NewToolResultJSON(map[string]any{"escalations": list})
}

func (t *Tools) GetEscalation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	esc, err := t.ops.GetEscalation(ctx, id)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("get escalation failed", err), nil
	}
	return mcp.NewToolResultJSON(esc)
}

func (t *Tools) AssignEscalation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	assignee, err := req.RequireString("assignee")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	esc, err := t.ops.AssignEscalation(ctx, id, assignee)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("assign escalation failed", err), nil
	}
	return mcp.NewToolResultJSON(esc)
}

func (t *Tools) ResolveEscalation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	esc, err := t.ops.ResolveEscalation(ctx, id)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("resolve escalation failed", err), nil
	}
	return mcp.NewToolResultJSON(esc)
}

func (t *Tools) OutcomeStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hours := req.GetInt("hours", 24)
	if hours <= 0 {
		return mcp.NewToolResultError("hours must be positive"), nil
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	counts, err := t.ops.CountOutcomes(ctx, since)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("count outcomes failed", err), nil
	}
	return mcp.NewToolResultJSON(map[string]any{"since": since, "counts": counts})
}

func (t *Tools) GetWatermark(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := t.ops.GetWatermark(ctx, t.mailbox)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("get watermark failed", err), nil
	}
	return mcp.NewToolResultJSON(domain.Watermark{Mailbox: t.mailbox, LastUID: uid})
}
