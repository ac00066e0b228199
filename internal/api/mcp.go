package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/deskflow/internal/automation"
	"github.com/kalambet/deskflow/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Automation Automation
	Reviewer   DraftReviewer
	CorpusDir  string
	Version    string
}

// NewMCPServer creates an MCP server exposing the support workflow as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"deskflow",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("deskflow answers support queries from a local knowledge base and keeps drafts for human review."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("handle_query",
			mcp.WithDescription("Run a support query: retrieve context, classify intent, and save a draft or escalate."),
			mcp.WithString("query", mcp.Description("The customer's message"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Number of passages to retrieve (default 5)")),
			mcp.WithString("user_email", mcp.Description("Recipient for the draft or ticket")),
		),
		mcpHandleQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("list_drafts",
			mcp.WithDescription("List stored drafts. Without a status filter, lists drafts awaiting review."),
			mcp.WithString("status", mcp.Description("Comma-separated statuses, e.g. APPROVED,SENT")),
		),
		mcpListDrafts(deps),
	)

	s.AddTool(
		mcp.NewTool("update_draft_status",
			mcp.WithDescription("Move a draft to a new status."),
			mcp.WithString("ticket_id", mcp.Description("Draft identifier"), mcp.Required()),
			mcp.WithString("status", mcp.Description("New status"), mcp.Required()),
		),
		mcpUpdateDraftStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("rebuild_index",
			mcp.WithDescription("Reload the knowledge-base corpus and rebuild the retrieval index."),
			mcp.WithString("corpus", mcp.Description("Corpus directory (defaults to the configured one)")),
		),
		mcpRebuildIndex(deps),
	)

	return s
}

func mcpHandleQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		resp, err := deps.Automation.HandleQuery(ctx, automation.Query{
			Text:      query,
			TopK:      req.GetInt("top_k", 0),
			UserEmail: req.GetString("user_email", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpListDrafts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statuses, err := parseStatuses(req.GetString("status", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		records, err := deps.Reviewer.List(ctx, statuses)
		if err != nil {
			return mcpError(fmt.Sprintf("listing drafts failed: %v", err)), nil
		}
		if records == nil {
			records = []storage.Record{}
		}
		return mcpJSON(records)
	}
}

func mcpUpdateDraftStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("ticket_id")
		if err != nil {
			return mcpError("ticket_id is required"), nil
		}
		raw, err := req.RequireString("status")
		if err != nil {
			return mcpError("status is required"), nil
		}

		rec, err := deps.Reviewer.SetStatus(ctx, id, storage.Status(raw))
		if err != nil {
			return mcpError(fmt.Sprintf("update failed: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpRebuildIndex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := req.GetString("corpus", deps.CorpusDir)
		status, err := deps.Automation.RebuildIndex(ctx, ref)
		if err != nil {
			return mcpError(fmt.Sprintf("rebuild failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Index rebuilt: %d documents on the %s backend", status.Documents, status.Backend)), nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
