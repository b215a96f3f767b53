package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tasklens/internal/trajectory"
)

// NewMCPServer exposes the analysis surface over MCP so agent tooling can
// triage tickets without going through HTTP.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"tasklens",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("tasklens runs semantic triage over the team's ticket history: nearest matches, likely owners, and directional risk for new work."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_ticket",
			mcp.WithDescription("Analyze new ticket text against the ticket history: nearest neighbors, likely cluster, past experts, and risk flags."),
			mcp.WithString("text", mcp.Description("The ticket text (summary plus any detail)"), mcp.Required()),
		),
		mcpAnalyzeTicket(deps),
	)

	s.AddTool(
		mcp.NewTool("work_story",
			mcp.WithDescription("Summarize an assignee's work history: early/middle/recent phases, theme shifts, and strategy alignment."),
			mcp.WithString("assignee", mcp.Description("Assignee identifier"), mcp.Required()),
		),
		mcpWorkStory(deps),
	)

	s.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Report the loaded snapshot: ticket count, dimensionality, and cluster themes."),
		),
		mcpIndexStatus(deps),
	)

	return s
}

func mcpAnalyzeTicket(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		snap := deps.Snapshots.Current()
		if snap == nil {
			return mcpError("no snapshot loaded"), nil
		}

		res, err := deps.Advisor.Analyze(ctx, snap, text)
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWorkStory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assignee, err := req.RequireString("assignee")
		if err != nil {
			return mcpError("assignee is required"), nil
		}

		snap := deps.Snapshots.Current()
		if snap == nil {
			return mcpError("no snapshot loaded"), nil
		}

		story, err := deps.Advisor.Story(snap, assignee)
		if errors.Is(err, trajectory.ErrNoData) {
			return mcpError(fmt.Sprintf("no ticket history for %q", assignee)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("building story: %v", err)), nil
		}

		b, err := json.Marshal(story)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal story: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := deps.Snapshots.Current()
		if snap == nil {
			return mcpText(`{"loaded":false,"indexed":0}`), nil
		}

		themes := make([]string, 0, len(snap.Clusters.Clusters))
		for _, c := range snap.Clusters.Clusters {
			themes = append(themes, snap.Clusters.ThemeFor(c.Label))
		}
		status := map[string]any{
			"loaded":   true,
			"id":       snap.Manifest.ID,
			"indexed":  snap.Manifest.Count,
			"dim":      snap.Manifest.Dim,
			"themes":   themes,
			"strategy": snap.Strategy != nil,
		}

		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
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
