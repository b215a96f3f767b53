package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/tasklens/internal/snapshot"
)

func makeToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestMCPAnalyzeTicket(t *testing.T) {
	deps := testDeps(t, false)
	handler := mcpAnalyzeTicket(deps)

	res, err := handler(context.Background(), makeToolRequest("analyze_ticket", map[string]any{
		"text": "search ranking broken",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", toolText(t, res))
	}

	var out struct {
		Cluster string `json:"cluster"`
	}
	if err := json.Unmarshal([]byte(toolText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Cluster != "search" {
		t.Errorf("cluster = %q, want search", out.Cluster)
	}
}

func TestMCPAnalyzeTicketMissingText(t *testing.T) {
	deps := testDeps(t, false)
	handler := mcpAnalyzeTicket(deps)

	res, err := handler(context.Background(), makeToolRequest("analyze_ticket", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for missing text")
	}
}

func TestMCPAnalyzeTicketNoSnapshot(t *testing.T) {
	deps := testDeps(t, false)
	deps.Snapshots = &snapshot.Holder{}
	handler := mcpAnalyzeTicket(deps)

	res, err := handler(context.Background(), makeToolRequest("analyze_ticket", map[string]any{
		"text": "anything",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError || !strings.Contains(toolText(t, res), "no snapshot") {
		t.Errorf("result = %s", toolText(t, res))
	}
}

func TestMCPWorkStory(t *testing.T) {
	deps := testDeps(t, false)
	handler := mcpWorkStory(deps)

	res, err := handler(context.Background(), makeToolRequest("work_story", map[string]any{
		"assignee": "alex",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", toolText(t, res))
	}
	if !strings.Contains(toolText(t, res), `"assignee":"alex"`) {
		t.Errorf("result = %s", toolText(t, res))
	}

	res, err = handler(context.Background(), makeToolRequest("work_story", map[string]any{
		"assignee": "ghost",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for unknown assignee")
	}
}

func TestMCPIndexStatus(t *testing.T) {
	deps := testDeps(t, false)
	handler := mcpIndexStatus(deps)

	res, err := handler(context.Background(), makeToolRequest("index_status", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var out struct {
		Loaded  bool     `json:"loaded"`
		Indexed int      `json:"indexed"`
		Themes  []string `json:"themes"`
	}
	if err := json.Unmarshal([]byte(toolText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Loaded || out.Indexed != 3 || len(out.Themes) != 2 {
		t.Errorf("status = %+v", out)
	}

	deps.Snapshots = &snapshot.Holder{}
	res, err = mcpIndexStatus(deps)(context.Background(), makeToolRequest("index_status", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(toolText(t, res), `"loaded":false`) {
		t.Errorf("result = %s", toolText(t, res))
	}
}
