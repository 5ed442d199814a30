package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/run-bigpig/thinktank/internal/models"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type searchArgs struct {
	Query string `json:"query"`
}

// newMCPServer 启动一个提供 web_search 与 fetch_page 两个工具的 streamable HTTP MCP 服务
func newMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "research", Version: "v0.1.0"}, nil)
	handler := func(_ context.Context, _ *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "results for " + args.Query}}}, nil, nil
	}
	mcp.AddTool(server, &mcp.Tool{Name: "web_search", Description: "search the web"}, handler)
	mcp.AddTool(server, &mcp.Tool{Name: "fetch_page", Description: "fetch a page"}, handler)

	ts := httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil))
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(t *testing.T, endpoint string) *Manager {
	t.Helper()
	m := NewManager()
	m.LoadConfigs([]models.MCPServerConfig{
		{ID: "research", Name: "Research", TransportType: models.MCPTransportHTTP, Endpoint: endpoint, Enabled: true},
		{ID: "broken", Name: "Broken", TransportType: models.MCPTransportCommand, Command: "/nonexistent/mcp-server", Enabled: true},
		{ID: "off", Name: "Off", TransportType: models.MCPTransportHTTP, Endpoint: endpoint},
	})
	return m
}

func TestManagerServers(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/mcp")

	servers := m.Servers()
	if len(servers) != 2 {
		t.Fatalf("servers = %+v", servers)
	}
	if servers[0].ID != "broken" || servers[1].ID != "research" {
		t.Errorf("servers not sorted: %+v", servers)
	}
	for _, s := range servers {
		if !s.Loaded || s.Connected {
			t.Errorf("status = %+v", s)
		}
	}

	if got := m.GetToolsetsByIDs([]string{"research", "off", "missing"}); len(got) != 1 {
		t.Errorf("toolsets = %d, want only the enabled one", len(got))
	}
}

func TestManagerTestConnection(t *testing.T) {
	ts := newMCPServer(t)
	m := newTestManager(t, ts.URL)
	ctx := context.Background()

	if s := m.TestConnection(ctx, "research"); !s.Connected || s.Error != "" {
		t.Errorf("research = %+v", s)
	}
	if s := m.TestConnection(ctx, "broken"); s.Connected || s.Error == "" {
		t.Errorf("broken = %+v", s)
	}
	if s := m.TestConnection(ctx, "off"); s.Error != "server not configured" {
		t.Errorf("disabled = %+v", s)
	}
}

func TestManagerGetServerTools(t *testing.T) {
	ts := newMCPServer(t)
	m := newTestManager(t, ts.URL)
	ctx := context.Background()

	tools, err := m.GetServerTools(ctx, "research")
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
		if tool.ServerID != "research" || tool.ServerName != "Research" {
			t.Errorf("tool = %+v", tool)
		}
	}
	if len(tools) != 2 || !names["web_search"] || !names["fetch_page"] {
		t.Fatalf("tools = %+v", tools)
	}

	if _, err := m.GetServerTools(ctx, "broken"); err == nil {
		t.Error("expected error for broken server")
	}
	if tools, err := m.GetServerTools(ctx, "missing"); tools != nil || err != nil {
		t.Errorf("missing = %v, %v", tools, err)
	}
}

func TestToolFilter(t *testing.T) {
	if toolFilter(nil) != nil {
		t.Error("empty filter must allow every tool")
	}
	if toolFilter([]string{"web_search"}) == nil {
		t.Error("filter dropped")
	}
}
