package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/schema"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// --- Helpers ---

type mutableSource struct {
	mu      sync.Mutex
	schemas []*schema.ToolSchema
}

func (s *mutableSource) Schemas() []*schema.ToolSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.ToolSchema(nil), s.schemas...)
}

func (s *mutableSource) set(schemas ...*schema.ToolSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas = schemas
}

type call struct {
	Name  string
	Args  map[string]any
	Depth int
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []call
	reply []byte
	err   error
}

func (c *fakeCaller) Call(_ context.Context, name string, args map[string]any, depth int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{Name: name, Args: args, Depth: depth})
	return c.reply, c.err
}

func searchSchema() *schema.ToolSchema {
	s := schema.New("search_tool", "Find tools", "test")
	s.AddOperation("/search", http.MethodPost, &schema.Operation{
		OperationID: "search_tool",
		Summary:     "Search the tool directory.",
	})
	s.Bind("search_tool", "http://127.0.0.1:7001", 7001)
	return s
}

func weatherSchema() *schema.ToolSchema {
	s := schema.New("weather", "Forecasts", "test")
	s.AddOperation("/forecast", http.MethodGet, &schema.Operation{
		OperationID: "get_forecast",
		Summary:     "Get a forecast.",
		Parameters: []schema.Parameter{
			{Name: "city", In: "query", Required: true, Schema: &schema.ParameterSchema{Type: "string"}},
		},
	})
	s.Bind("weather", "http://127.0.0.1:7002", 7002)
	return s
}

// listTools calls tools/list on the MCPServer and returns the tools.
func listTools(t *testing.T, s *mcpserver.MCPServer) []mcpgo.Tool {
	t.Helper()

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	result := s.HandleMessage(t.Context(), msg)

	resp, ok := result.(mcpgo.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T", result)
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var toolsResult mcpgo.ListToolsResult
	if err := json.Unmarshal(resultJSON, &toolsResult); err != nil {
		t.Fatalf("failed to unmarshal ListToolsResult: %v", err)
	}
	return toolsResult.Tools
}

// callTool calls a tool on the MCPServer and returns the result.
func callTool(t *testing.T, ctx context.Context, s *mcpserver.MCPServer, name string, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()

	paramsJSON, _ := json.Marshal(map[string]any{
		"name":      name,
		"arguments": args,
	})
	msg := json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":` + string(paramsJSON) + `}`)
	result := s.HandleMessage(ctx, msg)

	resp, ok := result.(mcpgo.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T", result)
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var toolResult mcpgo.CallToolResult
	if err := json.Unmarshal(resultJSON, &toolResult); err != nil {
		t.Fatalf("failed to unmarshal CallToolResult: %v", err)
	}
	return &toolResult
}

// extractText extracts the text field from an MCP content block.
func extractText(t *testing.T, content mcpgo.Content) string {
	t.Helper()
	contentJSON, _ := json.Marshal(content)
	var tc struct {
		Text string `json:"text"`
	}
	json.Unmarshal(contentJSON, &tc)
	return tc.Text
}

func toolNames(tools []mcpgo.Tool) map[string]bool {
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
	}
	return names
}

// --- Catalog ---

func TestBuildCatalog_SkipsRequestToolAndDuplicates(t *testing.T) {
	specs := dispatch.Functions([]*schema.ToolSchema{weatherSchema(), weatherSchema()})
	catalog := BuildCatalog(specs, common.NewSilentLogger())

	if len(catalog) != 1 {
		t.Fatalf("expected 1 catalog entry, got %d", len(catalog))
	}
	if catalog[0].Name != "get_forecast" {
		t.Errorf("expected get_forecast, got %q", catalog[0].Name)
	}

	var params map[string]any
	if err := json.Unmarshal(catalog[0].InputSchema, &params); err != nil {
		t.Fatalf("input schema is not JSON: %v", err)
	}
	if params["type"] != "object" {
		t.Errorf("expected object schema, got %v", params["type"])
	}
}

func TestBuildMCPTool_CarriesRawSchema(t *testing.T) {
	ct := CatalogTool{
		Name:        "get_forecast",
		Description: "Get a forecast.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}
	tool := BuildMCPTool(ct)

	if tool.Name != "get_forecast" {
		t.Errorf("expected name get_forecast, got %q", tool.Name)
	}
	if tool.Description != "Get a forecast." {
		t.Errorf("unexpected description %q", tool.Description)
	}
	if !bytes.Equal(tool.RawInputSchema, ct.InputSchema) {
		t.Errorf("expected raw input schema to be kept, got %s", tool.RawInputSchema)
	}
}

// --- Handler ---

func TestNewHandler_RegistersOperationsAndVersion(t *testing.T) {
	source := &mutableSource{}
	source.set(weatherSchema())
	h := NewHandler("registry_tool", source, &fakeCaller{}, common.NewSilentLogger())

	names := toolNames(listTools(t, h.server))
	for _, want := range []string{"get_forecast", VersionToolName} {
		if !names[want] {
			t.Errorf("expected tool %q to be registered, got %v", want, names)
		}
	}
	if names[dispatch.RequestToolName] {
		t.Errorf("%s must not be exposed over MCP", dispatch.RequestToolName)
	}
}

func TestSync_AddsAndRemovesTools(t *testing.T) {
	source := &mutableSource{}
	source.set(weatherSchema())
	h := NewHandler("registry_tool", source, &fakeCaller{}, common.NewSilentLogger())

	source.set(weatherSchema(), searchSchema())
	if n := h.Sync(); n != 2 {
		t.Errorf("expected 2 tools after start, got %d", n)
	}
	names := toolNames(listTools(t, h.server))
	if !names["search_tool"] || !names["get_forecast"] {
		t.Errorf("expected both tools, got %v", names)
	}

	source.set(searchSchema())
	if n := h.Sync(); n != 1 {
		t.Errorf("expected 1 tool after removal, got %d", n)
	}
	names = toolNames(listTools(t, h.server))
	if names["get_forecast"] {
		t.Error("expected get_forecast to be removed")
	}
	if !names[VersionToolName] {
		t.Error("version tool must survive sync")
	}
}

func TestCallTool_RoutesThroughCaller(t *testing.T) {
	source := &mutableSource{}
	source.set(weatherSchema())
	caller := &fakeCaller{reply: []byte(`{"temp":21}`)}
	h := NewHandler("registry_tool", source, caller, common.NewSilentLogger())

	result := callTool(t, WithDepth(t.Context(), 2), h.server, "get_forecast", map[string]any{"city": "Oslo"})
	if result.IsError {
		t.Fatalf("unexpected error result: %s", extractText(t, result.Content[0]))
	}
	if got := extractText(t, result.Content[0]); got != "{\n    \"temp\": 21\n}" {
		t.Errorf("expected indented body, got %q", got)
	}

	if len(caller.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(caller.calls))
	}
	c := caller.calls[0]
	if c.Name != "get_forecast" || c.Args["city"] != "Oslo" || c.Depth != 2 {
		t.Errorf("unexpected call %+v", c)
	}
}

func TestCallTool_ErrorBecomesErrorResult(t *testing.T) {
	source := &mutableSource{}
	source.set(weatherSchema())
	caller := &fakeCaller{err: errors.New("connection refused")}
	h := NewHandler("registry_tool", source, caller, common.NewSilentLogger())

	result := callTool(t, t.Context(), h.server, "get_forecast", map[string]any{"city": "Oslo"})
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	text := extractText(t, result.Content[0])
	if !strings.Contains(text, "get_forecast") || !strings.Contains(text, "connection refused") {
		t.Errorf("unexpected error text %q", text)
	}
}

func TestVersionTool_ReportsToolCount(t *testing.T) {
	source := &mutableSource{}
	source.set(weatherSchema(), searchSchema())
	h := NewHandler("chat", source, &fakeCaller{}, common.NewSilentLogger())

	result := callTool(t, t.Context(), h.server, VersionToolName, nil)
	if result.IsError {
		t.Fatalf("unexpected error result")
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(extractText(t, result.Content[0])), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info["tools"] != float64(2) {
		t.Errorf("expected tools=2, got %v", info["tools"])
	}
	if _, ok := info["version"]; !ok {
		t.Error("expected version field")
	}
}

func TestDepthFromRequest(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{"", 0},
		{"3", 3},
		{" 1 ", 1},
		{"-2", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.header != "" {
			r.Header.Set(dispatch.DepthHeader, tt.header)
		}
		if got := DepthFrom(depthFromRequest(r.Context(), r)); got != tt.want {
			t.Errorf("header %q: expected depth %d, got %d", tt.header, tt.want, got)
		}
	}
}

func TestServeHTTP_Initialize(t *testing.T) {
	source := &mutableSource{}
	source.set(weatherSchema())
	h := NewHandler("registry_tool", source, &fakeCaller{}, common.NewSilentLogger())

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "registry_tool") {
		t.Errorf("expected server name in initialize response, got %s", rec.Body.String())
	}
}
