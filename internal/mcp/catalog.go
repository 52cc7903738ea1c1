package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Caller performs a dispatched function call.
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any, depth int) ([]byte, error)
}

// CatalogTool is one dispatchable function exposed over MCP.
type CatalogTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// BuildCatalog converts function specs into catalog entries. Duplicate names
// keep the first spec, matching dispatch resolution order.
func BuildCatalog(specs []dispatch.FunctionSpec, logger *common.Logger) []CatalogTool {
	seen := make(map[string]bool, len(specs))
	out := make([]CatalogTool, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" || spec.Name == dispatch.RequestToolName {
			continue
		}
		if seen[spec.Name] {
			logger.Warn().Str("name", spec.Name).Msg("skipping duplicate MCP tool")
			continue
		}
		raw, err := json.Marshal(spec.Parameters)
		if err != nil {
			logger.Warn().Str("name", spec.Name).Str("error", err.Error()).Msg("skipping MCP tool with unencodable schema")
			continue
		}
		seen[spec.Name] = true
		out = append(out, CatalogTool{Name: spec.Name, Description: spec.Description, InputSchema: raw})
	}
	return out
}

// BuildMCPTool converts a CatalogTool into an mcp.Tool carrying its raw input schema.
func BuildMCPTool(ct CatalogTool) mcp.Tool {
	return mcp.NewToolWithRawSchema(ct.Name, ct.Description, ct.InputSchema)
}

// GenericToolHandler routes an MCP tool call through the dispatcher.
func GenericToolHandler(c Caller, ct CatalogTool) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := r.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		body, err := c.Call(ctx, ct.Name, args, DepthFrom(ctx))
		if err != nil {
			return errorResult(fmt.Sprintf("Error invoking tool %s: %v", ct.Name, err)), nil
		}
		return mcp.NewToolResultText(dispatch.Indent(body)), nil
	}
}

// errorResult creates an MCP error result.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}
