package mcp

import (
	"context"
	"encoding/json"

	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// VersionToolName is always registered and never synced away.
const VersionToolName = "get_version"

// VersionTool returns the mcp.Tool definition for get_version.
func VersionTool() mcp.Tool {
	return mcp.NewTool(VersionToolName,
		mcp.WithDescription("Get the toolmesh version and the number of dispatchable tools. Use this to verify connectivity."),
	)
}

// VersionToolHandler reports build metadata and the current tool count.
func VersionToolHandler(process string, count func() int) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		info := map[string]any{}
		for k, v := range config.VersionInfo(process) {
			info[k] = v
		}
		info["tools"] = count()

		out, err := json.Marshal(info)
		if err != nil {
			return errorResult("failed to marshal version info"), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
