package mcp

import (
	"github.com/mark3labs/mcp-go/server"
)

// RegisterToolsFromCatalog registers MCP tools for catalog entries.
func RegisterToolsFromCatalog(s *server.MCPServer, c Caller, catalog []CatalogTool) int {
	for _, ct := range catalog {
		s.AddTool(BuildMCPTool(ct), GenericToolHandler(c, ct))
	}
	return len(catalog)
}
