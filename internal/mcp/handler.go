// Package mcp exposes every dispatchable operation of the registry as an MCP
// tool over streamable HTTP.
package mcp

import (
	"net/http"
	"slices"
	"sync"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/schema"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// SchemaSource supplies the registered self-descriptions.
type SchemaSource interface {
	Schemas() []*schema.ToolSchema
}

// Handler is the HTTP handler for the MCP endpoint.
// It wraps mcp-go's StreamableHTTPServer and delegates to it.
type Handler struct {
	server     *mcpserver.MCPServer
	streamable *mcpserver.StreamableHTTPServer
	source     SchemaSource
	caller     Caller
	logger     *common.Logger

	mu      sync.Mutex
	catalog []CatalogTool
}

// NewHandler creates an MCP handler for the named process. Tools are synced
// from source before every request, so newly started tools appear without a
// restart.
func NewHandler(process string, source SchemaSource, caller Caller, logger *common.Logger) *Handler {
	mcpSrv := mcpserver.NewMCPServer(
		process,
		config.GetVersion(),
		mcpserver.WithToolCapabilities(true),
	)

	h := &Handler{
		server: mcpSrv,
		source: source,
		caller: caller,
		logger: logger,
	}

	mcpSrv.AddTool(VersionTool(), VersionToolHandler(process, func() int { return len(h.Catalog()) }))

	h.streamable = mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(depthFromRequest),
	)

	n := h.Sync()
	logger.Info().Str("process", process).Int("tools", n).Msg("MCP handler initialized")
	return h
}

// Catalog returns a copy of the currently registered tool catalog.
func (h *Handler) Catalog() []CatalogTool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.catalog)
}

// Sync registers tools for new operations and removes tools whose operation
// is gone. It returns the number of registered operation tools.
func (h *Handler) Sync() int {
	next := BuildCatalog(dispatch.Functions(h.source.Schemas()), h.logger)

	h.mu.Lock()
	defer h.mu.Unlock()

	current := make(map[string]bool, len(next))
	for _, ct := range next {
		current[ct.Name] = true
	}
	var stale []string
	for _, ct := range h.catalog {
		if !current[ct.Name] {
			stale = append(stale, ct.Name)
		}
	}
	if len(stale) > 0 {
		h.server.DeleteTools(stale...)
	}

	var added []CatalogTool
	for _, ct := range next {
		if !slices.ContainsFunc(h.catalog, func(old CatalogTool) bool { return old.Name == ct.Name }) {
			added = append(added, ct)
		}
	}
	RegisterToolsFromCatalog(h.server, h.caller, added)

	if len(stale) > 0 || len(added) > 0 {
		h.logger.Debug().Int("added", len(added)).Int("removed", len(stale)).Msg("MCP tools synced")
	}
	h.catalog = next
	return len(next)
}

// ServeHTTP syncs the tool list and delegates to the streamable server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Sync()
	h.streamable.ServeHTTP(w, r)
}
