package server

import (
	"net/http"

	"github.com/bobmcallan/toolmesh/internal/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies; chat transcripts are the largest.
const maxBodyBytes = 4 << 20

// setupRoutes configures the middleware chain and every route the app provides.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.correlationIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.maxBodySizeMiddleware(maxBodyBytes))
	r.Use(s.recoveryMiddleware)

	r.NotFound(s.handleNotFound)

	// Self-description
	r.Get(schema.DocumentPath, s.app.SchemaHandler.ServeHTTP)

	// API routes
	r.Get("/api/health", s.app.HealthHandler.ServeHTTP)
	r.Get("/api/version", s.app.VersionHandler.ServeHTTP)

	if h := s.app.RegistryHandler; h != nil {
		r.Post("/start", h.Start)
		r.Get("/list", h.List)
		r.Post("/shutdown", h.Shutdown)
	}

	// MCP endpoint (streamable HTTP)
	if s.app.MCPHandler != nil {
		r.Handle("/mcp", s.app.MCPHandler)
	}

	if h := s.app.ChatHandler; h != nil {
		r.Post("/chat", h.Chat)
		r.Get("/tools", h.Tools)
		r.Get("/tools/schemas", h.Schemas)
	}

	if h := s.app.SearchHandler; h != nil {
		r.Post("/search", h.Search)
	}

	return r
}

// handleNotFound returns a JSON 404 for unmatched routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"Not Found","message":"The requested endpoint does not exist"}`))
}
