package handlers

import (
	"net/http"

	"github.com/bobmcallan/toolmesh/internal/config"
)

// VersionHandler handles version information requests.
type VersionHandler struct {
	process string
}

// NewVersionHandler creates a version handler for the named tool process.
func NewVersionHandler(process string) *VersionHandler {
	return &VersionHandler{process: process}
}

// ServeHTTP handles GET /api/version.
func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, config.VersionInfo(h.process))
}
