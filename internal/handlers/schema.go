package handlers

import (
	"net/http"

	"github.com/bobmcallan/toolmesh/internal/schema"
)

// SchemaHandler serves a tool's own self-description.
type SchemaHandler struct {
	self *schema.ToolSchema
}

// NewSchemaHandler creates a handler serving self.
func NewSchemaHandler(self *schema.ToolSchema) *SchemaHandler {
	return &SchemaHandler{self: self}
}

// ServeHTTP handles GET /openapi.json.
func (h *SchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.self)
}
