package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/proc"
	"github.com/bobmcallan/toolmesh/internal/registry"
	"github.com/bobmcallan/toolmesh/internal/schema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolRegistry is the registry surface served by the registry tool.
type ToolRegistry interface {
	GetOrStart(ctx context.Context, name string) (*schema.ToolSchema, error)
	List() (*orderedmap.OrderedMap[string, registry.ToolStatus], error)
	ShutdownAll(ctx context.Context) (int, error)
	RequestShutdown()
}

// RegistryHandler serves /start, /list and /shutdown.
type RegistryHandler struct {
	registry ToolRegistry
	logger   *common.Logger
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(reg ToolRegistry, logger *common.Logger) *RegistryHandler {
	return &RegistryHandler{registry: reg, logger: logger}
}

// Start handles POST /start. It answers with the started tool's self-description.
func (h *RegistryHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	data, err := readBody(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := startValidator.Decode(data)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.registry.GetOrStart(r.Context(), req.Name)
	if err != nil {
		h.logger.Error().Str("tool", req.Name).Str("error", err.Error()).Msg("start failed")
		status := http.StatusInternalServerError
		if errors.Is(err, proc.ErrInvalidName) || errors.Is(err, proc.ErrExecutableNotFound) {
			status = http.StatusNotFound
		}
		WriteError(w, status, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, s)
}

// List handles GET /list.
func (h *RegistryHandler) List(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	tools, err := h.registry.List()
	if err != nil {
		h.logger.Error().Str("error", err.Error()).Msg("list failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, tools)
}

// Shutdown handles POST /shutdown: every started tool is terminated, then the
// process owning the registry is asked to exit.
func (h *RegistryHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	n, err := h.registry.ShutdownAll(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.Warn().Str("error", err.Error()).Int("terminated", n).Msg("shutdown finished with errors")
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"terminated": n,
	})
	h.registry.RequestShutdown()
}

// startOperation describes POST /start in the registry self-description.
func startOperation() (*schema.Operation, error) {
	body, err := schema.BodyFor[StartRequest]()
	if err != nil {
		return nil, fmt.Errorf("start request schema: %w", err)
	}
	return &schema.Operation{
		OperationID: "start_tool",
		Summary:     "Start a tool, adding it to the registry.",
		RequestBody: body,
	}, nil
}

// DescribeRegistry declares the registry tool operations on s.
func DescribeRegistry(s *schema.ToolSchema) error {
	start, err := startOperation()
	if err != nil {
		return err
	}
	s.AddOperation("/start", "post", start)
	s.AddOperation("/list", "get", &schema.Operation{
		OperationID: "list_tools",
		Summary:     "List the available tools.",
		Description: "Once a tool has been started, it should be listed in the response.",
	})
	return nil
}
