package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobmcallan/toolmesh/internal/chat"
	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/llm"
	"github.com/bobmcallan/toolmesh/internal/schema"
)

// ChatLoop runs one chat request.
type ChatLoop interface {
	Run(ctx context.Context, req chat.Request) (string, error)
	Functions() []dispatch.FunctionSpec
}

// SchemaSet exposes the schemas the chat tool knows about.
type SchemaSet interface {
	SchemasByName() map[string]*schema.ToolSchema
}

// ChatHandler serves the chat tool.
type ChatHandler struct {
	loop    ChatLoop
	schemas SchemaSet
	logger  *common.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(loop ChatLoop, schemas SchemaSet, logger *common.Logger) *ChatHandler {
	return &ChatHandler{loop: loop, schemas: schemas, logger: logger}
}

// Chat handles POST /chat. A body that is not a valid chat request is used
// verbatim as the message.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	data, err := readBody(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := chatValidator.Decode(data)
	if err != nil {
		h.logger.Debug().Str("error", err.Error()).Msg("malformed chat request, using raw body as message")
		req = ChatRequest{Message: string(data)}
	}
	depth := RequestDepth(r.Header.Get(dispatch.DepthHeader), data)

	content, err := h.loop.Run(r.Context(), chat.Request{
		Message:     req.Message,
		Model:       req.Model,
		Temperature: req.Temperature,
		Depth:       depth,
	})
	if err != nil {
		h.logger.Error().Int("depth", depth).Str("error", err.Error()).Msg("chat failed")
		status := http.StatusInternalServerError
		if errors.Is(err, llm.ErrModelEndpoint) {
			status = http.StatusBadGateway
		}
		WriteError(w, status, err.Error())
		return
	}

	w.Header().Set(dispatch.DepthHeader, strconv.Itoa(depth))
	WriteJSON(w, http.StatusOK, ChatResponse{Content: content, Depth: depth})
}

// Tools handles GET /tools with the functions offered to the model.
func (h *ChatHandler) Tools(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, dispatch.OpenAITools(h.loop.Functions()))
}

// Schemas handles GET /tools/schemas with every known self-description by name.
func (h *ChatHandler) Schemas(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.schemas.SchemasByName())
}

// RequestDepth resolves the call depth. A present header wins over the body
// field; missing or unparsable values are 0.
func RequestDepth(header string, body []byte) int {
	if header = strings.TrimSpace(header); header != "" {
		return parseDepth(header)
	}
	var field struct {
		Depth any `json:"depth"`
	}
	if json.Unmarshal(body, &field) != nil || field.Depth == nil {
		return 0
	}
	return parseDepth(fmt.Sprint(field.Depth))
}

func parseDepth(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		n = int(f)
	}
	return max(n, 0)
}

// DescribeChat declares the chat tool operations on s.
func DescribeChat(s *schema.ToolSchema) error {
	body, err := schema.BodyFor[ChatRequest]()
	if err != nil {
		return fmt.Errorf("chat request schema: %w", err)
	}
	s.AddOperation("/chat", "post", &schema.Operation{
		OperationID: chat.ToolName,
		Summary:     "Instruct a large language model on what to do. Be sure to describe the user's intent.",
		RequestBody: body,
	})
	s.AddOperation("/tools", "get", &schema.Operation{
		OperationID: "list_functions",
		Summary:     "List the functions offered to the model.",
	})
	return nil
}
