// Package llm talks to chat-completion model endpoints.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrModelEndpoint marks every failure to get a completion from the model.
var ErrModelEndpoint = errors.New("model endpoint failure")

// EndpointError reports a failed model request. Status is 0 when no
// response was received.
type EndpointError struct {
	Status int
	Body   string
	Err    error
}

func (e *EndpointError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model endpoint returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("model endpoint: %v", e.Err)
}

func (e *EndpointError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrModelEndpoint}
	}
	return []error{ErrModelEndpoint, e.Err}
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Args decodes the call arguments. Anything that is not a JSON object yields
// an empty map.
func (c ToolCall) Args() map[string]any {
	args := map[string]any{}
	raw := strings.TrimSpace(string(c.Arguments))
	if raw == "" {
		return args
	}
	// some endpoints double-encode arguments as a JSON string
	var s string
	if json.Unmarshal([]byte(raw), &s) == nil {
		raw = s
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// Message is one transcript entry.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Request is one completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []dispatch.FunctionSpec
	Temperature float64
}

// Provider returns the next assistant message for a transcript.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Message, error)
}

// New builds the provider named in cfg.
func New(cfg config.ChatConfig, client *httpx.Client, logger *common.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAI(cfg.URL, cfg.APIKey(), client, logger), nil
	case "ollama":
		return NewOllama(cfg.URL, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

func callID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// endpointError converts a transport or status failure.
func endpointError(err error) error {
	var status *httpx.StatusError
	if errors.As(err, &status) {
		return &EndpointError{Status: status.Status, Body: string(status.Body)}
	}
	return &EndpointError{Err: err}
}
