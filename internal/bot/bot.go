// Package bot is the orchestrator behind the interactive command: it starts
// the registry tool, asks it to start the requested tool and calls one of
// that tool's operations.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/bobmcallan/toolmesh/internal/llm"
	"github.com/bobmcallan/toolmesh/internal/schema"
)

const (
	// RegistryTool is started before anything else.
	RegistryTool = "registry_tool"
	// DefaultTool receives input that is not a request object.
	DefaultTool = "chat"

	startOperation = "start_tool"
)

// Request is one line of bot input.
type Request struct {
	Tool      string         `json:"tool"`
	Operation string         `json:"operation,omitempty"`
	Inputs    map[string]any `json:"inputs"`
}

// ParseRequest decodes raw as a Request. Anything else, including JSON
// without a tool, becomes a chat message.
func ParseRequest(raw string) Request {
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err == nil && req.Tool != "" {
		if req.Inputs == nil {
			req.Inputs = map[string]any{}
		}
		return req
	}
	return Request{
		Tool:   DefaultTool,
		Inputs: map[string]any{"message": strings.TrimSpace(raw)},
	}
}

// Registry is the orchestrator's own tool registry.
type Registry interface {
	GetOrStart(ctx context.Context, name string) (*schema.ToolSchema, error)
	RegisterExternal(s *schema.ToolSchema) (string, error)
	Lookup(name string) (*schema.ToolSchema, bool)
	ShutdownAll(ctx context.Context) (int, error)
}

// Caller performs a dispatched function call.
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any, depth int) ([]byte, error)
}

// Bot routes requests to tools.
type Bot struct {
	registry Registry
	caller   Caller
	client   *httpx.Client
	logger   *common.Logger
}

// New creates a Bot.
func New(reg Registry, caller Caller, client *httpx.Client, logger *common.Logger) *Bot {
	return &Bot{registry: reg, caller: caller, client: client, logger: logger}
}

// Handle serves one request and returns the text to show. A failing model
// endpoint behind the chat tool is reported as llm.ErrModelEndpoint.
func (b *Bot) Handle(ctx context.Context, req Request) (string, error) {
	if _, err := b.registry.GetOrStart(ctx, RegistryTool); err != nil {
		return "", fmt.Errorf("start %s: %w", RegistryTool, err)
	}

	target, err := b.ensure(ctx, req.Tool)
	if err != nil {
		return "", err
	}

	op := req.Operation
	if op == "" {
		refs := target.Operations()
		if len(refs) == 0 {
			return "", fmt.Errorf("tool %s declares no operations", req.Tool)
		}
		op = refs[0].FunctionName()
	}

	b.logger.Info().Str("tool", req.Tool).Str("operation", op).Msg("calling tool")
	body, err := b.caller.Call(ctx, op, req.Inputs, dispatch.External)
	if err != nil {
		var status *httpx.StatusError
		if errors.As(err, &status) && status.Status == http.StatusBadGateway {
			return "", fmt.Errorf("%w: %s", llm.ErrModelEndpoint, strings.TrimSpace(string(status.Body)))
		}
		return "", fmt.Errorf("call %s: %w", op, err)
	}
	return Render(body), nil
}

// ensure returns the schema of tool, starting it through the registry tool.
func (b *Bot) ensure(ctx context.Context, tool string) (*schema.ToolSchema, error) {
	if s, ok := b.registry.Lookup(tool); ok {
		return s, nil
	}
	body, err := b.caller.Call(ctx, startOperation, map[string]any{"name": tool}, dispatch.External)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", tool, err)
	}
	s, err := schema.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", tool, err)
	}
	if _, err := b.registry.RegisterExternal(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Render shows a chat reply as its content and anything else as indented JSON.
func Render(body []byte) string {
	var reply struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(body, &reply); err == nil && reply.Content != nil {
		return *reply.Content
	}
	return dispatch.Indent(body)
}

// Shutdown asks the registry tool to terminate what it started, then
// terminates the processes this bot started.
func (b *Bot) Shutdown(ctx context.Context) (int, error) {
	if rt, ok := b.registry.Lookup(RegistryTool); ok {
		url := rt.BaseURL() + "/shutdown"
		body, err := b.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
		})
		if err != nil {
			b.logger.Warn().Str("url", url).Str("error", err.Error()).Msg("registry tool shutdown failed")
		} else {
			b.logger.Debug().Str("response", string(body)).Msg("registry tool shut down")
		}
	}
	return b.registry.ShutdownAll(ctx)
}
