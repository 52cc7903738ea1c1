package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/httpx"
)

// Ollama speaks the /api/chat protocol of an Ollama server.
type Ollama struct {
	url    string
	client *httpx.Client
	logger *common.Logger
}

// NewOllama creates a provider posting to url, usually http://localhost:11434/api/chat.
func NewOllama(url string, client *httpx.Client, logger *common.Logger) *Ollama {
	return &Ollama{url: url, client: client, logger: logger}
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaMessage     `json:"messages"`
	Tools    []dispatch.ToolSpec `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Complete implements Provider.
func (p *Ollama) Complete(ctx context.Context, req Request) (*Message, error) {
	body := ollamaRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if len(req.Tools) > 0 {
		body.Tools = dispatch.OpenAITools(req.Tools)
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content, ToolName: m.Name}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Name
			call.Function.Arguments = objectArgs(tc)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		body.Messages = append(body.Messages, om)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	start := time.Now()
	data, err := p.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, endpointError(err)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &EndpointError{Err: fmt.Errorf("decode chat response: %w", err)}
	}
	if resp.Error != "" {
		return nil, &EndpointError{Err: fmt.Errorf("%s", resp.Error)}
	}

	p.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tool_calls", len(resp.Message.ToolCalls)).
		Dur("elapsed", time.Since(start)).
		Msg("chat response received")

	out := &Message{Role: RoleAssistant, Content: resp.Message.Content}
	for _, tc := range resp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        callID(""),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// objectArgs re-encodes call arguments as a JSON object.
func objectArgs(tc ToolCall) json.RawMessage {
	data, err := json.Marshal(tc.Args())
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
