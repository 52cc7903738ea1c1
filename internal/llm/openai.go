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

// OpenAI speaks the chat completions protocol of OpenAI-compatible servers.
type OpenAI struct {
	url    string
	apiKey string
	client *httpx.Client
	logger *common.Logger
}

// NewOpenAI creates a provider posting to url, the full completions endpoint.
func NewOpenAI(url, apiKey string, client *httpx.Client, logger *common.Logger) *OpenAI {
	return &OpenAI{url: url, apiKey: apiKey, client: client, logger: logger}
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIMessage     `json:"messages"`
	Tools       []dispatch.ToolSpec `json:"tools,omitempty"`
	Temperature float64             `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete implements Provider.
func (p *OpenAI) Complete(ctx context.Context, req Request) (*Message, error) {
	body := openAIRequest{
		Model:       req.Model,
		Messages:    make([]openAIMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		body.Tools = dispatch.OpenAITools(req.Tools)
	}
	for _, m := range req.Messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openAIFunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		body.Messages = append(body.Messages, om)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	start := time.Now()
	data, err := p.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			r.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return r, nil
	})
	if err != nil {
		return nil, endpointError(err)
	}

	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &EndpointError{Err: fmt.Errorf("decode completion: %w", err)}
	}
	if resp.Error != nil {
		return nil, &EndpointError{Err: fmt.Errorf("%s (%s)", resp.Error.Message, resp.Error.Type)}
	}

	p.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("choices", len(resp.Choices)).
		Dur("elapsed", time.Since(start)).
		Msg("completion received")

	if len(resp.Choices) == 0 {
		return &Message{Role: RoleAssistant}, nil
	}
	choice := resp.Choices[0].Message
	out := &Message{Role: RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        callID(tc.ID),
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}
