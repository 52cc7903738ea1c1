// Package chat runs the depth-bounded conversation between a model and the
// registered tools.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/llm"
	"github.com/bobmcallan/toolmesh/internal/schema"
)

// ToolName is the name the chat capability registers under. It is never
// offered to the model.
const ToolName = "chat"

// MaxDepthReply is returned without contacting the model once the call depth
// reaches the configured maximum.
const MaxDepthReply = "You have reached the maximum depth of chat calls!"

const systemPrompt = `You are a chat bot that responds directly to the human user.
In some cases, the user may make a request that requires the use of tools.
You have access to a strict list of tools.
Tool outputs are not visible to the user, so you should read their output to answer the user's prompt.
When invoking a tool, you must pick one from the provided list.`

// Registry is the schema store the loop reads functions from and admits tools into.
type Registry interface {
	Schemas() []*schema.ToolSchema
	Admit(ctx context.Context, url string) (string, error)
	RegisterExternal(s *schema.ToolSchema) (string, error)
}

// Invoker executes a function call and renders the outcome as text.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any, depth int) string
}

// Request is one chat turn from a user or another tool.
type Request struct {
	Message     string
	Model       string
	Temperature *float64
	Depth       int
}

// Loop drives the model until it stops calling functions.
type Loop struct {
	provider llm.Provider
	registry Registry
	invoker  Invoker
	cfg      config.ChatConfig
	logger   *common.Logger
}

// NewLoop creates a Loop.
func NewLoop(provider llm.Provider, registry Registry, invoker Invoker, cfg config.ChatConfig, logger *common.Logger) *Loop {
	return &Loop{provider: provider, registry: registry, invoker: invoker, cfg: cfg, logger: logger}
}

// Functions returns what the model is offered: every registered operation
// except the chat capability itself, plus request_tool.
func (l *Loop) Functions() []dispatch.FunctionSpec {
	return dispatch.Functions(l.registry.Schemas(), ToolName)
}

// Run answers req. A model endpoint failure is returned as is; every tool
// failure is folded into the transcript.
func (l *Loop) Run(ctx context.Context, req Request) (string, error) {
	if req.Depth >= l.cfg.MaxDepth {
		l.logger.Warn().Int("depth", req.Depth).Int("max_depth", l.cfg.MaxDepth).Msg("chat depth saturated")
		return MaxDepthReply, nil
	}

	model := req.Model
	if model == "" {
		model = l.cfg.Model
	}
	temperature := l.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: req.Message},
	}

	start := time.Now()
	maxTurns := max(l.cfg.MaxTurns, 1)
	var last *llm.Message
	for turn := 1; turn <= maxTurns; turn++ {
		reply, err := l.provider.Complete(ctx, llm.Request{
			Model:       model,
			Messages:    messages,
			Tools:       l.Functions(),
			Temperature: temperature,
		})
		if err != nil {
			l.logger.Error().Str("model", model).Int("turn", turn).Str("error", err.Error()).Msg("model request failed")
			return "", err
		}
		last = reply

		if len(reply.ToolCalls) == 0 {
			l.logger.Info().
				Str("model", model).
				Int("depth", req.Depth).
				Int("turns", turn).
				Dur("elapsed", time.Since(start)).
				Msg("chat complete")
			return reply.Content, nil
		}

		messages = append(messages, *reply)
		for _, call := range reply.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    l.execute(ctx, call, req.Depth),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	l.logger.Warn().Str("model", model).Int("max_turns", maxTurns).Msg("chat turn limit reached")
	return last.Content, nil
}

func (l *Loop) execute(ctx context.Context, call llm.ToolCall, depth int) string {
	args := call.Args()
	l.logger.Info().Str("function", call.Name).Int("depth", depth).Msg("tool call")

	if call.Name == dispatch.RequestToolName {
		return l.requestTool(ctx, args)
	}

	result := l.invoker.Invoke(ctx, call.Name, args, depth)
	if l.cfg.AutoAdmit {
		l.admitResult(result)
	}
	return result
}

func (l *Loop) requestTool(ctx context.Context, args map[string]any) string {
	url, _ := args["url"].(string)
	if url == "" {
		return "Error! request_tool needs a url"
	}
	name, err := l.registry.Admit(ctx, url)
	if err != nil {
		l.logger.Warn().Str("url", url).Str("error", err.Error()).Msg("request_tool failed")
		return fmt.Sprintf("Error requesting tool at %s: %v", url, err)
	}
	return fmt.Sprintf("Tool %s has been added to the context.", name)
}

// admitResult registers results that are themselves self-descriptions, as
// returned by start_tool.
func (l *Loop) admitResult(result string) {
	if !json.Valid([]byte(result)) {
		return
	}
	s, err := schema.Parse([]byte(result))
	if err != nil {
		return
	}
	if name, err := l.registry.RegisterExternal(s); err == nil {
		l.logger.Info().Str("tool", name).Msg("tool admitted from result")
	}
}
