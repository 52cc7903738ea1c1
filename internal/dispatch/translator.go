package dispatch

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/bobmcallan/toolmesh/internal/schema"
	"github.com/google/jsonschema-go/jsonschema"
)

// RequestToolName is the reserved function that admits a running tool by URL.
const RequestToolName = "request_tool"

const requestToolDescription = "Request access to a tool, given its URL. The tool must be started (running) " +
	"and serve `/openapi.json`. If successful, the tool name will become invocable by the LLM."

// FunctionSpec is a function a model may call.
type FunctionSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// ToolSpec is the {"type":"function","function":{...}} envelope used by
// OpenAI-compatible endpoints.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// Functions translates every operation of schemas into a FunctionSpec.
// Tools and functions named in exclude are skipped. The reserved
// request_tool function is always appended last.
func Functions(schemas []*schema.ToolSchema, exclude ...string) []FunctionSpec {
	var specs []FunctionSpec
	for _, s := range schemas {
		if slices.Contains(exclude, s.Name()) {
			continue
		}
		for _, ref := range s.Operations() {
			name := ref.FunctionName()
			if slices.Contains(exclude, name) {
				continue
			}
			specs = append(specs, FunctionSpec{
				Name:        name,
				Description: describe(ref),
				Parameters:  parameters(ref.Operation),
			})
		}
	}
	return append(specs, RequestTool())
}

// RequestTool returns the request_tool descriptor.
func RequestTool() FunctionSpec {
	return FunctionSpec{
		Name:        RequestToolName,
		Description: requestToolDescription,
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"url": {Type: "string", Description: "base URL of the running tool"},
			},
			Required: []string{"url"},
		},
	}
}

// OpenAITools wraps specs in the OpenAI tool envelope.
func OpenAITools(specs []FunctionSpec) []ToolSpec {
	out := make([]ToolSpec, len(specs))
	for i, s := range specs {
		out[i] = ToolSpec{Type: "function", Function: s}
	}
	return out
}

func describe(ref schema.OperationRef) string {
	switch {
	case ref.Operation != nil && ref.Operation.Summary != "":
		return ref.Operation.Summary
	case ref.Operation != nil && ref.Operation.Description != "":
		return ref.Operation.Description
	default:
		return fmt.Sprintf("%s %s", strings.ToUpper(ref.Method), ref.Path)
	}
}

// parameters merges declared parameters and request body properties into
// one object schema.
func parameters(op *schema.Operation) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
	if op == nil {
		return out
	}

	var required []string
	for _, p := range op.Parameters {
		typ := "string"
		if p.Schema != nil && p.Schema.Type != "" {
			typ = p.Schema.Type
		}
		desc := p.Description
		if desc == "" {
			desc = "parameter " + p.Name
		}
		out.Properties[p.Name] = &jsonschema.Schema{Type: typ, Description: desc}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if op.RequestBody != nil && op.RequestBody.Schema != nil {
		body := op.RequestBody.Schema
		if body.Properties != nil {
			for pair := body.Properties.Oldest(); pair != nil; pair = pair.Next() {
				out.Properties[pair.Key] = property(pair.Value)
			}
		}
		required = append(required, body.Required...)
	}

	out.Required = dedupe(required)
	return out
}

func property(raw json.RawMessage) *jsonschema.Schema {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return &jsonschema.Schema{Type: "string"}
	}
	return &s
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
