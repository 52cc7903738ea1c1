// Package dispatch resolves model-issued function calls to tool endpoints
// and turns registered self-descriptions into callable function specs.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/bobmcallan/toolmesh/internal/schema"
)

// DepthHeader carries the chat recursion depth between tool processes.
const DepthHeader = "X-Tool-Depth"

// External is the depth of a caller outside the tool tree. Its requests
// carry no DepthHeader, so the receiving tool runs at depth 0.
const External = -1

var (
	// ErrNoMatch is returned when no registered operation has the requested name.
	ErrNoMatch = errors.New("no matching path or method")
	// ErrUnsupportedMethod is returned for operations that are neither GET nor POST.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")
)

// HTTPError is a non-2xx answer from a tool.
type HTTPError = httpx.StatusError

// SchemaSource supplies registered self-descriptions in registration order.
type SchemaSource interface {
	Schemas() []*schema.ToolSchema
}

// Target is a resolved operation.
type Target struct {
	Tool      string
	BaseURL   string
	Path      string
	Method    string
	Operation *schema.Operation
}

// URL joins the base URL and path.
func (t Target) URL() string {
	return t.BaseURL + t.Path
}

// Dispatcher routes function calls to the tool that declares them.
type Dispatcher struct {
	source SchemaSource
	client *httpx.Client
	logger *common.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// New creates a Dispatcher over source.
func New(source SchemaSource, client *httpx.Client, logger *common.Logger) *Dispatcher {
	return &Dispatcher{
		source: source,
		client: client,
		logger: logger,
		warned: make(map[string]bool),
	}
}

// Resolve finds the first operation named name, scanning schemas in
// registration order and operations in document order.
func (d *Dispatcher) Resolve(name string) (Target, error) {
	var (
		found  Target
		ok     bool
		owners []string
	)
	for _, s := range d.source.Schemas() {
		for _, ref := range s.Operations() {
			if ref.FunctionName() != name {
				continue
			}
			if !ok {
				found = Target{
					Tool:      s.Name(),
					BaseURL:   s.BaseURL(),
					Path:      ref.Path,
					Method:    strings.ToUpper(ref.Method),
					Operation: ref.Operation,
				}
				ok = true
			}
			owners = append(owners, s.Name())
		}
	}
	if !ok {
		return Target{}, fmt.Errorf("%w for tool: %s", ErrNoMatch, name)
	}
	if len(owners) > 1 {
		d.warnCollision(name, owners)
	}
	return found, nil
}

func (d *Dispatcher) warnCollision(name string, owners []string) {
	d.mu.Lock()
	seen := d.warned[name]
	d.warned[name] = true
	d.mu.Unlock()
	if seen {
		return
	}
	d.logger.Warn().
		Str("function", name).
		Str("owners", strings.Join(owners, ",")).
		Str("using", owners[0]).
		Msg("function name declared by several tools")
}

// Call performs the HTTP request for function name. The outgoing request
// carries depth+1 in DepthHeader unless depth is External.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any, depth int) ([]byte, error) {
	t, err := d.Resolve(name)
	if err != nil {
		return nil, err
	}
	if t.Method != http.MethodGet && t.Method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, t.Method)
	}

	args = cloneArgs(args)
	target := t.BaseURL + substitutePath(t.Path, args)

	var body []byte
	if t.Method == http.MethodPost {
		if body, err = json.Marshal(args); err != nil {
			return nil, fmt.Errorf("encode arguments for %s: %w", name, err)
		}
	} else if len(args) > 0 {
		target += "?" + encodeQuery(args)
	}

	d.logger.Debug().
		Str("function", name).
		Str("tool", t.Tool).
		Str("method", t.Method).
		Str("url", target).
		Int("depth", depth).
		Msg("dispatching")

	return d.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := newRequest(ctx, t.Method, target, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if depth > External {
			req.Header.Set(DepthHeader, strconv.Itoa(depth+1))
		}
		return req, nil
	})
}

func newRequest(ctx context.Context, method, target string, body *bytes.Reader) (*http.Request, error) {
	if body == nil {
		return http.NewRequestWithContext(ctx, method, target, nil)
	}
	return http.NewRequestWithContext(ctx, method, target, body)
}

// Invoke is Call with every failure folded into the returned text, so the
// conversation can carry on.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any, depth int) string {
	body, err := d.Call(ctx, name, args, depth)
	switch {
	case err == nil:
		return Indent(body)
	case errors.Is(err, ErrNoMatch):
		return "Error! No matching path or method for tool: " + name
	case errors.Is(err, ErrUnsupportedMethod):
		return err.Error()
	default:
		d.logger.Warn().Str("function", name).Str("error", err.Error()).Msg("tool call failed")
		return fmt.Sprintf("Error invoking tool %s: %v", name, err)
	}
}

// Indent re-indents a JSON body with four spaces. Anything else is returned as is.
func Indent(body []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(body), "", "    "); err != nil {
		return string(body)
	}
	return out.String()
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// substitutePath replaces {param} segments with the matching argument and
// removes the argument from args.
func substitutePath(path string, args map[string]any) string {
	if !strings.Contains(path, "{") {
		return path
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if len(seg) < 3 || seg[0] != '{' || seg[len(seg)-1] != '}' {
			continue
		}
		key := seg[1 : len(seg)-1]
		if v, ok := args[key]; ok {
			segments[i] = url.PathEscape(scalar(v))
			delete(args, key)
		}
	}
	return strings.Join(segments, "/")
}

func encodeQuery(args map[string]any) string {
	q := url.Values{}
	for k, v := range args {
		switch vv := v.(type) {
		case []any:
			for _, item := range vv {
				q.Add(k, scalar(item))
			}
		default:
			q.Set(k, scalar(v))
		}
	}
	return q.Encode()
}

func scalar(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool, int, int64, json.Number:
		return fmt.Sprint(vv)
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(b)
	}
}
