package mcp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobmcallan/toolmesh/internal/dispatch"
)

// depthKey is the context key for the call depth of an MCP request.
type depthKey struct{}

// WithDepth returns a new context carrying the call depth.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFrom extracts the call depth from the context. Missing means 0.
func DepthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// depthFromRequest copies the X-Tool-Depth header into the request context.
func depthFromRequest(ctx context.Context, r *http.Request) context.Context {
	n, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(dispatch.DepthHeader)))
	if err != nil || n < 0 {
		n = 0
	}
	return WithDepth(ctx, n)
}
