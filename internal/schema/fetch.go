package schema

import (
	"context"
	"fmt"

	"github.com/bobmcallan/toolmesh/internal/cache"
	"github.com/bobmcallan/toolmesh/internal/httpx"
)

// Fetcher retrieves and parses self-descriptions over HTTP.
type Fetcher struct {
	client *httpx.Client
	cache  *cache.DocumentCache
}

// NewFetcher creates a Fetcher. cache may be nil.
func NewFetcher(client *httpx.Client, docs *cache.DocumentCache) *Fetcher {
	return &Fetcher{client: client, cache: docs}
}

// Fetch retrieves the self-description served by the tool at base.
// base may be the tool root or the document URL itself.
func (f *Fetcher) Fetch(ctx context.Context, base string) (*ToolSchema, error) {
	url := DocumentURL(base)

	if f.cache != nil {
		if doc, ok := f.cache.Get(url); ok {
			return Parse(doc)
		}
	}

	doc, err := f.client.GetJSON(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	s, err := Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if f.cache != nil {
		f.cache.Set(url, doc)
	}
	return s, nil
}
