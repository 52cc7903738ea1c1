package registry

import (
	"fmt"
	"slices"

	"github.com/bobmcallan/toolmesh/internal/schema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tool statuses reported by List.
const (
	StatusStarted = "Started"
	StatusStopped = "Stopped"
)

// ToolStatus is one row of List.
type ToolStatus struct {
	Status string       `json:"status"`
	Info   *schema.Info `json:"info"`
}

// List reports every catalog tool and every registered tool, sorted by name.
// Registered tools are Started and carry their info block.
func (r *Registry) List() (*orderedmap.OrderedMap[string, ToolStatus], error) {
	var names []string
	if r.catalog != nil {
		catalogNames, err := r.catalog.Names()
		if err != nil {
			return nil, fmt.Errorf("list catalog: %w", err)
		}
		names = append(names, catalogNames...)
	}

	r.mu.Lock()
	registered := make(map[string]schema.Info, len(r.entries))
	for name, e := range r.entries {
		registered[name] = e.schema.Info
		names = append(names, name)
	}
	r.mu.Unlock()

	slices.Sort(names)
	names = slices.Compact(names)

	out := orderedmap.New[string, ToolStatus](len(names))
	for _, name := range names {
		st := ToolStatus{Status: StatusStopped}
		if info, ok := registered[name]; ok {
			st = ToolStatus{Status: StatusStarted, Info: &info}
		}
		out.Set(name, st)
	}
	return out, nil
}
