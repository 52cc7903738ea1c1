package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// PathItem holds the operations of one path in document order. Non-method
// keys (summary, shared parameters) are dropped on decode.
type PathItem struct {
	ops *orderedmap.OrderedMap[string, *Operation]
}

// NewPathItem creates an empty PathItem.
func NewPathItem() *PathItem {
	return &PathItem{ops: orderedmap.New[string, *Operation]()}
}

// Set declares op for method (stored lowercase).
func (p *PathItem) Set(method string, op *Operation) {
	p.ops.Set(strings.ToLower(method), op)
}

// Get returns the operation declared for method.
func (p *PathItem) Get(method string) (*Operation, bool) {
	return p.ops.Get(strings.ToLower(method))
}

// Len returns the number of operations.
func (p *PathItem) Len() int {
	return p.ops.Len()
}

func (p *PathItem) each(fn func(method string, op *Operation)) {
	for pair := p.ops.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// MarshalJSON implements json.Marshaler.
func (p *PathItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ops)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PathItem) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, raw); err != nil {
		return err
	}
	p.ops = orderedmap.New[string, *Operation]()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		method := strings.ToLower(pair.Key)
		if !httpMethods[method] {
			continue
		}
		var op Operation
		if err := json.Unmarshal(pair.Value, &op); err != nil {
			return fmt.Errorf("operation %s: %w", method, err)
		}
		p.ops.Set(method, &op)
	}
	return nil
}
