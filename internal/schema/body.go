package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const jsonMediaType = "application/json"

// BodySchema is the JSON schema of a request body. Property schemas are kept raw.
type BodySchema struct {
	Type       string                                          `json:"type,omitempty"`
	Required   []string                                        `json:"required,omitempty"`
	Properties *orderedmap.OrderedMap[string, json.RawMessage] `json:"properties,omitempty"`
}

// RequestBody accepts both {"application/json":{"schema":..}} and the standard
// {"content":{"application/json":{"schema":..}}} shape, and writes the former.
type RequestBody struct {
	Schema *BodySchema
}

type mediaType struct {
	Schema *BodySchema `json:"schema,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b *RequestBody) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]mediaType{jsonMediaType: {Schema: b.Schema}})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *RequestBody) UnmarshalJSON(data []byte) error {
	var raw struct {
		Legacy  *mediaType           `json:"application/json"`
		Content map[string]mediaType `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Legacy != nil:
		b.Schema = raw.Legacy.Schema
	case raw.Content != nil:
		if mt, ok := raw.Content[jsonMediaType]; ok {
			b.Schema = mt.Schema
		}
	}
	return nil
}

// BodyFor derives a request body from the JSON schema of T.
func BodyFor[T any]() (*RequestBody, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("reflect request schema: %w", err)
	}
	return BodyFromJSONSchema(s)
}

// BodyFromJSONSchema converts a jsonschema.Schema to a RequestBody.
func BodyFromJSONSchema(s *jsonschema.Schema) (*RequestBody, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var body BodySchema
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return &RequestBody{Schema: &body}, nil
}
