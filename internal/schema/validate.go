package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedSchema marks a self-description that failed structural checks.
var ErrMalformedSchema = errors.New("malformed self-description")

// MalformedError lists why a document was rejected.
type MalformedError struct {
	Reasons []string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedSchema, strings.Join(e.Reasons, "; "))
}

func (e *MalformedError) Unwrap() error { return ErrMalformedSchema }

//go:embed selfdescription.json
var selfDescriptionSchema []byte

var structural = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(selfDescriptionSchema))
})

// Validate checks that data has the fields a self-description needs: info.title,
// at least one server with a url, and a paths object. Nothing deeper is enforced.
func Validate(data []byte) error {
	s, err := structural()
	if err != nil {
		return fmt.Errorf("compile structural schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &MalformedError{Reasons: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		reasons = append(reasons, re.String())
	}
	return &MalformedError{Reasons: reasons}
}

// Parse validates and decodes a self-description. Malformed documents are
// rejected whole, never partially decoded.
func Parse(data []byte) (*ToolSchema, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var s ToolSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &MalformedError{Reasons: []string{err.Error()}}
	}
	return &s, nil
}
