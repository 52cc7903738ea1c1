package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// validator checks request bodies against the JSON schema reflected from T.
type validator[T any] struct {
	resolved func() (*jsonschema.Resolved, error)
}

func newValidator[T any]() *validator[T] {
	return &validator[T]{resolved: sync.OnceValues(func() (*jsonschema.Resolved, error) {
		s, err := jsonschema.For[T](nil)
		if err != nil {
			return nil, err
		}
		// callers are models; tolerate extra fields
		s.AdditionalProperties = nil
		return s.Resolve(nil)
	})}
}

// Decode validates data and unmarshals it into a T.
func (v *validator[T]) Decode(data []byte) (T, error) {
	var out T
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return out, fmt.Errorf("invalid JSON: %w", err)
	}
	rs, err := v.resolved()
	if err != nil {
		return out, fmt.Errorf("request schema: %w", err)
	}
	if err := rs.Validate(instance); err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid request: %w", err)
	}
	return out, nil
}

// readBody reads the whole request body.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
