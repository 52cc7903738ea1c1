// Package schema models the self-description a tool serves at /openapi.json.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DocumentPath is where every tool serves its self-description.
const DocumentPath = "/openapi.json"

// OpenAPIVersion is the version string tools advertise.
const OpenAPIVersion = "3.1.0"

// Server identifies one reachable instance of a tool.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	Tool        string `json:"x-tool"`
}

// Info is the info block of a self-description.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Port        int    `json:"port,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ParameterSchema is the subset of a parameter schema that is read.
type ParameterSchema struct {
	Type string `json:"type,omitempty"`
}

// Parameter is a query, path or header parameter of an operation.
type Parameter struct {
	Name        string           `json:"name"`
	In          string           `json:"in,omitempty"`
	Description string           `json:"description,omitempty"`
	Required    bool             `json:"required,omitempty"`
	Schema      *ParameterSchema `json:"schema,omitempty"`
}

// Operation is one method on one path.
type Operation struct {
	OperationID string          `json:"operationId,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Description string          `json:"description,omitempty"`
	RequestBody *RequestBody    `json:"requestBody,omitempty"`
	Parameters  []Parameter     `json:"parameters,omitempty"`
	Responses   json.RawMessage `json:"responses,omitempty"`
}

// ToolSchema is a tool's self-description. It is immutable once fetched.
type ToolSchema struct {
	OpenAPI string                                   `json:"openapi"`
	Info    Info                                     `json:"info"`
	Servers []Server                                 `json:"servers"`
	Paths   *orderedmap.OrderedMap[string, *PathItem] `json:"paths"`
}

// New creates an empty self-description for a tool process.
func New(title, description, version string) *ToolSchema {
	return &ToolSchema{
		OpenAPI: OpenAPIVersion,
		Info: Info{
			Title:       title,
			Description: description,
			Version:     version,
		},
		Paths: orderedmap.New[string, *PathItem](),
	}
}

// Name returns the owning tool name: the first server's x-tool, else the title.
func (s *ToolSchema) Name() string {
	for _, srv := range s.Servers {
		if srv.Tool != "" {
			return srv.Tool
		}
	}
	return s.Info.Title
}

// BaseURL returns the first server URL without a trailing slash.
func (s *ToolSchema) BaseURL() string {
	if len(s.Servers) == 0 {
		return ""
	}
	return strings.TrimRight(s.Servers[0].URL, "/")
}

// AddOperation declares op on path for method. Later calls for the same
// path and method replace the earlier operation in place.
func (s *ToolSchema) AddOperation(path, method string, op *Operation) {
	if s.Paths == nil {
		s.Paths = orderedmap.New[string, *PathItem]()
	}
	item, ok := s.Paths.Get(path)
	if !ok {
		item = NewPathItem()
		s.Paths.Set(path, item)
	}
	item.Set(method, op)
}

// Bind sets the port, URL and single server entry of a self-description.
func (s *ToolSchema) Bind(tool, url string, port int) {
	s.Info.Port = port
	s.Info.URL = url
	s.Servers = []Server{{URL: url, Description: s.Info.Description, Tool: tool}}
}

// OperationRef locates an operation inside a schema.
type OperationRef struct {
	Path      string
	Method    string
	Operation *Operation
}

// FunctionName is the name the operation is exposed under.
func (r OperationRef) FunctionName() string {
	return FunctionName(r.Method, r.Path, r.Operation)
}

// Operations lists every operation in document order: paths first, then methods.
func (s *ToolSchema) Operations() []OperationRef {
	if s.Paths == nil {
		return nil
	}
	var refs []OperationRef
	for pair := s.Paths.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.each(func(method string, op *Operation) {
			refs = append(refs, OperationRef{Path: pair.Key, Method: method, Operation: op})
		})
	}
	return refs
}

// FunctionName returns op.OperationID, or method_pathslug when it is absent.
func FunctionName(method, path string, op *Operation) string {
	if op != nil && op.OperationID != "" {
		return op.OperationID
	}
	slug := strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
	return fmt.Sprintf("%s_%s", strings.ToLower(method), slug)
}

// DocumentURL returns the self-description URL for a tool base URL.
// A URL that already points at the document is returned unchanged.
func DocumentURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, DocumentPath) {
		return base
	}
	return base + DocumentPath
}
