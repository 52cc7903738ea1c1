package handlers

// StartRequest is the body of POST /start.
type StartRequest struct {
	Name string `json:"name" jsonschema:"The name of the tool to start, which corresponds to the name of the directory containing its executable."`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query" jsonschema:"Query string to search for in tool names."`
}

// SearchResponse is the answer of POST /search.
type SearchResponse struct {
	Query         string   `json:"query"`
	MatchingTools []string `json:"matching_tools"`
}

// ChatRequest is the body of POST /chat. Depth may also arrive in the
// X-Tool-Depth header, which takes precedence.
type ChatRequest struct {
	Message     string   `json:"message" jsonschema:"Your instruction to the LLM."`
	Model       string   `json:"model,omitempty" jsonschema:"Model to use instead of the configured one."`
	Temperature *float64 `json:"temperature,omitempty" jsonschema:"Sampling temperature."`
}

// ChatResponse is the answer of POST /chat.
type ChatResponse struct {
	Content string `json:"content"`
	Depth   int    `json:"depth"`
}

var (
	startValidator  = newValidator[StartRequest]()
	searchValidator = newValidator[SearchRequest]()
	chatValidator   = newValidator[ChatRequest]()
)
