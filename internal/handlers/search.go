package handlers

import (
	"fmt"
	"net/http"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/schema"
)

// Searcher finds tools by name.
type Searcher interface {
	Search(query string) ([]string, error)
}

// SearchHandler serves the search tool.
type SearchHandler struct {
	catalog Searcher
	logger  *common.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(catalog Searcher, logger *common.Logger) *SearchHandler {
	return &SearchHandler{catalog: catalog, logger: logger}
}

// Search handles POST /search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	data, err := readBody(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := searchValidator.Decode(data)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := h.catalog.Search(req.Query)
	if err != nil {
		h.logger.Error().Str("query", req.Query).Str("error", err.Error()).Msg("search failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Debug().Str("query", req.Query).Int("matches", len(matches)).Msg("search")
	WriteJSON(w, http.StatusOK, SearchResponse{Query: req.Query, MatchingTools: matches})
}

// DescribeSearch declares the search tool operations on s.
func DescribeSearch(s *schema.ToolSchema) error {
	body, err := schema.BodyFor[SearchRequest]()
	if err != nil {
		return fmt.Errorf("search request schema: %w", err)
	}
	s.AddOperation("/search", "post", &schema.Operation{
		OperationID: "search_tool",
		Summary:     "Search for tools by name.",
		RequestBody: body,
	})
	return nil
}
