package web

import (
	"context"
	"fmt"
	"strings"

	"sefaria-mcp/internal/infrastructure/webfetch"
	"sefaria-mcp/internal/infrastructure/websearch"
)

// Searcher is the provider multiplexer surface.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []websearch.Result
}

// Fetcher is the safe retrieval surface.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (*webfetch.Page, error)
}

// Service backs the web research tool pair.
type Service struct {
	searcher   Searcher
	fetcher    Fetcher
	maxResults int
}

// NewService wires the web tools. maxResults caps every search.
func NewService(searcher Searcher, fetcher Fetcher, maxResults int) *Service {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Service{searcher: searcher, fetcher: fetcher, maxResults: maxResults}
}

// SearchResult is the web search payload.
type SearchResult struct {
	Query   string             `json:"query"`
	Results []websearch.Result `json:"results"`
}

// Search fans the query out to the configured providers.
func (s *Service) Search(ctx context.Context, query string, maxResults int) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if maxResults <= 0 || maxResults > s.maxResults {
		maxResults = s.maxResults
	}
	return &SearchResult{
		Query:   query,
		Results: s.searcher.Search(ctx, query, maxResults),
	}, nil
}

// Fetch retrieves one URL through the safety pipeline.
func (s *Service) Fetch(ctx context.Context, id string, maxChars int) (*webfetch.Page, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if !strings.HasPrefix(id, "http://") && !strings.HasPrefix(id, "https://") {
		return nil, fmt.Errorf("id must be an http or https URL")
	}
	return s.fetcher.Fetch(ctx, id, maxChars)
}
