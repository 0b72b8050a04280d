package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// SearchItem is one corpus search hit.
type SearchItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchResult is the search tool payload.
type SearchResult struct {
	Results []SearchItem `json:"results"`
}

// SearchParams bound the search tool inputs.
type SearchParams struct {
	Query string
	Size  int
	Lang  string
}

// Search finds refs for a query. The fallback chain runs exact lookup,
// lemmatized phrase match, Hebrew exact match, a combined bool query, and
// finally citation extraction via find-refs.
func (s *Service) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	size := clampInt(p.Size, 10, 25)
	lang := p.Lang
	if lang == "" {
		lang = "en"
	}

	key := cache.Key("search", query, size, lang)
	return withCache(s.cache, key, defaultTTL, func() (*SearchResult, error) {
		return s.runSearch(ctx, query, size, lang)
	})
}

func (s *Service) runSearch(ctx context.Context, query string, size int, lang string) (*SearchResult, error) {
	// Ref-shaped queries short-circuit through the exact lookup. Alias
	// phrases do not; they belong to the phrase-search chain here.
	if ref := s.resolver.ResolveExact(ctx, query); ref != "" {
		return &SearchResult{Results: []SearchItem{{
			ID:    makeDocID(ref, lang, ""),
			Title: ref,
			URL:   sefaria.RefURL(ref),
		}}}, nil
	}

	hits, err := s.phraseHits(ctx, query, size, "naive_lemmatizer", 10, true)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("lemmatized search failed")
	}

	hebrew := containsHebrew(query)
	if len(hits) == 0 && hebrew {
		hits, _ = s.phraseHits(ctx, query, size, "exact", 10, false)
	}
	if len(hits) == 0 && !hebrew {
		hits, _ = s.boolShouldHits(ctx, query, size, 10)
	}

	if len(hits) == 0 {
		return s.searchViaFindRefs(ctx, query, size, lang)
	}

	items := make([]SearchItem, 0, len(hits))
	seen := make(map[string]bool)
	for _, h := range hits {
		ref := sefaria.NormalizeRef(h.Ref())
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		items = append(items, SearchItem{
			ID:    makeDocID(ref, lang, ""),
			Title: ref,
			URL:   sefaria.RefURL(ref),
		})
		if len(items) >= size {
			break
		}
	}
	return &SearchResult{Results: items}, nil
}

func (s *Service) phraseHits(ctx context.Context, query string, size int, field string, slop int, sorted bool) ([]sefaria.SearchHit, error) {
	body := map[string]any{
		"size": size,
		"query": map[string]any{
			"match_phrase": map[string]any{
				field: map[string]any{"query": query, "slop": slop},
			},
		},
	}
	if sorted {
		body["sort"] = []any{
			map[string]any{"comp_date": map[string]any{}},
			map[string]any{"order": map[string]any{}},
		}
	}
	resp, err := s.client.SearchText(ctx, body)
	if err != nil {
		return nil, err
	}
	return resp.Hits.Hits, nil
}

func (s *Service) boolShouldHits(ctx context.Context, query string, size, slop int) ([]sefaria.SearchHit, error) {
	body := map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{"match_phrase": map[string]any{
						"naive_lemmatizer": map[string]any{"query": query, "slop": slop},
					}},
					map[string]any{"match_phrase": map[string]any{
						"exact": map[string]any{"query": query, "slop": slop},
					}},
				},
			},
		},
	}
	resp, err := s.client.SearchText(ctx, body)
	if err != nil {
		return nil, err
	}
	return resp.Hits.Hits, nil
}

// searchViaFindRefs extracts citations from the query text itself, keeping
// insertion order and dropping duplicates.
func (s *Service) searchViaFindRefs(ctx context.Context, query string, size int, lang string) (*SearchResult, error) {
	findLang := "en"
	if containsHebrew(query) {
		findLang = "he"
	}
	results, err := s.client.FindRefs(ctx, query, findLang)
	if err != nil {
		return &SearchResult{Results: []SearchItem{}}, nil
	}

	items := make([]SearchItem, 0, size)
	seen := make(map[string]bool)
	for _, r := range results {
		for _, ref := range r.Refs {
			ref = sefaria.NormalizeRef(ref)
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			items = append(items, SearchItem{
				ID:    makeDocID(ref, lang, ""),
				Title: ref,
				URL:   sefaria.RefURL(ref),
			})
			if len(items) >= size {
				return &SearchResult{Results: items}, nil
			}
		}
	}
	return &SearchResult{Results: items}, nil
}

// TopicsItem is one topics_search hit.
type TopicsItem struct {
	Ref     string `json:"ref"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// TopicsSearchResult is the topics_search payload.
type TopicsSearchResult struct {
	Topic   string       `json:"topic"`
	Results []TopicsItem `json:"results"`
}

// TopicsSearch runs a boosted phrase search for thematic queries.
func (s *Service) TopicsSearch(ctx context.Context, topic string) (*TopicsSearchResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	key := cache.Key("topics_search", topic)
	return withCache(s.cache, key, defaultTTL, func() (*TopicsSearchResult, error) {
		body := map[string]any{
			"size": 8,
			"query": map[string]any{
				"bool": map[string]any{
					"should": []any{
						map[string]any{"match_phrase": map[string]any{
							"naive_lemmatizer": map[string]any{"query": topic, "slop": 8},
						}},
						map[string]any{"match_phrase": map[string]any{
							"exact": map[string]any{"query": topic},
						}},
					},
				},
			},
			"highlight": map[string]any{
				"fields": map[string]any{"naive_lemmatizer": map[string]any{}, "exact": map[string]any{}},
			},
		}
		resp, err := s.client.SearchText(ctx, body)
		if err != nil {
			return nil, err
		}

		items := make([]TopicsItem, 0, 8)
		seen := make(map[string]bool)
		for _, h := range resp.Hits.Hits {
			ref := sefaria.NormalizeRef(h.Ref())
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			item := TopicsItem{Ref: ref, Title: ref, URL: sefaria.RefURL(ref)}
			for _, frags := range h.Highlight {
				if len(frags) > 0 {
					item.Snippet = snippet(frags[0], 400)
					break
				}
			}
			items = append(items, item)
			if len(items) >= 8 {
				break
			}
		}
		return &TopicsSearchResult{Topic: topic, Results: items}, nil
	})
}
