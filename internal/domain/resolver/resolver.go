package resolver

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/sefaria"
)

// Client is the slice of the upstream API the resolver needs.
type Client interface {
	GetText(ctx context.Context, ref string, versions ...string) (*sefaria.TextResponse, error)
	SearchText(ctx context.Context, body map[string]any) (*sefaria.SearchResponse, error)
}

// alias maps a colloquial phrase to its canonical ref.
type alias struct {
	pattern string
	ref     string
}

// Curated shortcuts for queries the exact-lookup path cannot resolve.
var aliases = []alias{
	{"shabbat candles", "Shulchan Arukh, Orach Chayim 263"},
	{"shabbos candles", "Shulchan Arukh, Orach Chayim 263"},
	{"candle lighting", "Shulchan Arukh, Orach Chayim 263"},
	{"chanukah lights", "Shulchan Arukh, Orach Chayim 671"},
	{"hanukkah lights", "Shulchan Arukh, Orach Chayim 671"},
	{"chanukah candles", "Shulchan Arukh, Orach Chayim 671"},
	{"lo bashamayim hi", "Bava Metzia 59b"},
	{"not in heaven", "Bava Metzia 59b"},
	{"pikuach nefesh", "Yoma 85b"},
	{"פיקוח נפש", "Yoma 85b"},
}

var hebrewRe = regexp.MustCompile(`[\x{0590}-\x{05FF}]`)

// PhraseHit is one phrase-search fallback row.
type PhraseHit struct {
	Ref  string `json:"ref"`
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Resolver maps free-text queries to canonical refs.
type Resolver struct {
	client Client
}

// New creates a resolver over the given upstream client.
func New(client Client) *Resolver {
	return &Resolver{client: client}
}

// LooksLikeRef reports whether a query plausibly names a ref directly:
// it contains a digit, a colon, or Hebrew characters, and is short.
func LooksLikeRef(query string) bool {
	if len(query) > 120 {
		return false
	}
	if strings.ContainsAny(query, "0123456789:") {
		return true
	}
	return hebrewRe.MatchString(query)
}

// ResolveExact maps a ref-shaped query to its canonical ref via the texts
// API. Returns "" for anything that is not a direct reference.
func (r *Resolver) ResolveExact(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" || !LooksLikeRef(query) {
		return ""
	}
	resp, err := r.client.GetText(ctx, query)
	if err != nil {
		log.Debug().Err(err).Str("query", query).Msg("exact ref lookup missed")
		return ""
	}
	if resp.Ref != "" {
		return resp.Ref
	}
	return resp.SectionRef
}

// Resolve maps a query to a canonical ref. Order: exact lookup for ref-like
// queries, then the alias table. Returns "" when neither applies.
func (r *Resolver) Resolve(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	if ref := r.ResolveExact(ctx, query); ref != "" {
		return ref
	}

	lowered := strings.ToLower(query)
	for _, a := range aliases {
		if strings.Contains(lowered, a.pattern) {
			return a.ref
		}
	}
	return ""
}

// PhraseSearch runs the match_phrase fallback over the lemmatized index and
// returns up to limit hits. Queries are trimmed to 200 characters.
func (r *Resolver) PhraseSearch(ctx context.Context, query string, limit int) ([]PhraseHit, error) {
	query = strings.TrimSpace(query)
	if len(query) > 200 {
		query = query[:200]
	}
	if limit <= 0 {
		limit = 5
	}

	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"match_phrase": map[string]any{
				"naive_lemmatizer": map[string]any{
					"query": query,
					"slop":  10,
				},
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{"naive_lemmatizer": map[string]any{}},
		},
	}

	resp, err := r.client.SearchText(ctx, body)
	if err != nil {
		return nil, err
	}

	hits := make([]PhraseHit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		ref := sefaria.NormalizeRef(h.Ref())
		if ref == "" {
			continue
		}
		hit := PhraseHit{Ref: ref, URL: sefaria.RefURL(ref)}
		if frags := h.Highlight["naive_lemmatizer"]; len(frags) > 0 {
			hit.Text = sefaria.StripHTML(frags[0])
		}
		hits = append(hits, hit)
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}
