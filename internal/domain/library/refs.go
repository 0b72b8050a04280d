package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// FoundRef is one located citation.
type FoundRef struct {
	Ref   string `json:"ref"`
	URL   string `json:"url"`
	HeRef string `json:"heRef,omitempty"`
	Text  string `json:"text,omitempty"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// FindRefsResult is the find_refs tool payload.
type FindRefsResult struct {
	Refs     []FoundRef     `json:"refs"`
	Metadata map[string]any `json:"metadata"`
}

// FindRefsParams bound the find_refs inputs.
type FindRefsParams struct {
	Text       string
	Lang       string
	ReturnText bool
}

// FindRefs locates citations inside free text. When the citation linker
// finds nothing (or errors), a phrase search stands in and the metadata says
// so.
func (s *Service) FindRefs(ctx context.Context, p FindRefsParams) (*FindRefsResult, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	lang := p.Lang
	if lang == "" {
		if containsHebrew(text) {
			lang = "he"
		} else {
			lang = "en"
		}
	}

	key := cache.Key("find_refs", text, lang, p.ReturnText)
	return withCache(s.cache, key, defaultTTL, func() (*FindRefsResult, error) {
		meta := map[string]any{}

		results, err := s.client.FindRefs(ctx, text, lang)
		if err != nil {
			log.Warn().Err(err).Msg("find-refs call failed, using phrase search")
			meta["findRefsError"] = err.Error()
		}

		refs := make([]FoundRef, 0, len(results))
		seen := make(map[string]bool)
		for _, r := range results {
			for i, ref := range r.Refs {
				ref = sefaria.NormalizeRef(ref)
				if ref == "" || seen[ref] {
					continue
				}
				seen[ref] = true
				found := FoundRef{
					Ref:   ref,
					URL:   sefaria.RefURL(ref),
					Start: r.StartChar,
					End:   r.EndChar,
				}
				if i < len(r.HeRefs) {
					found.HeRef = r.HeRefs[i]
				}
				if p.ReturnText {
					found.Text = r.Text
				}
				refs = append(refs, found)
			}
		}

		if len(refs) == 0 {
			hits, err := s.resolver.PhraseSearch(ctx, text, 5)
			if err != nil {
				return nil, fmt.Errorf("find refs fallback: %w", err)
			}
			for _, h := range hits {
				found := FoundRef{Ref: h.Ref, URL: h.URL}
				if p.ReturnText {
					found.Text = h.Text
				}
				refs = append(refs, found)
			}
			meta["fallbackUsed"] = "search"
		}

		return &FindRefsResult{Refs: refs, Metadata: meta}, nil
	})
}
