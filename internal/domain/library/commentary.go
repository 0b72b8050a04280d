package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// CommentaryItem is one commentary link on a ref.
type CommentaryItem struct {
	Ref   string `json:"ref"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CommentariesResult is the get_commentaries payload.
type CommentariesResult struct {
	Ref          string           `json:"ref"`
	Commentaries []CommentaryItem `json:"commentaries"`
	Count        int              `json:"count"`
}

// GetCommentaries lists the links attached to a ref.
func (s *Service) GetCommentaries(ctx context.Context, ref string) (*CommentariesResult, error) {
	ref = sefaria.NormalizeRef(ref)
	if ref == "" {
		return nil, fmt.Errorf("ref is required")
	}

	key := cache.Key("get_commentaries", ref)
	return withCache(s.cache, key, defaultTTL, func() (*CommentariesResult, error) {
		related, err := s.client.GetRelated(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load related for %q: %w", ref, err)
		}

		items := make([]CommentaryItem, 0, len(related.Links))
		for _, link := range related.Links {
			linkRef := link.BestRef()
			if linkRef == "" {
				continue
			}
			title := link.SourceRef
			if title == "" {
				title = link.Category
			}
			items = append(items, CommentaryItem{
				Ref:   linkRef,
				Title: title,
				URL:   sefaria.RefURL(linkRef),
			})
		}
		return &CommentariesResult{Ref: ref, Commentaries: items, Count: len(items)}, nil
	})
}

// VersionItem is one entry of the compare_versions payload.
type VersionItem struct {
	Language     string `json:"language"`
	VersionTitle string `json:"versionTitle"`
	Text         string `json:"text"`
}

// CompareVersionsResult is the compare_versions payload.
type CompareVersionsResult struct {
	Ref      string         `json:"ref"`
	Items    []VersionItem  `json:"items"`
	Metadata map[string]any `json:"metadata"`
}

// CompareVersionsParams selects which versions to load.
type CompareVersionsParams struct {
	Ref       string
	Versions  []string
	Languages []string
	MaxChars  int
}

// CompareVersions loads several versions of a ref side by side, truncating
// each item independently.
func (s *Service) CompareVersions(ctx context.Context, p CompareVersionsParams) (*CompareVersionsResult, error) {
	ref := sefaria.NormalizeRef(p.Ref)
	if ref == "" {
		return nil, fmt.Errorf("ref is required")
	}

	selectors := p.Versions
	if len(selectors) == 0 {
		selectors = p.Languages
	}
	if len(selectors) == 0 {
		selectors = []string{"english", "hebrew"}
	}

	key := cache.Key("compare_versions", ref, selectors, p.MaxChars)
	return withCache(s.cache, key, textTTL, func() (*CompareVersionsResult, error) {
		resp, err := s.client.GetText(ctx, ref, selectors...)
		if err != nil {
			return nil, fmt.Errorf("load versions for %q: %w", ref, err)
		}

		items := make([]VersionItem, 0, len(resp.Versions))
		anyTruncated := false
		for _, v := range resp.Versions {
			text, truncated := truncate(sefaria.FlattenText(v.Text), p.MaxChars)
			anyTruncated = anyTruncated || truncated
			lang := v.Language
			if lang == "" {
				lang = v.ActualLanguage
			}
			items = append(items, VersionItem{
				Language:     lang,
				VersionTitle: v.VersionTitle,
				Text:         text,
			})
		}

		meta := map[string]any{"versionCount": len(items)}
		if anyTruncated {
			meta["truncated"] = true
		}
		canonical := resp.Ref
		if canonical == "" {
			canonical = ref
		}
		return &CompareVersionsResult{Ref: canonical, Items: items, Metadata: meta}, nil
	})
}

// defaultCommentators seed insight_layers when the caller names nobody.
var defaultCommentators = []string{"Rashi", "Ibn Ezra", "Ramban", "Sforno"}

var themeStopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"for": true, "was": true, "are": true, "his": true, "her": true,
	"not": true, "but": true, "from": true, "they": true, "them": true,
	"which": true, "what": true, "who": true, "when": true, "where": true,
	"there": true, "their": true, "have": true, "has": true, "had": true,
	"you": true, "your": true, "one": true, "all": true, "were": true,
	"will": true, "shall": true, "unto": true, "thou": true, "thee": true,
	"thy": true, "him": true, "she": true, "upon": true, "said": true,
	"into": true, "also": true, "because": true, "therefore": true,
}

// InsightLayer is one commentator's take on a ref.
type InsightLayer struct {
	Commentator string   `json:"commentator"`
	Ref         string   `json:"ref"`
	URL         string   `json:"url"`
	Text        string   `json:"text,omitempty"`
	HebrewText  string   `json:"hebrewText,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Themes      []string `json:"themes,omitempty"`
}

// InsightLayersResult is the insight_layers payload.
type InsightLayersResult struct {
	Ref      string         `json:"ref"`
	URL      string         `json:"url"`
	Layers   []InsightLayer `json:"layers"`
	Metadata map[string]any `json:"metadata"`
}

// InsightLayersParams bound the insight_layers inputs.
type InsightLayersParams struct {
	Ref          string
	Commentators []string
	MaxChars     int
}

// InsightLayers collects the major commentary voices on a ref, one layer
// per commentator, each with text, a short summary and theme keywords.
func (s *Service) InsightLayers(ctx context.Context, p InsightLayersParams) (*InsightLayersResult, error) {
	ref := sefaria.NormalizeRef(p.Ref)
	if ref == "" {
		return nil, fmt.Errorf("ref is required")
	}
	maxChars := clampInt(p.MaxChars, 3000, 3000)

	key := cache.Key("insight_layers", ref, p.Commentators, maxChars)
	return withCache(s.cache, key, defaultTTL, func() (*InsightLayersResult, error) {
		related, err := s.client.GetRelated(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load related for %q: %w", ref, err)
		}

		commentary := make([]sefaria.Link, 0, len(related.Links))
		for _, link := range related.Links {
			if strings.EqualFold(link.Type, "commentary") || strings.EqualFold(link.Category, "commentary") {
				commentary = append(commentary, link)
			}
		}

		wanted := p.Commentators
		if len(wanted) == 0 {
			wanted = append(append([]string{}, defaultCommentators...), topExtraCommentators(commentary, defaultCommentators, 2)...)
		}

		layers := make([]InsightLayer, 0, len(wanted))
		for _, name := range wanted {
			link, ok := bestLinkFor(commentary, name)
			if !ok {
				continue
			}
			layer := InsightLayer{
				Commentator: name,
				Ref:         link.BestRef(),
				URL:         sefaria.RefURL(link.BestRef()),
			}
			if resp, err := s.client.GetText(ctx, link.BestRef()); err == nil {
				english, _ := truncate(resp.VersionText("en"), maxChars)
				hebrew, _ := truncate(resp.VersionText("he"), maxChars)
				layer.Text = english
				layer.HebrewText = hebrew
				layer.Summary = firstSentence(english)
				layer.Themes = themeKeywords(english, 5)
			}
			layers = append(layers, layer)
		}

		return &InsightLayersResult{
			Ref:    ref,
			URL:    sefaria.RefURL(ref),
			Layers: layers,
			Metadata: map[string]any{
				"commentaryLinkCount": len(commentary),
				"requested":           wanted,
			},
		}, nil
	})
}

// normalizeName case-folds and strips everything but letters and digits so
// "Ibn Ezra" matches "Ibn Ezra on Genesis" and "ibn-ezra".
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// commentatorOf extracts a display name from a link, preferring the
// collective title over the "<Name> on <Ref>" convention.
func commentatorOf(link sefaria.Link) string {
	if link.CollectiveTitle != nil {
		if en, ok := link.CollectiveTitle["en"].(string); ok && en != "" {
			return en
		}
	}
	ref := link.BestRef()
	if i := strings.Index(ref, " on "); i > 0 {
		return ref[:i]
	}
	return ref
}

func bestLinkFor(links []sefaria.Link, name string) (sefaria.Link, bool) {
	target := normalizeName(name)
	var best sefaria.Link
	found := false
	for _, link := range links {
		if !strings.Contains(normalizeName(commentatorOf(link)), target) {
			continue
		}
		if !found || link.Score() > best.Score() {
			best = link
			found = true
		}
	}
	return best, found
}

// topExtraCommentators returns up to n commentator names by best link score,
// excluding the given names.
func topExtraCommentators(links []sefaria.Link, exclude []string, n int) []string {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[normalizeName(name)] = true
	}

	best := make(map[string]float64)
	for _, link := range links {
		name := commentatorOf(link)
		norm := normalizeName(name)
		if norm == "" || excluded[norm] {
			continue
		}
		if score, seen := best[name]; !seen || link.Score() > score {
			best[name] = link.Score()
		}
	}

	names := make([]string, 0, len(best))
	for name := range best {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if best[names[i]] != best[names[j]] {
			return best[names[i]] > best[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// firstSentence returns the text up to the first period, capped at 200
// characters.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 && i < 200 {
		return s[:i+1]
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// themeKeywords picks the n most frequent meaningful English tokens.
func themeKeywords(s string, n int) []string {
	counts := make(map[string]int)
	var order []string

	token := strings.Builder{}
	flush := func() {
		word := strings.ToLower(token.String())
		token.Reset()
		if len(word) < 3 || themeStopwords[word] || containsHebrew(word) {
			return
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			token.WriteRune(r)
			continue
		}
		if r >= 0x0590 && r <= 0x05FF {
			token.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}
