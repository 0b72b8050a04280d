package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// Link consideration caps. Shulchan Arukh refs attract so many links that
// the related API is skipped for them outright.
const (
	linkCapDefault       = 800
	linkCapShulchanArukh = 300
)

// SugyaLink is one ranked link within a category group.
type SugyaLink struct {
	Ref   string  `json:"ref"`
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// SugyaCategory groups ranked links under one link category.
type SugyaCategory struct {
	Category string      `json:"category"`
	Links    []SugyaLink `json:"links"`
}

// SugyaSheet is one curated source sheet.
type SugyaSheet struct {
	ID    int64   `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Views float64 `json:"views,omitempty"`
}

// SugyaTopic is one related topic.
type SugyaTopic struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// SugyaResult is the sugya_explorer payload.
type SugyaResult struct {
	Ref        string          `json:"ref"`
	HeRef      string          `json:"heRef,omitempty"`
	URL        string          `json:"url"`
	Title      string          `json:"title,omitempty"`
	Categories []SugyaCategory `json:"categories"`
	Sheets     []SugyaSheet    `json:"sheets,omitempty"`
	Topics     []SugyaTopic    `json:"topics,omitempty"`
	Text       string          `json:"text,omitempty"`
	Metadata   map[string]any  `json:"metadata"`
}

// SugyaParams bound the sugya_explorer inputs.
type SugyaParams struct {
	Ref            string
	IncludeText    bool
	MaxTextChars   int
	MaxPerCategory int
	MaxSheets      int
	MaxTopics      int
}

// SugyaExplorer builds a study map around a passage: its text, ranked links
// grouped by category, curated sheets and related topics.
func (s *Service) SugyaExplorer(ctx context.Context, p SugyaParams) (*SugyaResult, error) {
	query := strings.TrimSpace(p.Ref)
	if query == "" {
		return nil, fmt.Errorf("ref is required")
	}
	maxTextChars := clampInt(p.MaxTextChars, 4000, 8000)
	maxPerCategory := clampInt(p.MaxPerCategory, 5, 15)
	maxSheets := clampInt(p.MaxSheets, 10, 20)
	maxTopics := clampInt(p.MaxTopics, 10, 20)

	key := cache.Key("sugya_explorer", query, p.IncludeText, maxTextChars, maxPerCategory, maxSheets, maxTopics)
	return withCache(s.cache, key, sugyaTTL, func() (*SugyaResult, error) {
		seedRef := s.resolver.Resolve(ctx, query)
		if seedRef == "" {
			seedRef = query
		}

		isShulchanArukh := strings.Contains(strings.ToLower(seedRef), "shulchan arukh")
		linkCap := linkCapDefault
		if isShulchanArukh {
			linkCap = linkCapShulchanArukh
		}

		result := &SugyaResult{
			Ref:      seedRef,
			URL:      sefaria.RefURL(seedRef),
			Metadata: map[string]any{},
		}

		var related *sefaria.RelatedResponse
		if !isShulchanArukh {
			var err error
			related, err = s.client.GetRelated(ctx, seedRef)
			if err != nil {
				log.Warn().Err(err).Str("ref", seedRef).Msg("related lookup failed")
				related = nil
			}
		} else {
			result.Metadata["relatedSkipped"] = true
		}

		if p.IncludeText {
			if resp, err := s.client.GetText(ctx, seedRef); err == nil {
				english := resp.VersionText("en")
				hebrew := resp.VersionText("he")
				text, truncated := truncate(composeBilingual(english, hebrew, "bi"), maxTextChars)
				result.Text = text
				if truncated {
					result.Metadata["truncated"] = true
				}
				if resp.Ref != "" {
					result.Ref = resp.Ref
					result.URL = sefaria.RefURL(resp.Ref)
				}
				result.HeRef = resp.HeRef
				result.Title = resp.Title
				if english != "" {
					result.Metadata["englishSnippet"] = snippet(english, 400)
				}
				if hebrew != "" {
					result.Metadata["hebrewSnippet"] = snippet(hebrew, 400)
				}
			} else {
				log.Warn().Err(err).Str("ref", seedRef).Msg("text lookup failed")
			}
		}

		var links []sefaria.Link
		if related != nil {
			links = related.Links
			if len(links) > linkCap {
				links = links[:linkCap]
			}
		}
		result.Metadata["totalLinkCount"] = len(links)

		result.Categories = groupLinks(links, maxPerCategory)

		// A passage with no usable links still gets a category, seeded
		// from phrase search.
		if len(result.Categories) == 0 {
			if hits, err := s.resolver.PhraseSearch(ctx, query, maxPerCategory); err == nil && len(hits) > 0 {
				matches := make([]SugyaLink, 0, len(hits))
				for _, h := range hits {
					matches = append(matches, SugyaLink{Ref: h.Ref, URL: h.URL, Title: h.Ref})
				}
				result.Categories = []SugyaCategory{{Category: "Search Matches", Links: matches}}
				result.Metadata["searchSeeded"] = true
			}
		}

		if related != nil {
			result.Sheets = dedupeSheets(related.Sheets, maxSheets)
			result.Topics = dedupeTopics(related.Topics, maxTopics)
		}
		result.Metadata["sheetCount"] = len(result.Sheets)
		result.Metadata["topicCount"] = len(result.Topics)

		return result, nil
	})
}

// groupLinks buckets links by category, ranks each bucket by score and keeps
// the top maxPerCategory. Category order follows first appearance.
func groupLinks(links []sefaria.Link, maxPerCategory int) []SugyaCategory {
	grouped := make(map[string][]sefaria.Link)
	var order []string
	for _, link := range links {
		category := link.Category
		if category == "" {
			category = "Other"
		}
		if _, ok := grouped[category]; !ok {
			order = append(order, category)
		}
		grouped[category] = append(grouped[category], link)
	}

	out := make([]SugyaCategory, 0, len(order))
	for _, category := range order {
		group := grouped[category]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Score() > group[j].Score()
		})
		if len(group) > maxPerCategory {
			group = group[:maxPerCategory]
		}
		items := make([]SugyaLink, 0, len(group))
		for _, link := range group {
			ref := link.BestRef()
			if ref == "" {
				continue
			}
			items = append(items, SugyaLink{
				Ref:   ref,
				Title: commentatorOf(link),
				URL:   sefaria.RefURL(ref),
				Score: link.Score(),
			})
		}
		if len(items) > 0 {
			out = append(out, SugyaCategory{Category: category, Links: items})
		}
	}
	return out
}

func dedupeSheets(sheets []sefaria.RelatedSheet, max int) []SugyaSheet {
	seen := make(map[int64]bool)
	out := make([]SugyaSheet, 0, max)
	for _, sheet := range sheets {
		if sheet.ID == 0 || seen[sheet.ID] {
			continue
		}
		seen[sheet.ID] = true
		out = append(out, SugyaSheet{
			ID:    sheet.ID,
			Title: sefaria.StripHTML(sheet.Title),
			URL:   fmt.Sprintf("https://www.sefaria.org/sheets/%d", sheet.ID),
			Views: sheet.Views,
		})
		if len(out) >= max {
			break
		}
	}
	return out
}

func dedupeTopics(topics []sefaria.RelatedTopic, max int) []SugyaTopic {
	seen := make(map[string]bool)
	out := make([]SugyaTopic, 0, max)
	for _, topic := range topics {
		if topic.Slug == "" || seen[topic.Slug] {
			continue
		}
		seen[topic.Slug] = true
		title := ""
		if topic.Title != nil {
			if en, ok := topic.Title["en"].(string); ok {
				title = en
			}
		}
		out = append(out, SugyaTopic{
			Slug:  topic.Slug,
			Title: title,
			URL:   "https://www.sefaria.org/topics/" + topic.Slug,
		})
		if len(out) >= max {
			break
		}
	}
	return out
}
