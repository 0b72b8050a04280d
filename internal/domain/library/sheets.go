package library

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// CuratedSheet is one source sheet selected for a topic.
type CuratedSheet struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Summary string  `json:"summary,omitempty"`
	Views   float64 `json:"views,omitempty"`
}

// TopicSheetsResult is the topic_sheet_curator payload.
type TopicSheetsResult struct {
	Topic    string         `json:"topic"`
	Slug     string         `json:"slug,omitempty"`
	Sheets   []CuratedSheet `json:"sheets"`
	Metadata map[string]any `json:"metadata"`
}

var sheetRefIDRe = regexp.MustCompile(`(\d+)`)

// slugCandidates lists the slug spellings tried against the topics API.
func slugCandidates(topic string) []string {
	topic = strings.TrimSpace(topic)
	lower := strings.ToLower(topic)
	candidates := []string{
		topic,
		lower,
		strings.ReplaceAll(lower, " ", "-"),
		strings.ReplaceAll(lower, " ", "_"),
	}
	seen := make(map[string]bool)
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// TopicSheetCurator collects source sheets for a topic: first from the
// topic's own sheet refs, then, if the haul is thin, by expanding the
// related sheets of phrase-search hits.
func (s *Service) TopicSheetCurator(ctx context.Context, topic string, maxSheets int) (*TopicSheetsResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	maxSheets = clampInt(maxSheets, 8, 15)

	key := cache.Key("topic_sheet_curator", topic, maxSheets)
	return withCache(s.cache, key, sheetTTL, func() (*TopicSheetsResult, error) {
		out := &TopicSheetsResult{
			Topic:    topic,
			Sheets:   []CuratedSheet{},
			Metadata: map[string]any{},
		}

		var topicResp *sefaria.TopicResponse
		for _, slug := range slugCandidates(topic) {
			resp, err := s.client.GetTopic(ctx, slug)
			if err != nil {
				continue
			}
			topicResp = resp
			out.Slug = resp.Slug
			if out.Slug == "" {
				out.Slug = slug
			}
			break
		}

		seen := make(map[int64]bool)
		if topicResp != nil {
			for _, ref := range topicResp.Refs {
				if !ref.IsSheet {
					continue
				}
				s.appendSheetByRef(ctx, ref.Ref, out, seen, maxSheets)
				if len(out.Sheets) >= maxSheets {
					break
				}
			}
		}

		threshold := maxSheets / 2
		if threshold < 3 {
			threshold = 3
		}
		if len(out.Sheets) < threshold {
			s.expandViaSearch(ctx, topic, out, seen, maxSheets)
			out.Metadata["fallbackUsed"] = true
		}

		out.Metadata["sheetCount"] = len(out.Sheets)
		return out, nil
	})
}

// appendSheetByRef loads one sheet's metadata from a "Sheet <id>" style ref.
func (s *Service) appendSheetByRef(ctx context.Context, ref string, out *TopicSheetsResult, seen map[int64]bool, max int) {
	m := sheetRefIDRe.FindString(ref)
	if m == "" {
		return
	}
	sheet, err := s.client.GetSheet(ctx, m)
	if err != nil {
		log.Debug().Err(err).Str("ref", ref).Msg("sheet load failed")
		return
	}
	s.appendSheet(sheet, out, seen, max)
}

func (s *Service) appendSheet(sheet *sefaria.SheetResponse, out *TopicSheetsResult, seen map[int64]bool, max int) {
	if sheet == nil || sheet.ID == 0 || seen[sheet.ID] || len(out.Sheets) >= max {
		return
	}
	seen[sheet.ID] = true
	out.Sheets = append(out.Sheets, CuratedSheet{
		ID:      sheet.ID,
		Title:   sefaria.StripHTML(sheet.Title),
		URL:     fmt.Sprintf("https://www.sefaria.org/sheets/%d", sheet.ID),
		Summary: snippet(sheet.Summary, 400),
		Views:   sheet.Views,
	})
}

// expandViaSearch fills the sheet quota from the related sheets of phrase
// search hits.
func (s *Service) expandViaSearch(ctx context.Context, topic string, out *TopicSheetsResult, seen map[int64]bool, max int) {
	hits, err := s.resolver.PhraseSearch(ctx, topic, 5)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("sheet fallback search failed")
		return
	}
	for _, hit := range hits {
		if len(out.Sheets) >= max {
			return
		}
		related, err := s.client.GetRelated(ctx, hit.Ref)
		if err != nil {
			continue
		}
		for _, sheet := range related.Sheets {
			if len(out.Sheets) >= max {
				return
			}
			if sheet.ID == 0 || seen[sheet.ID] {
				continue
			}
			seen[sheet.ID] = true
			out.Sheets = append(out.Sheets, CuratedSheet{
				ID:    sheet.ID,
				Title: sefaria.StripHTML(sheet.Title),
				URL:   fmt.Sprintf("https://www.sefaria.org/sheets/%d", sheet.ID),
				Views: sheet.Views,
			})
		}
	}
}
