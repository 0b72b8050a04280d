package library

import (
	"context"
	"fmt"
	"strings"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// Document is the corpus fetch payload.
type Document struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata"`
}

// FetchParams bound the fetch tool inputs.
type FetchParams struct {
	ID       string
	LangPref string
	MaxChars int
}

// Fetch loads a document by id. Ids beginning with "sheet:" resolve through
// the sheets API; anything else is treated as a ref|language|version triple.
func (s *Service) Fetch(ctx context.Context, p FetchParams) (*Document, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	langPref := p.LangPref
	if langPref == "" {
		langPref = "en"
	}

	if strings.HasPrefix(id, "sheet:") {
		return s.fetchSheet(ctx, id, p.MaxChars)
	}
	return s.fetchRef(ctx, id, langPref, p.MaxChars)
}

func (s *Service) fetchSheet(ctx context.Context, id string, maxChars int) (*Document, error) {
	sheetID := strings.TrimPrefix(id, "sheet:")
	if sheetID == "" {
		return nil, fmt.Errorf("sheet id is empty")
	}

	key := cache.Key("fetch_sheet", sheetID)
	sheet, err := withCache(s.cache, key, sheetTTL, func() (*sefaria.SheetResponse, error) {
		return s.client.GetSheet(ctx, sheetID)
	})
	if err != nil {
		return nil, fmt.Errorf("load sheet %s: %w", sheetID, err)
	}

	var b strings.Builder
	for _, src := range sheet.Sources {
		for _, part := range []string{sheetSourceText(src), src.OutsideText, src.Comment} {
			cleaned := sefaria.StripHTML(part)
			if cleaned == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(cleaned)
		}
	}

	text, truncated := truncate(b.String(), maxChars)
	meta := map[string]any{
		"sheetId": sheet.ID,
		"views":   sheet.Views,
	}
	if truncated {
		meta["truncated"] = true
	}

	return &Document{
		ID:       id,
		Title:    sheet.Title,
		Text:     text,
		URL:      fmt.Sprintf("https://www.sefaria.org/sheets/%s", sheetID),
		Metadata: meta,
	}, nil
}

func sheetSourceText(src sefaria.SheetSource) string {
	if src.Text == nil {
		return ""
	}
	if en, ok := src.Text["en"].(string); ok && en != "" {
		return en
	}
	if he, ok := src.Text["he"].(string); ok {
		return he
	}
	return ""
}

func (s *Service) fetchRef(ctx context.Context, id, langPref string, maxChars int) (*Document, error) {
	ref := refFromDocID(id)

	key := cache.Key("fetch_text", ref)
	resp, err := withCache(s.cache, key, textTTL, func() (*sefaria.TextResponse, error) {
		return s.client.GetText(ctx, ref)
	})
	if err != nil {
		return nil, fmt.Errorf("load text %q: %w", ref, err)
	}

	english := resp.VersionText("en")
	hebrew := resp.VersionText("he")
	text, truncated := truncate(composeBilingual(english, hebrew, langPref), maxChars)

	canonical := resp.Ref
	if canonical == "" {
		canonical = ref
	}

	meta := map[string]any{
		"categories": resp.Categories,
		"langPref":   langPref,
	}
	if resp.HeRef != "" {
		meta["heRef"] = resp.HeRef
	}
	if vt := resp.VersionTitleFor("en"); vt != "" {
		meta["versionTitle"] = vt
	}
	if truncated {
		meta["truncated"] = true
	}

	title := resp.Title
	if title == "" {
		title = canonical
	}

	return &Document{
		ID:       id,
		Title:    title,
		Text:     text,
		URL:      sefaria.RefURL(canonical),
		Metadata: meta,
	}, nil
}
