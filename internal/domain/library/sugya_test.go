package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sefaria-mcp/internal/infrastructure/sefaria"
)

func TestSugyaExplorerGroupsAndRanks(t *testing.T) {
	client := &stubClient{
		texts: map[string]*sefaria.TextResponse{
			"Bava Metzia 59b": {
				Ref:   "Bava Metzia 59b",
				HeRef: "בבא מציעא נט ב",
				Title: "Bava Metzia",
				Versions: []sefaria.Version{
					{Language: "en", Text: rawJSON(`"It is not in heaven"`)},
					{Language: "he", Text: rawJSON(`"לא בשמים היא"`)},
				},
			},
		},
		related: map[string]*sefaria.RelatedResponse{
			"Bava Metzia 59b": {
				Links: []sefaria.Link{
					{SourceRef: "Rashi on Bava Metzia 59b", Category: "Commentary", PageRank: 1},
					{SourceRef: "Tosafot on Bava Metzia 59b", Category: "Commentary", PageRank: 5},
					{SourceRef: "Deuteronomy 30:12", Category: "Tanakh", PageRank: 2},
				},
				Sheets: []sefaria.RelatedSheet{
					{ID: 1, Title: "Oven of Akhnai"},
					{ID: 1, Title: "Duplicate"},
					{ID: 2, Title: "Another"},
				},
				Topics: []sefaria.RelatedTopic{
					{Slug: "torah-study"},
					{Slug: "torah-study"},
					{Slug: "machloket"},
				},
			},
		},
	}
	svc := newTestService(client)

	out, err := svc.SugyaExplorer(context.Background(), SugyaParams{
		Ref:         "Bava Metzia 59b",
		IncludeText: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bava Metzia 59b", out.Ref)
	assert.Contains(t, out.Text, "— — —")
	require.Len(t, out.Categories, 2)
	assert.Equal(t, "Commentary", out.Categories[0].Category)
	// Higher score first within the category.
	assert.Equal(t, "Tosafot on Bava Metzia 59b", out.Categories[0].Links[0].Ref)
	assert.Len(t, out.Sheets, 2)
	assert.Len(t, out.Topics, 2)
	assert.Equal(t, 3, out.Metadata["totalLinkCount"])
	assert.Equal(t, "It is not in heaven", out.Metadata["englishSnippet"])
}

func TestSugyaExplorerShulchanArukhSkipsRelated(t *testing.T) {
	client := &stubClient{
		texts: map[string]*sefaria.TextResponse{
			"Shulchan Arukh, Orach Chayim 263": {
				Ref: "Shulchan Arukh, Orach Chayim 263",
				Versions: []sefaria.Version{
					{Language: "en", Text: rawJSON(`"One should light candles"`)},
				},
			},
		},
		searches: []*sefaria.SearchResponse{searchHits("Shulchan Arukh, Orach Chayim 263:2")},
	}
	svc := newTestService(client)

	out, err := svc.SugyaExplorer(context.Background(), SugyaParams{
		Ref:         "shabbat candles",
		IncludeText: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, client.relatedCalls)
	assert.Equal(t, true, out.Metadata["relatedSkipped"])
	require.Len(t, out.Categories, 1)
	assert.Equal(t, "Search Matches", out.Categories[0].Category)
	assert.Equal(t, "Shulchan Arukh, Orach Chayim 263", out.Ref)
}

func TestSugyaExplorerMaxPerCategory(t *testing.T) {
	links := make([]sefaria.Link, 10)
	for i := range links {
		links[i] = sefaria.Link{
			SourceRef: "Commentary " + string(rune('A'+i)),
			Category:  "Commentary",
			PageRank:  float64(i),
		}
	}
	client := &stubClient{
		related: map[string]*sefaria.RelatedResponse{"Genesis 1:1": {Links: links}},
	}
	svc := newTestService(client)

	out, err := svc.SugyaExplorer(context.Background(), SugyaParams{Ref: "Genesis 1:1", MaxPerCategory: 3})
	require.NoError(t, err)
	require.Len(t, out.Categories, 1)
	assert.Len(t, out.Categories[0].Links, 3)
	assert.Equal(t, "Commentary J", out.Categories[0].Links[0].Ref)
}

func TestSugyaExplorerCaches(t *testing.T) {
	client := &stubClient{
		related: map[string]*sefaria.RelatedResponse{"Genesis 1:1": {
			Links: []sefaria.Link{{SourceRef: "Rashi on Genesis 1:1", Category: "Commentary"}},
		}},
	}
	svc := newTestService(client)

	_, err := svc.SugyaExplorer(context.Background(), SugyaParams{Ref: "Genesis 1:1"})
	require.NoError(t, err)
	_, err = svc.SugyaExplorer(context.Background(), SugyaParams{Ref: "Genesis 1:1"})
	require.NoError(t, err)
	assert.Equal(t, 1, client.relatedCalls)
}

func TestGroupLinksEmptyCategoryFallsToOther(t *testing.T) {
	groups := groupLinks([]sefaria.Link{{SourceRef: "Some Ref 1"}}, 5)
	require.Len(t, groups, 1)
	assert.Equal(t, "Other", groups[0].Category)
}
