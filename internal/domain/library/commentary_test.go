package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sefaria-mcp/internal/infrastructure/sefaria"
)

func TestGetCommentaries(t *testing.T) {
	client := &stubClient{
		related: map[string]*sefaria.RelatedResponse{
			"Genesis 1:1": {
				Links: []sefaria.Link{
					{SourceRef: "Rashi on Genesis 1:1", Category: "Commentary"},
					{Ref: "Zohar 1:15a", Category: "Kabbalah"},
				},
			},
		},
	}
	svc := newTestService(client)

	out, err := svc.GetCommentaries(context.Background(), "Genesis 1:1")
	require.NoError(t, err)
	require.Equal(t, 2, out.Count)
	assert.Equal(t, "Rashi on Genesis 1:1", out.Commentaries[0].Title)
	// No sourceRef: the category stands in as the title.
	assert.Equal(t, "Kabbalah", out.Commentaries[1].Title)
	assert.Equal(t, "https://www.sefaria.org/Zohar_1:15a?lang=bi", out.Commentaries[1].URL)
}

func TestCompareVersionsPerItemTruncation(t *testing.T) {
	client := &stubClient{
		texts: map[string]*sefaria.TextResponse{
			"Genesis 1:1": {
				Ref: "Genesis 1:1",
				Versions: []sefaria.Version{
					{Language: "en", VersionTitle: "JPS", Text: rawJSON(`"In the beginning God created"`)},
					{Language: "en", VersionTitle: "Koren", Text: rawJSON(`"In the beginning of creation"`)},
				},
			},
		},
	}
	svc := newTestService(client)

	out, err := svc.CompareVersions(context.Background(), CompareVersionsParams{Ref: "Genesis 1:1", MaxChars: 10})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "In the beg", out.Items[0].Text)
	assert.Equal(t, "JPS", out.Items[0].VersionTitle)
	assert.Equal(t, true, out.Metadata["truncated"])
}

func TestInsightLayersDefaultsAndMatching(t *testing.T) {
	client := &stubClient{
		related: map[string]*sefaria.RelatedResponse{
			"Genesis 1:1": {
				Links: []sefaria.Link{
					{SourceRef: "Rashi on Genesis 1:1", Type: "commentary", PageRank: 3},
					{SourceRef: "Rashi on Genesis 1:1:2", Type: "commentary", PageRank: 9},
					{SourceRef: "Ibn Ezra on Genesis 1:1", Type: "commentary", PageRank: 2},
					{SourceRef: "Or HaChaim on Genesis 1:1", Type: "commentary", PageRank: 8},
					{SourceRef: "Kli Yakar on Genesis 1:1", Type: "commentary", PageRank: 7},
					{SourceRef: "Deuteronomy 30:12", Category: "Tanakh", PageRank: 99},
				},
			},
		},
		texts: map[string]*sefaria.TextResponse{
			"Rashi on Genesis 1:1:2": {
				Versions: []sefaria.Version{
					{Language: "en", Text: rawJSON(`"The world was created for the Torah. Torah precedes all."`)},
				},
			},
			"Ibn Ezra on Genesis 1:1": {
				Versions: []sefaria.Version{
					{Language: "en", Text: rawJSON(`"In the beginning means at the start."`)},
				},
			},
			"Or HaChaim on Genesis 1:1": {Versions: []sefaria.Version{}},
			"Kli Yakar on Genesis 1:1":  {Versions: []sefaria.Version{}},
		},
	}
	svc := newTestService(client)

	out, err := svc.InsightLayers(context.Background(), InsightLayersParams{Ref: "Genesis 1:1"})
	require.NoError(t, err)

	// Rashi and Ibn Ezra matched from the defaults; Or HaChaim and Kli
	// Yakar arrive as the top two extras by score. The Tanakh link is not
	// commentary and never becomes a layer.
	names := make([]string, 0, len(out.Layers))
	for _, l := range out.Layers {
		names = append(names, l.Commentator)
	}
	assert.Equal(t, []string{"Rashi", "Ibn Ezra", "Or HaChaim", "Kli Yakar"}, names)

	// The higher-scoring Rashi link wins.
	assert.Equal(t, "Rashi on Genesis 1:1:2", out.Layers[0].Ref)
	assert.Equal(t, "The world was created for the Torah.", out.Layers[0].Summary)
	assert.Contains(t, out.Layers[0].Themes, "torah")
	assert.Equal(t, 5, out.Metadata["commentaryLinkCount"])
}

func TestInsightLayersExplicitCommentators(t *testing.T) {
	client := &stubClient{
		related: map[string]*sefaria.RelatedResponse{
			"Genesis 1:1": {
				Links: []sefaria.Link{
					{SourceRef: "Rashi on Genesis 1:1", Type: "commentary"},
					{SourceRef: "Sforno on Genesis 1:1", Type: "commentary"},
				},
			},
		},
	}
	svc := newTestService(client)

	out, err := svc.InsightLayers(context.Background(), InsightLayersParams{
		Ref:          "Genesis 1:1",
		Commentators: []string{"Sforno"},
	})
	require.NoError(t, err)
	require.Len(t, out.Layers, 1)
	assert.Equal(t, "Sforno", out.Layers[0].Commentator)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "ibnezra", normalizeName("Ibn Ezra"))
	assert.Equal(t, "ibnezra", normalizeName("ibn-ezra"))
	assert.Equal(t, "rashi", normalizeName("Rashi"))
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "First.", firstSentence("First. Second."))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, firstSentence(string(long)), 200)
}

func TestThemeKeywords(t *testing.T) {
	text := "Torah Torah Torah light light candle the and with אור"
	themes := themeKeywords(text, 5)
	require.NotEmpty(t, themes)
	assert.Equal(t, "torah", themes[0])
	assert.Equal(t, "light", themes[1])
	assert.NotContains(t, themes, "the")
	assert.NotContains(t, themes, "אור")
}
