package library

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sefaria-mcp/internal/infrastructure/sefaria"
)

func TestFindRefsMapsResults(t *testing.T) {
	client := &stubClient{
		findRefs: []sefaria.FindRefsResult{
			{
				Text:      "Genesis 1:1",
				StartChar: 14,
				EndChar:   25,
				Refs:      []string{"Genesis 1:1"},
				HeRefs:    []string{"בראשית א:א"},
			},
			{Text: "Exodus 3:14", Refs: []string{"Exodus 3:14"}},
		},
	}
	svc := newTestService(client)

	out, err := svc.FindRefs(context.Background(), FindRefsParams{
		Text:       "As it says in Genesis 1:1 and Exodus 3:14",
		ReturnText: true,
	})
	require.NoError(t, err)
	require.Len(t, out.Refs, 2)
	assert.Equal(t, "Genesis 1:1", out.Refs[0].Ref)
	assert.Equal(t, "בראשית א:א", out.Refs[0].HeRef)
	assert.Equal(t, 14, out.Refs[0].Start)
	assert.Equal(t, "Genesis 1:1", out.Refs[0].Text)
	assert.NotContains(t, out.Metadata, "fallbackUsed")
}

func TestFindRefsDeduplicates(t *testing.T) {
	client := &stubClient{
		findRefs: []sefaria.FindRefsResult{
			{Refs: []string{"Genesis 1:1"}},
			{Refs: []string{"Genesis 1:1"}},
		},
	}
	svc := newTestService(client)

	out, err := svc.FindRefs(context.Background(), FindRefsParams{Text: "Genesis 1:1 twice Genesis 1:1"})
	require.NoError(t, err)
	assert.Len(t, out.Refs, 1)
}

func TestFindRefsFallbackToSearch(t *testing.T) {
	client := &stubClient{
		searches: []*sefaria.SearchResponse{searchHits("Yoma 85b")},
	}
	svc := newTestService(client)

	out, err := svc.FindRefs(context.Background(), FindRefsParams{Text: "no citations in this text at all"})
	require.NoError(t, err)
	require.Len(t, out.Refs, 1)
	assert.Equal(t, "Yoma 85b", out.Refs[0].Ref)
	assert.Equal(t, "search", out.Metadata["fallbackUsed"])
}

func TestFindRefsErrorStillFallsBack(t *testing.T) {
	client := &stubClient{
		findRefsErr: errors.New("linker down"),
		searches:    []*sefaria.SearchResponse{searchHits("Yoma 85b")},
	}
	svc := newTestService(client)

	out, err := svc.FindRefs(context.Background(), FindRefsParams{Text: "whatever"})
	require.NoError(t, err)
	assert.Equal(t, "search", out.Metadata["fallbackUsed"])
	assert.Equal(t, "linker down", out.Metadata["findRefsError"])
}

func TestFindRefsRequiresText(t *testing.T) {
	svc := newTestService(&stubClient{})
	_, err := svc.FindRefs(context.Background(), FindRefsParams{Text: " "})
	assert.Error(t, err)
}
