package sefaria

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTextQueryShape(t *testing.T) {
	var gotPath string
	var gotVersions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotVersions = r.URL.Query()["version"]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ref":"Yoma 85b","versions":[{"language":"en","text":"saving a life"}]}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL)
	resp, err := client.GetText(context.Background(), " Yoma  85b ")
	require.NoError(t, err)

	assert.Equal(t, "/v3/texts/Yoma%2085b", gotPath)
	assert.Equal(t, []string{"english", "hebrew"}, gotVersions)
	assert.Equal(t, "Yoma 85b", resp.Ref)
	assert.Equal(t, "saving a life", resp.VersionText("en"))
}

func TestRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"links":[]}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL)
	_, err := client.GetRelated(context.Background(), "Genesis 1:1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL)
	_, err := client.GetRelated(context.Background(), "Genesis 1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFindRefsNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"body":{"results":[{"text":"Genesis 1:1","refs":["Genesis 1:1"]},{"text":"Exodus 3:14","ref":"Exodus 3:14"}]}}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL)
	results, err := client.FindRefs(context.Background(), "As it says in Genesis 1:1 and also Exodus 3:14", "en")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"Genesis 1:1"}, results[0].Refs)
	assert.Equal(t, []string{"Exodus 3:14"}, results[1].Refs)
}

func TestGetCalendarsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2025", q.Get("year"))
		assert.Equal(t, "1", q.Get("month"))
		assert.Equal(t, "1", q.Get("day"))
		assert.Equal(t, "1", q.Get("diaspora"))
		assert.Equal(t, "UTC", q.Get("timezone"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"calendar_items":[{"title":{"en":"Daf Yomi"},"ref":"Sanhedrin 42"}]}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL)
	resp, err := client.GetCalendars(context.Background(), CalendarQuery{Year: 2025, Month: 1, Day: 1, Diaspora: true, Timezone: "UTC"})
	require.NoError(t, err)
	require.Len(t, resp.CalendarItems, 1)
	assert.Equal(t, "Daf Yomi", resp.CalendarItems[0].Title.EN)
}
