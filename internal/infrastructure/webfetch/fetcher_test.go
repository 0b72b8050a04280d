package webfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/metrics"
)

func testOptions() Options {
	return Options{
		MaxBytes:        1 << 20,
		MaxChars:        10_000,
		Timeout:         5 * time.Second,
		CacheTTL:        time.Minute,
		CacheMaxEntries: 50,
		ObeyRobots:      false,
		UserAgent:       "SefariaMCP/1.0",
		AllowPrivate:    true,
	}
}

func newTestFetcher(opts Options) (*Fetcher, *metrics.Registry) {
	reg := metrics.NewRegistry()
	return NewFetcher(opts, 4, 2, reg), reg
}

func TestFetchHTMLPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html lang="fr"><head><title>Bonjour</title></head><body><p>Le contenu principal de la page est ici.</p></body></html>`)
	}))
	defer srv.Close()

	f, reg := newTestFetcher(testOptions())
	page, err := f.Fetch(context.Background(), srv.URL+"/page", 0)
	require.NoError(t, err)

	assert.Equal(t, "Bonjour", page.Title)
	assert.Contains(t, page.Text, "contenu principal")
	assert.Equal(t, "fr", page.Metadata.Language)
	assert.Positive(t, page.Metadata.Bytes)
	assert.Equal(t, int64(1), reg.Snapshot().Counters.Fetches)
}

func TestFetchSecondCallHitsCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>T</title></head><body><p>cached body text</p></body></html>`)
	}))
	defer srv.Close()

	f, reg := newTestFetcher(testOptions())

	first, err := f.Fetch(context.Background(), srv.URL+"/", 0)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), srv.URL+"/", 0)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first.Metadata.Bytes, second.Metadata.Bytes)
	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Counters.Fetches)
	assert.Equal(t, int64(1), snap.Counters.CacheHits)
}

func TestFetchCachedEntryServesLargerMaxChars(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>T</title></head><body><p>%s</p></body></html>`, strings.Repeat("a", 1000))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	url := srv.URL + "/doc"

	first, err := f.Fetch(context.Background(), url, 50)
	require.NoError(t, err)
	assert.Len(t, first.Text, 50)
	assert.True(t, first.Metadata.Truncated)

	// A wider request against the cached entry sees the longer text.
	second, err := f.Fetch(context.Background(), url, 500)
	require.NoError(t, err)
	assert.Len(t, second.Text, 500)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchTruncatesOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, strings.Repeat("ש", 40))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	page, err := f.Fetch(context.Background(), srv.URL+"/he", 5)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(page.Text))
	assert.Equal(t, strings.Repeat("ש", 5), page.Text)
	assert.True(t, page.Metadata.Truncated)
}

func TestFetchRevalidatesWith304(t *testing.T) {
	var sawConditional int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&sawConditional, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>T</title></head><body><p>original body</p></body></html>`)
	}))
	defer srv.Close()

	f, reg := newTestFetcher(testOptions())
	url := srv.URL + "/doc"

	_, err := f.Fetch(context.Background(), url, 0)
	require.NoError(t, err)

	// Age the cached entry past the freshness window without dropping it.
	key := cache.Key("webfetch", url)
	ent, ok := f.cache.Get(key)
	require.True(t, ok)
	ent.storedAt = time.Now().Add(-2 * time.Minute)
	f.cache.Set(key, ent, 0)

	page, err := f.Fetch(context.Background(), url, 0)
	require.NoError(t, err)
	assert.Contains(t, page.Text, "original body")
	assert.Equal(t, int32(1), atomic.LoadInt32(&sawConditional))
	assert.Equal(t, int64(1), reg.Snapshot().Counters.CacheHits)
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Final</title></head><body><p>arrived</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	page, err := f.Fetch(context.Background(), srv.URL+"/start", 0)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/end", page.URL)
	assert.Contains(t, page.Text, "arrived")
}

func TestFetchRedirectCycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	_, err := f.Fetch(context.Background(), srv.URL+"/a", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFetchTooManyRedirects(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next := atomic.AddInt32(&n, 1)
		http.Redirect(w, r, fmt.Sprintf("/hop%d", next), http.StatusFound)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	_, err := f.Fetch(context.Background(), srv.URL+"/hop0", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many redirects")
}

func TestFetchRefusesDowngradeRedirect(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://example.com/", http.StatusFound)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	// Trust the test server's certificate but keep manual redirects.
	f.client = srv.Client()
	f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	_, err := f.Fetch(context.Background(), srv.URL+"/", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downgrade")
}

func TestFetchRejectsPrivateTarget(t *testing.T) {
	opts := testOptions()
	opts.AllowPrivate = false
	f, reg := newTestFetcher(opts)

	_, err := f.Fetch(context.Background(), "http://127.0.0.1/", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private or loopback")
	assert.Equal(t, int64(1), reg.Snapshot().Counters.Errors)
}

func TestFetchRobotsDisallow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/private/doc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secret")
	})
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "open")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := testOptions()
	opts.ObeyRobots = true
	f, reg := newTestFetcher(opts)

	_, err := f.Fetch(context.Background(), srv.URL+"/private/doc", 0)
	require.ErrorIs(t, err, ErrRobotsDisallowed)
	assert.Equal(t, int64(1), reg.Snapshot().Counters.RobotsBlocked)

	page, err := f.Fetch(context.Background(), srv.URL+"/public", 0)
	require.NoError(t, err)
	assert.Equal(t, "open", page.Text)
}

func TestFetchBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 1000; i++ {
			fmt.Fprint(w, "0123456789")
		}
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBytes = 100
	f, _ := newTestFetcher(opts)

	page, err := f.Fetch(context.Background(), srv.URL+"/big", 0)
	require.NoError(t, err)
	assert.Equal(t, 100, page.Metadata.Bytes)
}

func TestFetchMaxCharsTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 100; i++ {
			fmt.Fprint(w, "abcdefghij")
		}
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testOptions())
	page, err := f.Fetch(context.Background(), srv.URL+"/t", 50)
	require.NoError(t, err)
	assert.Len(t, page.Text, 50)
	assert.True(t, page.Metadata.Truncated)
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, reg := newTestFetcher(testOptions())
	_, err := f.Fetch(context.Background(), srv.URL+"/missing", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int64(1), reg.Snapshot().Counters.Errors)
}
