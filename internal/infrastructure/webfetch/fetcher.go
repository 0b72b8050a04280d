package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/metrics"
)

const (
	maxRedirects = 5
	hardMaxChars = 1_000_000
)

// ErrRobotsDisallowed marks a fetch refused by the target's robots.txt.
var ErrRobotsDisallowed = errors.New("blocked by robots.txt")

// Options configures the safe web fetcher.
type Options struct {
	MaxBytes        int64
	MaxChars        int
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
	ObeyRobots      bool
	UserAgent       string
	Allowlist       []string
	Blocklist       []string

	// AllowPrivate disables the private-address check. Only for tests.
	AllowPrivate bool
}

// Metadata describes a fetched document.
type Metadata struct {
	ContentType  string `json:"contentType"`
	FetchedAt    string `json:"fetchedAt"`
	Bytes        int    `json:"bytes"`
	CanonicalURL string `json:"canonicalUrl,omitempty"`
	Language     string `json:"language,omitempty"`
	PageCount    int    `json:"pageCount,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
}

// Page is the fetch result returned to the web MCP tools.
type Page struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	URL      string   `json:"url"`
	Metadata Metadata `json:"metadata"`
}

// cachedPage keeps the page plus the validators needed for revalidation.
// storedAt drives the freshness window; the LRU retains stale entries a
// while longer so a 304 can serve them without a body read.
type cachedPage struct {
	page         Page
	etag         string
	lastModified string
	status       int
	storedAt     time.Time
}

// Fetcher is the hardened retrieval pipeline behind the web fetch tool:
// destination policy, robots.txt, concurrency gates, manual redirects,
// conditional revalidation and content extraction.
type Fetcher struct {
	opts    Options
	policy  *Policy
	gate    *Gate
	robots  *robotsCache
	cache   *cache.Cache[cachedPage]
	client  *http.Client
	metrics *metrics.Registry
}

// NewFetcher wires a fetcher. globalConc and perHostConc bound in-flight
// requests; reg receives fetch counters.
func NewFetcher(opts Options, globalConc, perHostConc int, reg *metrics.Registry) *Fetcher {
	if opts.MaxChars <= 0 || opts.MaxChars > hardMaxChars {
		opts.MaxChars = hardMaxChars
	}
	client := &http.Client{
		// Redirects are walked manually so every hop is re-checked.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	// Stale entries stay resident past the freshness window so conditional
	// requests can still answer 304 from them.
	retention := opts.CacheTTL * 4
	return &Fetcher{
		opts: opts,
		policy: &Policy{
			Allowlist:    opts.Allowlist,
			Blocklist:    opts.Blocklist,
			AllowPrivate: opts.AllowPrivate,
		},
		gate:    NewGate(globalConc, perHostConc),
		robots:  newRobotsCache(client),
		cache:   cache.NewLRU[cachedPage](retention, opts.CacheMaxEntries),
		client:  client,
		metrics: reg,
	}
}

// CacheLen reports the current fetch cache size.
func (f *Fetcher) CacheLen() int { return f.cache.Len() }

// Fetch retrieves rawURL through the full safety pipeline and returns its
// readable content. maxChars <= 0 uses the configured default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if maxChars <= 0 || maxChars > f.opts.MaxChars {
		maxChars = f.opts.MaxChars
	}

	key := cache.Key("webfetch", u.String())

	var etag, lastModified string
	cached, haveCached := f.cache.Get(key)
	if haveCached {
		if time.Since(cached.storedAt) < f.opts.CacheTTL {
			f.metrics.RecordCacheHit()
			page := truncatePage(cached.page, maxChars)
			return &page, nil
		}
		etag = cached.etag
		lastModified = cached.lastModified
	}

	f.metrics.RecordFetch()

	release, err := f.gate.Acquire(ctx, u.Hostname())
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := f.doRequest(ctx, u, etag, lastModified)
	if err != nil {
		if errors.Is(err, ErrRobotsDisallowed) {
			f.metrics.RecordRobotsBlocked()
		} else {
			f.metrics.RecordFetchError()
		}
		return nil, err
	}

	if res.status == http.StatusNotModified && haveCached {
		f.metrics.RecordCacheHit()
		cached.storedAt = time.Now()
		f.cache.Set(key, cached, 0)
		page := truncatePage(cached.page, maxChars)
		return &page, nil
	}

	ext := extractContent(res.body, res.contentType, res.finalURL)
	// The cached entry keeps the text at the configured ceiling; the
	// caller's maxChars is applied on the way out so a later request for
	// the same URL can still see more.
	text, truncated := normalizeText(ext.Text, f.opts.MaxChars)

	page := Page{
		ID:    rawURL,
		Title: ext.Title,
		Text:  text,
		URL:   res.finalURL.String(),
		Metadata: Metadata{
			ContentType:  res.contentType,
			FetchedAt:    time.Now().UTC().Format(time.RFC3339),
			Bytes:        len(res.body),
			CanonicalURL: ext.CanonicalURL,
			Language:     ext.Language,
			PageCount:    ext.PageCount,
			Truncated:    truncated,
		},
	}
	if page.Title == "" {
		page.Title = "Untitled"
	}

	f.cache.Set(key, cachedPage{
		page:         page,
		etag:         res.etag,
		lastModified: res.lastModified,
		status:       res.status,
		storedAt:     time.Now(),
	}, 0)

	log.Debug().Str("url", page.URL).Int("bytes", page.Metadata.Bytes).Msg("web fetch complete")
	out := truncatePage(page, maxChars)
	return &out, nil
}

// FetchRaw retrieves rawURL through the same safety pipeline but returns
// the response body and content type untouched. The image proxy uses it;
// results are not cached.
func (f *Fetcher) FetchRaw(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("parse URL: %w", err)
	}

	f.metrics.RecordFetch()

	release, err := f.gate.Acquire(ctx, u.Hostname())
	if err != nil {
		return nil, "", err
	}
	defer release()

	res, err := f.doRequest(ctx, u, "", "")
	if err != nil {
		if errors.Is(err, ErrRobotsDisallowed) {
			f.metrics.RecordRobotsBlocked()
		} else {
			f.metrics.RecordFetchError()
		}
		return nil, "", err
	}
	return res.body, res.contentType, nil
}

type fetchResult struct {
	body         []byte
	contentType  string
	etag         string
	lastModified string
	status       int
	finalURL     *url.URL
}

// doRequest walks redirects manually, re-applying the destination policy and
// robots.txt on every hop. Conditional headers go out on the first hop only.
func (f *Fetcher) doRequest(ctx context.Context, u *url.URL, etag, lastModified string) (*fetchResult, error) {
	current := u
	visited := make(map[string]bool)

	for hop := 0; hop <= maxRedirects; hop++ {
		if err := f.policy.CheckURL(ctx, current); err != nil {
			return nil, err
		}
		if f.opts.ObeyRobots && !f.robots.Allowed(ctx, current, f.opts.UserAgent) {
			return nil, fmt.Errorf("%s: %w", current, ErrRobotsDisallowed)
		}
		if visited[current.String()] {
			return nil, fmt.Errorf("redirect cycle at %s", current)
		}
		visited[current.String()] = true

		resp, err := f.attempt(ctx, current, hop == 0, etag, lastModified)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("redirect without Location from %s", current)
			}
			next, err := current.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("bad redirect target %q: %w", loc, err)
			}
			if current.Scheme == "https" && next.Scheme == "http" {
				return nil, fmt.Errorf("refusing redirect downgrade from %s to %s", current, next)
			}
			current = next
			continue
		}

		if resp.StatusCode == http.StatusNotModified {
			resp.Body.Close()
			return &fetchResult{status: resp.StatusCode, finalURL: current}, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, current)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return &fetchResult{
			body:         body,
			contentType:  resp.Header.Get("Content-Type"),
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			status:       resp.StatusCode,
			finalURL:     current,
		}, nil
	}
	return nil, fmt.Errorf("too many redirects (max %d)", maxRedirects)
}

func (f *Fetcher) attempt(ctx context.Context, u *url.URL, first bool, etag, lastModified string) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")
	if first {
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelReadCloser ties a context cancel to body close so the per-attempt
// timeout covers the body read as well.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func truncatePage(p Page, maxChars int) Page {
	if text, cut := cutRunes(p.Text, maxChars); cut {
		p.Text = text
		p.Metadata.Truncated = true
	}
	return p
}
