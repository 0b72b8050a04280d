package webfetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// robotsCache holds one parsed robots.txt per origin. A fetch failure is
// cached as nil, which allows everything (the conventional fail-open).
type robotsCache struct {
	client *http.Client

	mu      sync.Mutex
	origins map[string]*robotstxt.RobotsData
}

func newRobotsCache(client *http.Client) *robotsCache {
	return &robotsCache{
		client:  client,
		origins: make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether userAgent may fetch u per the origin's robots.txt.
func (r *robotsCache) Allowed(ctx context.Context, u *url.URL, userAgent string) bool {
	origin := u.Scheme + "://" + u.Host

	r.mu.Lock()
	data, ok := r.origins[origin]
	r.mu.Unlock()

	if !ok {
		data = r.fetch(ctx, origin)
		r.mu.Lock()
		r.origins[origin] = data
		r.mu.Unlock()
	}

	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, userAgent)
}

func (r *robotsCache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("origin", origin).Msg("robots.txt fetch failed")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		log.Debug().Err(err).Str("origin", origin).Msg("robots.txt parse failed")
		return nil
	}
	return data
}
