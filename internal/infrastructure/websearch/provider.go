package websearch

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// Result is one search hit. ID doubles as the fetch id.
type Result struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Provider is one upstream search engine. A provider without a configured
// key reports inactive and is skipped.
type Provider interface {
	Name() string
	Active() bool
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// HostFilter decides whether a result host is admissible.
type HostFilter interface {
	HostAllowed(host string) bool
}

// Multiplexer queries providers in fixed order, filters and de-duplicates
// their results, and stops once maxResults are collected.
type Multiplexer struct {
	providers []Provider
	filter    HostFilter
}

// NewMultiplexer keeps the provider order given. Pass a nil filter to admit
// every host.
func NewMultiplexer(filter HostFilter, providers ...Provider) *Multiplexer {
	return &Multiplexer{providers: providers, filter: filter}
}

// Search fans out to the active providers in order. Provider errors are
// logged and skipped; when every provider fails the result is an empty
// list, not an error.
func (m *Multiplexer) Search(ctx context.Context, query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = 10
	}

	seen := make(map[string]bool)
	out := make([]Result, 0, maxResults)

	for _, p := range m.providers {
		if !p.Active() {
			continue
		}
		if len(out) >= maxResults {
			break
		}

		results, err := p.Search(ctx, query, maxResults)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("search provider failed")
			continue
		}

		for _, r := range results {
			u, err := url.Parse(strings.TrimSpace(r.URL))
			if err != nil || u.Host == "" {
				continue
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				continue
			}
			if m.filter != nil && !m.filter.HostAllowed(u.Hostname()) {
				continue
			}
			key := u.Scheme + "://" + u.Host + u.Path
			if seen[key] {
				continue
			}
			seen[key] = true

			r.URL = u.String()
			r.ID = r.URL
			if r.Title == "" {
				r.Title = u.Host
			}
			out = append(out, r)
			if len(out) >= maxResults {
				break
			}
		}
	}
	return out
}
