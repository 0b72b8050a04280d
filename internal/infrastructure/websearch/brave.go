package websearch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const braveBaseURL = "https://api.search.brave.com"

// Brave queries the Brave Search API.
type Brave struct {
	apiKey string
	client *resty.Client
}

// NewBrave creates the provider. An empty key leaves it inactive.
func NewBrave(apiKey string, timeout time.Duration) *Brave {
	return &Brave{
		apiKey: apiKey,
		client: resty.New().SetBaseURL(braveBaseURL).SetTimeout(timeout),
	}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Active() bool { return b.apiKey != "" }

func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	var body struct {
		Web struct {
			Results []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"results"`
		} `json:"web"`
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("X-Subscription-Token", b.apiKey).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"q":     query,
			"count": strconv.Itoa(maxResults),
		}).
		SetResult(&body).
		Get("/res/v1/web/search")
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("brave: status %d", resp.StatusCode())
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL})
	}
	return results, nil
}
