package websearch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily queries the Tavily search API.
type Tavily struct {
	apiKey string
	client *resty.Client
}

// NewTavily creates the provider. An empty key leaves it inactive.
func NewTavily(apiKey string, timeout time.Duration) *Tavily {
	return &Tavily{
		apiKey: apiKey,
		client: resty.New().SetBaseURL(tavilyBaseURL).SetTimeout(timeout),
	}
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Active() bool { return t.apiKey != "" }

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	var body struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"results"`
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+t.apiKey).
		SetBody(map[string]any{
			"query":       query,
			"max_results": maxResults,
		}).
		SetResult(&body).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tavily: status %d", resp.StatusCode())
	}

	results := make([]Result, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL})
	}
	return results, nil
}
