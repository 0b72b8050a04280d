package websearch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const serpAPIBaseURL = "https://serpapi.com"

// SerpAPI queries Google results through serpapi.com.
type SerpAPI struct {
	apiKey string
	client *resty.Client
}

// NewSerpAPI creates the provider. An empty key leaves it inactive.
func NewSerpAPI(apiKey string, timeout time.Duration) *SerpAPI {
	return &SerpAPI{
		apiKey: apiKey,
		client: resty.New().SetBaseURL(serpAPIBaseURL).SetTimeout(timeout),
	}
}

func (s *SerpAPI) Name() string { return "serpapi" }

func (s *SerpAPI) Active() bool { return s.apiKey != "" }

func (s *SerpAPI) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	var body struct {
		OrganicResults []struct {
			Title string `json:"title"`
			Link  string `json:"link"`
		} `json:"organic_results"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"engine":  "google",
			"q":       query,
			"num":     strconv.Itoa(maxResults),
			"api_key": s.apiKey,
		}).
		SetResult(&body).
		Get("/search.json")
	if err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("serpapi: status %d", resp.StatusCode())
	}

	results := make([]Result, 0, len(body.OrganicResults))
	for _, r := range body.OrganicResults {
		results = append(results, Result{Title: r.Title, URL: r.Link})
	}
	return results, nil
}
