package sefaria

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://www.sefaria.org/api"

	// Behavioral contract: up to 2 retries per call, 400ms * 2^attempt
	// backoff, 7s per-attempt timeout.
	maxRetries        = 2
	backoffBase       = 400 * time.Millisecond
	perAttemptTimeout = 7 * time.Second
)

// Client wraps the Sefaria HTTP API with typed calls, bounded retries and
// per-attempt timeouts. Keep-alive pooling comes from the shared resty
// transport.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a Sefaria API client.
func NewClient() *Client {
	client := resty.New().
		SetBaseURL(defaultBaseURL).
		SetHeader("User-Agent", "SefariaMCP/1.0").
		SetHeader("Accept", "application/json")
	return &Client{httpClient: client, baseURL: defaultBaseURL}
}

// NewClientWithBaseURL creates a client against a non-default origin, used
// by tests.
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.httpClient.SetBaseURL(c.baseURL)
	return c
}

// RefURL derives the canonical site URL for a ref: spaces become
// underscores, the rest is percent-encoded, and lang=bi is appended.
func RefURL(ref string) string {
	cleaned := strings.Join(strings.Fields(strings.TrimSpace(ref)), " ")
	return "https://www.sefaria.org/" + url.PathEscape(strings.ReplaceAll(cleaned, " ", "_")) + "?lang=bi"
}

// NormalizeRef collapses whitespace and strips the ends of a ref.
func NormalizeRef(ref string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(ref)), " ")
}

// do runs one request factory with the retry/backoff contract. The factory
// receives the attempt-scoped context.
func (c *Client) do(ctx context.Context, operation string, attempt func(ctx context.Context) (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		resp, err := attempt(attemptCtx)
		cancel()

		if err == nil && resp != nil && !resp.IsError() {
			if i > 0 {
				log.Info().Str("operation", operation).Int("attempt", i+1).Msg("upstream call succeeded after retry")
			}
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			preview := resp.String()
			if len(preview) > 200 {
				preview = preview[:200]
			}
			lastErr = fmt.Errorf("upstream status %d: %s", resp.StatusCode(), preview)
		}

		if i == maxRetries {
			break
		}
		delay := backoffBase * (1 << i)
		log.Warn().
			Err(lastErr).
			Str("operation", operation).
			Int("attempt", i+1).
			Dur("retry_delay", delay).
			Msg("retrying upstream call")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries+1, lastErr)
}

// GetText fetches a ref via the v3 texts API. Version selectors default to
// english+hebrew.
func (c *Client) GetText(ctx context.Context, ref string, versions ...string) (*TextResponse, error) {
	if len(versions) == 0 {
		versions = []string{"english", "hebrew"}
	}
	var result TextResponse
	_, err := c.do(ctx, "texts", func(ctx context.Context) (*resty.Response, error) {
		req := c.httpClient.R().
			SetContext(ctx).
			SetQueryParam("return_format", "text_only").
			SetResult(&result)
		for _, v := range versions {
			req.QueryParam.Add("version", v)
		}
		return req.Get("/v3/texts/" + url.PathEscape(NormalizeRef(ref)))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchText posts an OpenSearch-style query body to the text search index.
func (c *Client) SearchText(ctx context.Context, body map[string]any) (*SearchResponse, error) {
	var result SearchResponse
	_, err := c.do(ctx, "search", func(ctx context.Context) (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&result).
			Post("/search/text/_search")
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRelated fetches links, sheets and topics connected to a ref.
func (c *Client) GetRelated(ctx context.Context, ref string) (*RelatedResponse, error) {
	var result RelatedResponse
	_, err := c.do(ctx, "related", func(ctx context.Context) (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/related/" + url.PathEscape(NormalizeRef(ref)))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCalendars fetches the learning calendar for one day.
func (c *Client) GetCalendars(ctx context.Context, q CalendarQuery) (*CalendarResponse, error) {
	var result CalendarResponse
	_, err := c.do(ctx, "calendars", func(ctx context.Context) (*resty.Response, error) {
		req := c.httpClient.R().SetContext(ctx).SetResult(&result)
		if q.Year > 0 {
			req.SetQueryParam("year", strconv.Itoa(q.Year))
			req.SetQueryParam("month", strconv.Itoa(q.Month))
			req.SetQueryParam("day", strconv.Itoa(q.Day))
		}
		req.SetQueryParam("diaspora", boolParam(q.Diaspora))
		if q.Timezone != "" {
			req.SetQueryParam("timezone", q.Timezone)
		}
		if q.Custom != "" {
			req.SetQueryParam("custom", q.Custom)
		}
		return req.Get("/calendars")
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FindRefs locates citations inside free text. The upstream response wobbles
// between ref, bestRef and refs keys, so results are normalized here.
func (c *Client) FindRefs(ctx context.Context, text, lang string) ([]FindRefsResult, error) {
	if lang == "" {
		lang = "en"
	}
	body := map[string]any{
		"text": map[string]any{"title": "", "body": text},
		"lang": lang,
	}
	var raw map[string]json.RawMessage
	_, err := c.do(ctx, "find-refs", func(ctx context.Context) (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&raw).
			Post("/find-refs")
	})
	if err != nil {
		return nil, err
	}
	return parseFindRefs(raw), nil
}

func parseFindRefs(raw map[string]json.RawMessage) []FindRefsResult {
	var out []FindRefsResult
	for _, section := range []string{"body", "title"} {
		data, ok := raw[section]
		if !ok {
			continue
		}
		var parsed struct {
			Results []map[string]any `json:"results"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		for _, row := range parsed.Results {
			res := FindRefsResult{}
			if v, ok := row["text"].(string); ok {
				res.Text = v
			}
			if v, ok := row["startChar"].(float64); ok {
				res.StartChar = int(v)
			}
			if v, ok := row["endChar"].(float64); ok {
				res.EndChar = int(v)
			}
			res.Refs = stringList(row["refs"])
			if len(res.Refs) == 0 {
				for _, key := range []string{"ref", "bestRef"} {
					if v, ok := row[key].(string); ok && v != "" {
						res.Refs = []string{v}
						break
					}
				}
			}
			res.HeRefs = stringList(row["heRefs"])
			if len(res.HeRefs) == 0 {
				if v, ok := row["heRef"].(string); ok && v != "" {
					res.HeRefs = []string{v}
				}
			}
			if len(res.Refs) > 0 {
				out = append(out, res)
			}
		}
	}
	return out
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetTopic fetches a topic with its attached refs.
func (c *Client) GetTopic(ctx context.Context, slug string) (*TopicResponse, error) {
	var result TopicResponse
	_, err := c.do(ctx, "topics", func(ctx context.Context) (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetQueryParam("with_refs", "1").
			SetResult(&result).
			Get("/v2/topics/" + url.PathEscape(slug))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSheet fetches a source sheet by numeric id.
func (c *Client) GetSheet(ctx context.Context, id string) (*SheetResponse, error) {
	var result SheetResponse
	_, err := c.do(ctx, "sheets", func(ctx context.Context) (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/sheets/" + url.PathEscape(id))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
