package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sefaria-mcp/internal/domain/library"
	"sefaria-mcp/internal/domain/resolver"
	"sefaria-mcp/internal/domain/web"
	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/metrics"
	"sefaria-mcp/internal/infrastructure/sefaria"
	"sefaria-mcp/internal/infrastructure/webfetch"
	"sefaria-mcp/internal/infrastructure/websearch"
)

type stubCorpusClient struct {
	texts map[string]*sefaria.TextResponse
}

func (s *stubCorpusClient) GetText(_ context.Context, ref string, _ ...string) (*sefaria.TextResponse, error) {
	if t, ok := s.texts[ref]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("text not found: %s", ref)
}

func (s *stubCorpusClient) SearchText(context.Context, map[string]any) (*sefaria.SearchResponse, error) {
	return &sefaria.SearchResponse{}, nil
}

func (s *stubCorpusClient) GetRelated(context.Context, string) (*sefaria.RelatedResponse, error) {
	return &sefaria.RelatedResponse{}, nil
}

func (s *stubCorpusClient) GetCalendars(context.Context, sefaria.CalendarQuery) (*sefaria.CalendarResponse, error) {
	return &sefaria.CalendarResponse{}, nil
}

func (s *stubCorpusClient) FindRefs(context.Context, string, string) ([]sefaria.FindRefsResult, error) {
	return nil, nil
}

func (s *stubCorpusClient) GetTopic(context.Context, string) (*sefaria.TopicResponse, error) {
	return &sefaria.TopicResponse{}, nil
}

func (s *stubCorpusClient) GetSheet(context.Context, string) (*sefaria.SheetResponse, error) {
	return &sefaria.SheetResponse{}, nil
}

type stubSearcher struct {
	results []websearch.Result
}

func (s *stubSearcher) Search(context.Context, string, int) []websearch.Result {
	return s.results
}

type stubFetcher struct {
	page *webfetch.Page
}

func (s *stubFetcher) Fetch(context.Context, string, int) (*webfetch.Page, error) {
	return s.page, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := &stubCorpusClient{texts: map[string]*sefaria.TextResponse{
		"Genesis 1:1": {Ref: "Genesis 1:1", HeRef: "בראשית א:א", Title: "Genesis"},
	}}
	librarySvc := library.NewService(client, resolver.New(client), cache.New[any](5*time.Minute, 256))

	webSvc := web.NewService(
		&stubSearcher{results: []websearch.Result{{ID: "https://example.com/a", Title: "Example", URL: "https://example.com/a"}}},
		&stubFetcher{page: &webfetch.Page{ID: "https://example.com/a", Title: "Example", Text: "body"}},
		10,
	)

	router := gin.New()
	NewRoute(librarySvc, webSvc, metrics.NewRegistry(), "test").Register(router)
	return router
}

func postRPC(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type rpcResponse struct {
	Result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StructuredContent map[string]any `json:"structuredContent"`
		IsError           bool           `json:"isError"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func decodeRPC(t *testing.T, w *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	body := w.Body.String()
	// SSE-framed responses carry the JSON in a data: line.
	if idx := strings.Index(body, "data: "); idx >= 0 {
		body = body[idx+len("data: "):]
		if end := strings.Index(body, "\n"); end >= 0 {
			body = body[:end]
		}
	}
	var out rpcResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out), "body: %s", w.Body.String())
	return out
}

func TestCorpusToolsList(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeRPC(t, w)
	names := make(map[string]bool)
	for _, tool := range out.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"search", "fetch", "get_commentaries", "compare_versions",
		"get_daily_learnings", "find_refs", "sugya_explorer", "topics_search",
		"parsha_pack", "topic_sheet_curator", "insight_layers", "calendar_insights",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
	assert.Len(t, out.Result.Tools, 12)
}

func TestWebToolsList(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp-web", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeRPC(t, w)
	require.Len(t, out.Result.Tools, 2)
	names := []string{out.Result.Tools[0].Name, out.Result.Tools[1].Name}
	assert.ElementsMatch(t, []string{"search", "fetch"}, names)
}

func TestCorpusSearchToolCall(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{"query":"Genesis 1:1"}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeRPC(t, w)
	require.Nil(t, out.Error)
	require.False(t, out.Result.IsError)

	results, ok := out.Result.StructuredContent["results"].([]any)
	require.True(t, ok, "structuredContent: %v", out.Result.StructuredContent)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "Genesis 1:1|en|primary", first["id"])

	// The text block mirrors the structured payload.
	require.NotEmpty(t, out.Result.Content)
	assert.Contains(t, out.Result.Content[0].Text, "Genesis 1:1")
}

func TestWebSearchToolCall(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp-web", `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search","arguments":{"query":"golang"}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeRPC(t, w)
	require.Nil(t, out.Error)
	results, ok := out.Result.StructuredContent["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/a", results[0].(map[string]any)["url"])
}

func TestToolCallMissingRequiredArgument(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp-web", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"fetch","arguments":{}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeRPC(t, w)
	assert.True(t, out.Result.IsError)
}

func TestMethodGuardBlocksUnlistedMethod(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp", `{"jsonrpc":"2.0","id":5,"method":"logging/setLevel","params":{}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMethodGuardRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMethodGuardRebuffersBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seen string
	router.POST("/probe", MCPMethodGuard(map[string]bool{"ping": true}), func(c *gin.Context) {
		raw, err := c.GetRawData()
		require.NoError(t, err)
		seen = string(raw)
		c.Status(http.StatusOK)
	})

	body := `{"jsonrpc":"2.0","id":6,"method":"ping"}`
	w := postRPC(t, router, "/probe", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, seen)
}

func TestSSEEndpointStreamsEndpointEvent(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// First event names the message endpoint with the session id.
	reader := bufio.NewReader(resp.Body)
	var endpointLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			endpointLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}
	assert.Contains(t, endpointLine, "/mcp/messages?sessionId=")
}

func TestSSEMessagesRequireSession(t *testing.T) {
	router := newTestRouter(t)

	w := postRPC(t, router, "/mcp/messages", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postRPC(t, router, "/mcp/messages?sessionId=does-not-exist", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
