package mcp

import (
	"context"
	"encoding/json"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"sefaria-mcp/internal/domain/library"
	"sefaria-mcp/internal/infrastructure/metrics"
)

// LibraryMCP registers the corpus aggregation tools.
type LibraryMCP struct {
	service *library.Service
	metrics *metrics.Registry
}

// NewLibraryMCP creates the corpus tool handler set.
func NewLibraryMCP(service *library.Service, reg *metrics.Registry) *LibraryMCP {
	return &LibraryMCP{service: service, metrics: reg}
}

// structuredResult packages a payload as both JSON text and structured
// content, the dual shape MCP clients expect from tools/call.
func structuredResult(payload any) *mcpgo.CallToolResult {
	text, err := json.Marshal(payload)
	if err != nil {
		return mcpgo.NewToolResultError("encode result: " + err.Error())
	}
	return mcpgo.NewToolResultStructured(payload, string(text))
}

// instrument wraps a tool handler with per-tool metrics.
func instrument(reg *metrics.Registry, name string, fn mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		start := time.Now()
		res, err := fn(ctx, req)
		status := "success"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		reg.RecordToolCall(name, status, time.Since(start))
		return res, err
	}
}

// RegisterTools attaches every corpus tool to the given MCP server.
func (h *LibraryMCP) RegisterTools(srv *mcpserver.MCPServer) {
	h.registerSearch(srv)
	h.registerFetch(srv)
	h.registerGetCommentaries(srv)
	h.registerCompareVersions(srv)
	h.registerGetDailyLearnings(srv)
	h.registerFindRefs(srv)
	h.registerSugyaExplorer(srv)
	h.registerTopicsSearch(srv)
	h.registerParshaPack(srv)
	h.registerTopicSheetCurator(srv)
	h.registerInsightLayers(srv)
	h.registerCalendarInsights(srv)
}

func (h *LibraryMCP) registerSearch(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("search",
			mcpgo.WithDescription("Search the Jewish library for passages matching a query. Returns refs with stable document ids for fetch."),
			mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("Free text, a phrase, or a direct reference like 'Genesis 1:1'")),
			mcpgo.WithNumber("size", mcpgo.Description("Maximum results, 1-25 (default 10)")),
			mcpgo.WithString("lang", mcpgo.Description("Preferred language code encoded into result ids (default 'en')")),
		),
		instrument(h.metrics, "search", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			query, err := req.RequireString("query")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.Search(ctx, library.SearchParams{
				Query: query,
				Size:  req.GetInt("size", 0),
				Lang:  req.GetString("lang", ""),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerFetch(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("fetch",
			mcpgo.WithDescription("Fetch the full text of a document id from search results. Ids of the form 'sheet:<id>' load source sheets."),
			mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Document id (ref|language|version) or sheet:<numericId>")),
			mcpgo.WithString("langPref", mcpgo.Description("'en', 'he' or 'bi' for bilingual (default 'en')")),
			mcpgo.WithNumber("maxChars", mcpgo.Description("Truncate the text to this many characters")),
		),
		instrument(h.metrics, "fetch", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			id, err := req.RequireString("id")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.Fetch(ctx, library.FetchParams{
				ID:       id,
				LangPref: req.GetString("langPref", "en"),
				MaxChars: req.GetInt("maxChars", 0),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerGetCommentaries(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("get_commentaries",
			mcpgo.WithDescription("List the commentaries and other links attached to a reference."),
			mcpgo.WithString("ref", mcpgo.Required(), mcpgo.Description("Canonical reference, e.g. 'Genesis 1:1'")),
		),
		instrument(h.metrics, "get_commentaries", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			ref, err := req.RequireString("ref")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.GetCommentaries(ctx, ref)
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerCompareVersions(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("compare_versions",
			mcpgo.WithDescription("Load several versions or translations of a reference side by side."),
			mcpgo.WithString("ref", mcpgo.Required(), mcpgo.Description("Canonical reference")),
			mcpgo.WithArray("versions", mcpgo.Description("Version selectors, e.g. ['english','hebrew'] or version titles"), mcpgo.Items(map[string]any{"type": "string"})),
			mcpgo.WithArray("languages", mcpgo.Description("Language selectors; used when 'versions' is absent"), mcpgo.Items(map[string]any{"type": "string"})),
			mcpgo.WithNumber("maxChars", mcpgo.Description("Per-version truncation")),
		),
		instrument(h.metrics, "compare_versions", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			ref, err := req.RequireString("ref")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.CompareVersions(ctx, library.CompareVersionsParams{
				Ref:       ref,
				Versions:  req.GetStringSlice("versions", nil),
				Languages: req.GetStringSlice("languages", nil),
				MaxChars:  req.GetInt("maxChars", 0),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func calendarParamsFromRequest(req mcpgo.CallToolRequest) library.CalendarParams {
	diaspora := req.GetBool("diaspora", true)
	return library.CalendarParams{
		Date:     req.GetString("date", ""),
		Diaspora: &diaspora,
		Timezone: req.GetString("timezone", ""),
		Custom:   req.GetString("custom", ""),
	}
}

func (h *LibraryMCP) registerGetDailyLearnings(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("get_daily_learnings",
			mcpgo.WithDescription("Get the full daily learning schedule (parashah, daf yomi and the other tracks) for a date."),
			mcpgo.WithString("date", mcpgo.Description("YYYY-MM-DD, defaults to today (UTC)")),
			mcpgo.WithBoolean("diaspora", mcpgo.Description("Diaspora calendar (default true)")),
			mcpgo.WithString("timezone", mcpgo.Description("IANA timezone name")),
			mcpgo.WithString("custom", mcpgo.Description("Custom rite, e.g. 'ashkenazi' or 'sephardi'")),
		),
		instrument(h.metrics, "get_daily_learnings", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			out, err := h.service.GetDailyLearnings(ctx, calendarParamsFromRequest(req))
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerFindRefs(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("find_refs",
			mcpgo.WithDescription("Locate citations inside free text and map them to canonical references."),
			mcpgo.WithString("text", mcpgo.Required(), mcpgo.Description("Text to scan for citations")),
			mcpgo.WithString("lang", mcpgo.Description("'en' or 'he'; autodetected when omitted")),
			mcpgo.WithBoolean("return_text", mcpgo.Description("Include the matched text span per citation")),
		),
		instrument(h.metrics, "find_refs", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			text, err := req.RequireString("text")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.FindRefs(ctx, library.FindRefsParams{
				Text:       text,
				Lang:       req.GetString("lang", ""),
				ReturnText: req.GetBool("return_text", false),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerSugyaExplorer(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("sugya_explorer",
			mcpgo.WithDescription("Build a study map around a passage: text, ranked links grouped by category, source sheets and topics."),
			mcpgo.WithString("ref", mcpgo.Required(), mcpgo.Description("Reference or a resolvable phrase like 'shabbat candles'")),
			mcpgo.WithBoolean("includeText", mcpgo.Description("Include the bilingual passage text")),
			mcpgo.WithNumber("maxTextChars", mcpgo.Description("Text truncation, up to 8000")),
			mcpgo.WithNumber("maxPerCategory", mcpgo.Description("Links kept per category, up to 15")),
			mcpgo.WithNumber("maxSheets", mcpgo.Description("Source sheets kept, up to 20")),
			mcpgo.WithNumber("maxTopics", mcpgo.Description("Topics kept, up to 20")),
		),
		instrument(h.metrics, "sugya_explorer", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			ref, err := req.RequireString("ref")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.SugyaExplorer(ctx, library.SugyaParams{
				Ref:            ref,
				IncludeText:    req.GetBool("includeText", false),
				MaxTextChars:   req.GetInt("maxTextChars", 0),
				MaxPerCategory: req.GetInt("maxPerCategory", 0),
				MaxSheets:      req.GetInt("maxSheets", 0),
				MaxTopics:      req.GetInt("maxTopics", 0),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerTopicsSearch(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("topics_search",
			mcpgo.WithDescription("Find the most relevant passages for a theme or topic phrase."),
			mcpgo.WithString("topic", mcpgo.Required(), mcpgo.Description("Theme to search for, e.g. 'teshuvah'")),
		),
		instrument(h.metrics, "topics_search", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			topic, err := req.RequireString("topic")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.TopicsSearch(ctx, topic)
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerParshaPack(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("parsha_pack",
			mcpgo.WithDescription("Assemble the weekly Torah portion bundle: parsha, haftarot, aliyot, highlights and learning tracks."),
			mcpgo.WithString("date", mcpgo.Description("YYYY-MM-DD, defaults to today (UTC)")),
			mcpgo.WithBoolean("diaspora", mcpgo.Description("Diaspora calendar (default true)")),
			mcpgo.WithString("custom", mcpgo.Description("Custom rite")),
			mcpgo.WithString("timezone", mcpgo.Description("IANA timezone name")),
			mcpgo.WithBoolean("includeAliyot", mcpgo.Description("Include the aliyah breakdown")),
			mcpgo.WithBoolean("includeLearningTracks", mcpgo.Description("Include daily learning tracks")),
			mcpgo.WithNumber("limitLearningTracks", mcpgo.Description("Track cap, up to 12")),
		),
		instrument(h.metrics, "parsha_pack", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			out, err := h.service.ParshaPack(ctx, library.ParshaPackParams{
				CalendarParams:        calendarParamsFromRequest(req),
				IncludeAliyot:         req.GetBool("includeAliyot", false),
				IncludeLearningTracks: req.GetBool("includeLearningTracks", false),
				LimitLearningTracks:   req.GetInt("limitLearningTracks", 0),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerTopicSheetCurator(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("topic_sheet_curator",
			mcpgo.WithDescription("Curate community source sheets for a topic, expanding via search when the topic page is thin."),
			mcpgo.WithString("topic", mcpgo.Required(), mcpgo.Description("Topic name or slug")),
			mcpgo.WithNumber("maxSheets", mcpgo.Description("Sheets to return, up to 15")),
		),
		instrument(h.metrics, "topic_sheet_curator", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			topic, err := req.RequireString("topic")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.TopicSheetCurator(ctx, topic, req.GetInt("maxSheets", 0))
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerInsightLayers(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("insight_layers",
			mcpgo.WithDescription("Collect the major commentary voices on a reference, with summaries and theme keywords."),
			mcpgo.WithString("ref", mcpgo.Required(), mcpgo.Description("Canonical reference")),
			mcpgo.WithArray("commentators", mcpgo.Description("Commentator names; defaults to Rashi, Ibn Ezra, Ramban, Sforno plus the top scorers"), mcpgo.Items(map[string]any{"type": "string"})),
			mcpgo.WithNumber("maxChars", mcpgo.Description("Per-layer text truncation, up to 3000")),
		),
		instrument(h.metrics, "insight_layers", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			ref, err := req.RequireString("ref")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.InsightLayers(ctx, library.InsightLayersParams{
				Ref:          ref,
				Commentators: req.GetStringSlice("commentators", nil),
				MaxChars:     req.GetInt("maxChars", 0),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}

func (h *LibraryMCP) registerCalendarInsights(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("calendar_insights",
			mcpgo.WithDescription("Classify a week of calendar entries with source recommendations and halachic preparation checklists."),
			mcpgo.WithString("startDate", mcpgo.Description("YYYY-MM-DD, defaults to today (UTC)")),
			mcpgo.WithBoolean("diaspora", mcpgo.Description("Diaspora calendar (default true)")),
			mcpgo.WithBoolean("includeLearningTracks", mcpgo.Description("Keep daily learning track items")),
			mcpgo.WithArray("interests", mcpgo.Description("Filter to these item types, e.g. ['parsha','daf']"), mcpgo.Items(map[string]any{"type": "string"})),
			mcpgo.WithString("timezone", mcpgo.Description("IANA timezone name")),
		),
		instrument(h.metrics, "calendar_insights", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			diaspora := req.GetBool("diaspora", true)
			out, err := h.service.CalendarInsights(ctx, library.CalendarInsightsParams{
				StartDate:             req.GetString("startDate", ""),
				Diaspora:              &diaspora,
				IncludeLearningTracks: req.GetBool("includeLearningTracks", false),
				Interests:             req.GetStringSlice("interests", nil),
				Timezone:              req.GetString("timezone", ""),
			})
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)
}
