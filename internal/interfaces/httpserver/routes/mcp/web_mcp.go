package mcp

import (
	"context"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"sefaria-mcp/internal/domain/web"
	"sefaria-mcp/internal/infrastructure/metrics"
)

// WebMCP registers the web research tool pair.
type WebMCP struct {
	service *web.Service
	metrics *metrics.Registry
}

// NewWebMCP creates the web tool handler set.
func NewWebMCP(service *web.Service, reg *metrics.Registry) *WebMCP {
	return &WebMCP{service: service, metrics: reg}
}

// RegisterTools attaches the search and fetch tools to the given MCP server.
func (h *WebMCP) RegisterTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcpgo.NewTool("search",
			mcpgo.WithDescription("Search the web. Returns result URLs usable as ids for fetch."),
			mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("Search query")),
			mcpgo.WithNumber("maxResults", mcpgo.Description("Results to return, capped by server configuration")),
		),
		instrument(h.metrics, "web_search", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			query, err := req.RequireString("query")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			out, err := h.service.Search(ctx, query, req.GetInt("maxResults", 0))
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(out), nil
		}),
	)

	srv.AddTool(
		mcpgo.NewTool("fetch",
			mcpgo.WithDescription("Fetch a web page or PDF by URL and return its readable text. Respects robots.txt and refuses private addresses."),
			mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("http or https URL, typically from a search result")),
			mcpgo.WithNumber("maxChars", mcpgo.Description("Truncate the extracted text to this many characters")),
		),
		instrument(h.metrics, "web_fetch", func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			id, err := req.RequireString("id")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			page, err := h.service.Fetch(ctx, id, req.GetInt("maxChars", 0))
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return structuredResult(page), nil
		}),
	)
}
