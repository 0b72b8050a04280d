package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/domain/library"
	"sefaria-mcp/internal/domain/web"
	"sefaria-mcp/internal/infrastructure/metrics"
)

const heartbeatInterval = 25 * time.Second

// allowedMCPMethods is the JSON-RPC method allowlist enforced on the
// stateless POST endpoints.
var allowedMCPMethods = map[string]bool{
	"initialize":                true,
	"notifications/initialized": true,
	"ping":                      true,
	"tools/list":                true,
	"tools/call":                true,
	"prompts/list":              true,
	"resources/list":            true,
	"resources/templates/list":  true,
}

// Route hosts the two MCP endpoints, each on a stateless streamable
// transport and an SSE transport.
type Route struct {
	corpusHTTP http.Handler
	webHTTP    http.Handler
	corpusSSE  *mcpserver.SSEServer
	webSSE     *mcpserver.SSEServer
}

// NewRoute builds both MCP servers and their transports.
func NewRoute(librarySvc *library.Service, webSvc *web.Service, reg *metrics.Registry, version string) *Route {
	corpus := newMCPServer("sefaria-library", version)
	NewLibraryMCP(librarySvc, reg).RegisterTools(corpus)

	webServer := newMCPServer("sefaria-web", version)
	NewWebMCP(webSvc, reg).RegisterTools(webServer)

	return &Route{
		corpusHTTP: mcpserver.NewStreamableHTTPServer(corpus, mcpserver.WithStateLess(true)),
		webHTTP:    mcpserver.NewStreamableHTTPServer(webServer, mcpserver.WithStateLess(true)),
		corpusSSE: mcpserver.NewSSEServer(corpus,
			mcpserver.WithStaticBasePath("/mcp"),
			mcpserver.WithMessageEndpoint("/messages"),
		),
		webSSE: mcpserver.NewSSEServer(webServer,
			mcpserver.WithStaticBasePath("/mcp-web"),
			mcpserver.WithMessageEndpoint("/messages"),
		),
	}
}

func newMCPServer(name, version string) *mcpserver.MCPServer {
	beats := &heartbeats{cancels: make(map[string]context.CancelFunc)}
	hooks := &mcpserver.Hooks{}

	var srv *mcpserver.MCPServer
	hooks.AddOnRegisterSession(func(_ context.Context, session mcpserver.ClientSession) {
		beats.start(srv, session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session mcpserver.ClientSession) {
		beats.stop(session.SessionID())
	})

	srv = mcpserver.NewMCPServer(name, version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)
	return srv
}

// Register mounts the MCP transports on the router. Middleware for
// authentication and rate limiting is applied by the caller.
func (r *Route) Register(router gin.IRouter) {
	router.POST("/mcp", MCPMethodGuard(allowedMCPMethods), gin.WrapH(r.corpusHTTP))
	router.POST("/mcp-web", MCPMethodGuard(allowedMCPMethods), gin.WrapH(r.webHTTP))

	router.GET("/mcp/sse", gin.WrapH(r.corpusSSE.SSEHandler()))
	router.POST("/mcp/messages", gin.WrapH(r.corpusSSE.MessageHandler()))
	router.GET("/mcp-web/sse", gin.WrapH(r.webSSE.SSEHandler()))
	router.POST("/mcp-web/messages", gin.WrapH(r.webSSE.MessageHandler()))
}

// MCPMethodGuard rejects JSON-RPC methods outside the allowlist before
// they reach the MCP server. The body is rebuffered for the handler.
func MCPMethodGuard(allowed map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var probe struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(body, &probe); err != nil || probe.Method == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON-RPC request"})
			return
		}
		if !allowed[probe.Method] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "method not allowed: " + probe.Method})
			return
		}
		c.Next()
	}
}

// heartbeats sends a debug notification to each live SSE session every
// heartbeatInterval so idle connections stay open through proxies.
type heartbeats struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (h *heartbeats) start(srv *mcpserver.MCPServer, sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if prev, ok := h.cancels[sessionID]; ok {
		prev()
	}
	h.cancels[sessionID] = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := srv.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
					"level": "debug",
					"data":  "heartbeat",
				})
				if err != nil {
					log.Debug().Err(err).Str("sessionId", sessionID).Msg("heartbeat delivery failed")
					return
				}
			}
		}
	}()
}

func (h *heartbeats) stop(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[sessionID]; ok {
		cancel()
		delete(h.cancels, sessionID)
	}
}
