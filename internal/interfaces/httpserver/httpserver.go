package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/infrastructure/config"
	"sefaria-mcp/internal/infrastructure/metrics"
	"sefaria-mcp/internal/infrastructure/webfetch"
	"sefaria-mcp/internal/interfaces/httpserver/middlewares"
	mcproute "sefaria-mcp/internal/interfaces/httpserver/routes/mcp"
)

const shutdownTimeout = 10 * time.Second

// HttpServer wraps the gin engine with graceful shutdown helpers.
type HttpServer struct {
	cfg    *config.Config
	engine *gin.Engine
}

// New constructs the HTTP server. MCP routes carry the rate limiter and the
// optional API-key gate; health and dashboard endpoints stay public.
func New(cfg *config.Config, reg *metrics.Registry, route *mcproute.Route, fetcher *webfetch.Fetcher) *HttpServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middlewares.RequestID(),
		middlewares.RequestLogger(),
		middlewares.CORS(),
	)

	registerCoreRoutes(engine, reg, fetcher)

	mcpGroup := engine.Group("/",
		middlewares.MetricsRecorder(reg),
		middlewares.RateLimit(cfg.RateLimitMax, cfg.RateLimitWindow()),
		middlewares.APIKey(cfg.APIKey),
	)
	route.Register(mcpGroup)

	return &HttpServer{cfg: cfg, engine: engine}
}

// Engine exposes the router for tests.
func (s *HttpServer) Engine() *gin.Engine { return s.engine }

// Run starts the listener and shuts down gracefully when ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.cfg.HTTPPort,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("MCP gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func registerCoreRoutes(engine *gin.Engine, reg *metrics.Registry, fetcher *webfetch.Fetcher) {
	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "sefaria-mcp", "status": "ok"})
	})
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	})
	engine.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/dashboard", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
	})

	engine.POST("/health/python", func(c *gin.Context) {
		var body struct {
			Status string `json:"status"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || (body.Status != "ok" && body.Status != "error") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be \"ok\" or \"error\""})
			return
		}
		reg.SetHeartbeat(body.Status, time.Now())
		c.Status(http.StatusNoContent)
	})

	engine.GET("/image-proxy", func(c *gin.Context) {
		rawURL := c.Query("url")
		if rawURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
			return
		}
		body, contentType, err := fetcher.FetchRaw(c.Request.Context(), rawURL)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "target is not an image"})
			return
		}
		c.Header("Cache-Control", "public, max-age=600")
		c.Data(http.StatusOK, contentType, body)
	})
}

// dashboardHTML is the minimal operations view. It polls /healthz every 5
// seconds and renders the counters client-side.
const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sefaria MCP Gateway</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; background: #f7f7f5; color: #222; }
h1 { font-size: 1.3rem; }
table { border-collapse: collapse; margin-top: 1rem; }
td, th { border: 1px solid #ccc; padding: 0.3rem 0.8rem; text-align: left; }
.num { text-align: right; font-variant-numeric: tabular-nums; }
#updated { color: #777; font-size: 0.85rem; }
</style>
</head>
<body>
<h1>Sefaria MCP Gateway</h1>
<p id="updated">loading&hellip;</p>
<table>
<tr><th>Total requests</th><td class="num" id="totalRequests">-</td></tr>
<tr><th>Errors</th><td class="num" id="errors">-</td></tr>
<tr><th>Cache size</th><td class="num" id="cacheSize">-</td></tr>
<tr><th>Web fetches</th><td class="num" id="fetches">-</td></tr>
<tr><th>Web cache hits</th><td class="num" id="cacheHits">-</td></tr>
<tr><th>Robots blocked</th><td class="num" id="robotsBlocked">-</td></tr>
<tr><th>Chain heartbeat</th><td id="heartbeat">-</td></tr>
</table>
<h2 style="font-size:1.1rem">Tool calls</h2>
<table id="tools"><tr><th>Tool</th><th>Calls</th><th>Avg ms</th></tr></table>
<script>
async function refresh() {
  try {
    const res = await fetch('/healthz');
    const snap = await res.json();
    document.getElementById('totalRequests').textContent = snap.totalRequests;
    document.getElementById('errors').textContent = snap.errors;
    document.getElementById('cacheSize').textContent = snap.cacheSize;
    document.getElementById('fetches').textContent = snap.counters.fetches;
    document.getElementById('cacheHits').textContent = snap.counters.cacheHits;
    document.getElementById('robotsBlocked').textContent = snap.counters.robotsBlocked;
    document.getElementById('heartbeat').textContent = snap.pythonChainHeartbeat.status;
    const table = document.getElementById('tools');
    while (table.rows.length > 1) table.deleteRow(1);
    for (const [name, count] of Object.entries(snap.toolCounts || {})) {
      const lat = (snap.toolLatencies || {})[name];
      const avg = lat && lat.count ? (lat.sum / lat.count).toFixed(1) : '-';
      const row = table.insertRow();
      row.insertCell().textContent = name;
      row.insertCell().textContent = count;
      row.insertCell().textContent = avg;
    }
    document.getElementById('updated').textContent = 'updated ' + new Date().toLocaleTimeString();
  } catch (err) {
    document.getElementById('updated').textContent = 'unreachable: ' + err;
  }
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
