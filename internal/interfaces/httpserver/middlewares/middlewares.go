package middlewares

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"sefaria-mcp/internal/infrastructure/metrics"
)

const requestIDHeader = "X-Request-Id"

// RequestID attaches a request id, minting one when the client sent none.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Str("ip", c.ClientIP()).
			Str("requestId", c.GetString("requestID")).
			Msg("http request")
	}
}

// CORS allows cross-origin MCP clients, including browser-based connectors.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-Id, Mcp-Session-Id")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// APIKey rejects MCP requests without the configured key. An empty key
// disables the check.
func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key != "" && c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// MetricsRecorder counts every MCP request in the shared registry. Server
// errors also feed the snapshot's error counter.
func MetricsRecorder(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		reg.RecordRequest(c.Request.Method, strconv.Itoa(status), time.Since(start))
		if status >= http.StatusInternalServerError {
			reg.RecordError()
		}
	}
}

// ipLimiter tracks one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.visitors[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.visitors[ip] = limiter
	}
	return limiter
}

// RateLimit applies a per-IP limit of max requests per window and annotates
// responses with RateLimit-* headers.
func RateLimit(max int, window time.Duration) gin.HandlerFunc {
	if max < 1 {
		max = 1
	}
	limiters := &ipLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(max) / window.Seconds()),
		burst:    max,
	}
	windowSeconds := strconv.Itoa(int(math.Ceil(window.Seconds())))

	return func(c *gin.Context) {
		limiter := limiters.get(c.ClientIP())

		c.Writer.Header().Set("RateLimit-Limit", strconv.Itoa(max))
		c.Writer.Header().Set("RateLimit-Reset", windowSeconds)

		if !limiter.Allow() {
			c.Writer.Header().Set("RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		remaining := int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Writer.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
