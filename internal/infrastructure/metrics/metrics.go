package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	// RequestsTotal counts MCP requests by method and status.
	RequestsTotal *prometheus.CounterVec

	// ToolCallsTotal counts tool invocations.
	ToolCallsTotal *prometheus.CounterVec

	// ToolDuration observes tool execution duration.
	ToolDuration *prometheus.HistogramVec

	// WebFetchesTotal counts safe web fetch attempts by outcome.
	WebFetchesTotal *prometheus.CounterVec
)

func init() {
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sefaria",
			Subsystem: "mcp",
			Name:      "requests_total",
			Help:      "Total number of MCP requests",
		},
		[]string{"method", "status"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sefaria",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations",
		},
		[]string{"tool_name", "status"},
	)

	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sefaria",
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool_name"},
	)

	WebFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sefaria",
			Subsystem: "mcp",
			Name:      "web_fetches_total",
			Help:      "Safe web fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(ToolDuration)
	prometheus.MustRegister(WebFetchesTotal)
	log.Info().Msg("MCP metrics registered with Prometheus")
}

// LatencyStat accumulates a latency sum and a sample count.
type LatencyStat struct {
	Sum   float64 `json:"sum"`
	Count int64   `json:"count"`
}

// FetchCounters track web fetch activity for the health snapshot.
type FetchCounters struct {
	Fetches       int64 `json:"fetches"`
	CacheHits     int64 `json:"cacheHits"`
	RobotsBlocked int64 `json:"robotsBlocked"`
	Errors        int64 `json:"errors"`
}

// Heartbeat reports the last known status of the downstream chain process.
type Heartbeat struct {
	Status    string `json:"status"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

// Snapshot is the JSON shape served by /healthz.
type Snapshot struct {
	TotalRequests        int64                  `json:"totalRequests"`
	ToolCounts           map[string]int64       `json:"toolCounts"`
	LatSumMS             float64                `json:"latSumMs"`
	LatCount             int64                  `json:"latCount"`
	ToolLatencies        map[string]LatencyStat `json:"toolLatencies"`
	Errors               int64                  `json:"errors"`
	CacheSize            int                    `json:"cacheSize"`
	Counters             FetchCounters          `json:"counters"`
	PythonChainHeartbeat Heartbeat              `json:"pythonChainHeartbeat"`
}

// Registry is the in-process counter store behind /healthz. A single instance
// is authoritative; it mirrors what the Prometheus vectors export.
type Registry struct {
	mu            sync.Mutex
	totalRequests int64
	toolCounts    map[string]int64
	latSumMS      float64
	latCount      int64
	toolLatencies map[string]*LatencyStat
	errors        int64
	counters      FetchCounters
	heartbeat     Heartbeat
	cacheSizeFn   func() int
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		toolCounts:    make(map[string]int64),
		toolLatencies: make(map[string]*LatencyStat),
		heartbeat:     Heartbeat{Status: "unknown"},
	}
}

// SetCacheSizeFunc wires the shared response cache size into the snapshot.
func (r *Registry) SetCacheSizeFunc(fn func() int) {
	r.mu.Lock()
	r.cacheSizeFn = fn
	r.mu.Unlock()
}

// RecordRequest records one MCP request and its wall-clock duration.
func (r *Registry) RecordRequest(method, status string, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(method, status).Inc()

	r.mu.Lock()
	r.totalRequests++
	r.latSumMS += float64(elapsed.Milliseconds())
	r.latCount++
	r.mu.Unlock()
}

// RecordToolCall records one tool invocation.
func (r *Registry) RecordToolCall(toolName, status string, elapsed time.Duration) {
	if status == "" {
		status = "unknown"
	}
	ToolCallsTotal.WithLabelValues(toolName, status).Inc()
	ToolDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())

	r.mu.Lock()
	r.toolCounts[toolName]++
	stat, ok := r.toolLatencies[toolName]
	if !ok {
		stat = &LatencyStat{}
		r.toolLatencies[toolName] = stat
	}
	stat.Sum += float64(elapsed.Milliseconds())
	stat.Count++
	if status == "error" {
		r.errors++
	}
	r.mu.Unlock()
}

// RecordError increments the unhandled error counter.
func (r *Registry) RecordError() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

// RecordFetch counts one web fetch attempt.
func (r *Registry) RecordFetch() {
	WebFetchesTotal.WithLabelValues("fetch").Inc()
	r.mu.Lock()
	r.counters.Fetches++
	r.mu.Unlock()
}

// RecordCacheHit counts one web fetch served from cache or via 304.
func (r *Registry) RecordCacheHit() {
	WebFetchesTotal.WithLabelValues("cache_hit").Inc()
	r.mu.Lock()
	r.counters.CacheHits++
	r.mu.Unlock()
}

// RecordRobotsBlocked counts one fetch refused by robots.txt.
func (r *Registry) RecordRobotsBlocked() {
	WebFetchesTotal.WithLabelValues("robots_blocked").Inc()
	r.mu.Lock()
	r.counters.RobotsBlocked++
	r.mu.Unlock()
}

// RecordFetchError counts one failed web fetch.
func (r *Registry) RecordFetchError() {
	WebFetchesTotal.WithLabelValues("error").Inc()
	r.mu.Lock()
	r.counters.Errors++
	r.mu.Unlock()
}

// SetHeartbeat updates the downstream chain heartbeat.
func (r *Registry) SetHeartbeat(status string, checkedAt time.Time) {
	r.mu.Lock()
	r.heartbeat = Heartbeat{Status: status, CheckedAt: checkedAt.UTC().Format(time.RFC3339)}
	r.mu.Unlock()
}

// Snapshot returns a copy of all counters for /healthz.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		TotalRequests:        r.totalRequests,
		ToolCounts:           make(map[string]int64, len(r.toolCounts)),
		LatSumMS:             r.latSumMS,
		LatCount:             r.latCount,
		ToolLatencies:        make(map[string]LatencyStat, len(r.toolLatencies)),
		Errors:               r.errors,
		Counters:             r.counters,
		PythonChainHeartbeat: r.heartbeat,
	}
	for name, n := range r.toolCounts {
		snap.ToolCounts[name] = n
	}
	for name, stat := range r.toolLatencies {
		snap.ToolLatencies[name] = *stat
	}
	if r.cacheSizeFn != nil {
		snap.CacheSize = r.cacheSizeFn()
	}
	return snap
}
