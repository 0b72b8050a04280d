package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the Sefaria MCP gateway.
type Config struct {
	// HTTP transport
	HTTPPort          string `env:"PORT" envDefault:"3088"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"json"` // json or console
	APIKey            string `env:"MCP_API_KEY"`
	RateLimitMax      int    `env:"MCP_RATE_LIMIT_MAX" envDefault:"60"`
	RateLimitWindowMS int    `env:"MCP_RATE_LIMIT_WINDOW_MS" envDefault:"60000"`

	// Shared response cache
	CacheTTLMS         int `env:"CACHE_TTL_MS" envDefault:"300000"`
	CacheMaxEntries    int `env:"CACHE_MAX_ENTRIES" envDefault:"500"`
	WebCacheMaxEntries int `env:"WEB_CACHE_MAX_ENTRIES" envDefault:"200"`

	// Web fetch
	WebMaxResults         int      `env:"WEB_MAX_RESULTS" envDefault:"10"`
	WebMaxBytes           int      `env:"WEB_MAX_BYTES" envDefault:"2097152"`
	WebMaxChars           int      `env:"WEB_MAX_CHARS" envDefault:"200000"`
	WebTimeoutMS          int      `env:"WEB_TIMEOUT_MS" envDefault:"12000"`
	WebMaxConcurrency     int      `env:"WEB_MAX_CONCURRENCY" envDefault:"4"`
	WebPerHostConcurrency int      `env:"WEB_PER_HOST_CONCURRENCY" envDefault:"2"`
	WebAllowlist          []string `env:"WEB_ALLOWLIST" envSeparator:","`
	WebBlocklist          []string `env:"WEB_BLOCKLIST" envSeparator:","`
	RobotsObey            bool     `env:"ROBOTS_OBEY" envDefault:"true"`
	RobotsUserAgent       string   `env:"ROBOTS_USER_AGENT" envDefault:"SefariaMCP/1.0"`

	// Search providers, tried in declared order
	TavilyAPIKey string `env:"TAVILY_API_KEY"`
	SerpAPIKey   string `env:"SERPAPI_KEY"`
	BraveAPIKey  string `env:"BRAVE_API_KEY"`
}

// bound clamps v into [lo, hi].
func bound(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoadConfig loads configuration from environment variables and clamps
// numeric options into their documented ranges.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.RateLimitMax = bound(cfg.RateLimitMax, 1, 10000)
	cfg.RateLimitWindowMS = bound(cfg.RateLimitWindowMS, 1000, 3600000)
	cfg.CacheTTLMS = bound(cfg.CacheTTLMS, 10000, 3600000)
	cfg.CacheMaxEntries = bound(cfg.CacheMaxEntries, 10, 10000)
	cfg.WebCacheMaxEntries = bound(cfg.WebCacheMaxEntries, 10, 2000)
	cfg.WebMaxResults = bound(cfg.WebMaxResults, 1, 25)
	cfg.WebMaxBytes = bound(cfg.WebMaxBytes, 50_000, 10*1024*1024)
	cfg.WebMaxChars = bound(cfg.WebMaxChars, 5000, 1_000_000)
	cfg.WebTimeoutMS = bound(cfg.WebTimeoutMS, 3000, 60000)
	cfg.WebMaxConcurrency = bound(cfg.WebMaxConcurrency, 1, 16)
	cfg.WebPerHostConcurrency = bound(cfg.WebPerHostConcurrency, 1, 8)

	return cfg, nil
}

// CacheTTL returns the shared response cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// WebTimeout returns the per-attempt web fetch timeout as a duration.
func (c *Config) WebTimeout() time.Duration {
	return time.Duration(c.WebTimeoutMS) * time.Millisecond
}

// RateLimitWindow returns the rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}
