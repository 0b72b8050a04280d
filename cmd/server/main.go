package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"sefaria-mcp/internal/domain/library"
	"sefaria-mcp/internal/domain/resolver"
	"sefaria-mcp/internal/domain/web"
	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/config"
	"sefaria-mcp/internal/infrastructure/logger"
	"sefaria-mcp/internal/infrastructure/metrics"
	"sefaria-mcp/internal/infrastructure/sefaria"
	"sefaria-mcp/internal/infrastructure/webfetch"
	"sefaria-mcp/internal/infrastructure/websearch"
	"sefaria-mcp/internal/interfaces/httpserver"
	mcproute "sefaria-mcp/internal/interfaces/httpserver/routes/mcp"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("log_level", cfg.LogLevel).
		Msg("starting Sefaria MCP gateway")

	reg := metrics.NewRegistry()

	// Corpus side: upstream client, ref resolver, shared response cache.
	client := sefaria.NewClient()
	responseCache := cache.New[any](cfg.CacheTTL(), cfg.CacheMaxEntries)
	reg.SetCacheSizeFunc(responseCache.Len)
	librarySvc := library.NewService(client, resolver.New(client), responseCache)

	// Web side: hardened fetcher plus the provider multiplexer.
	fetcher := webfetch.NewFetcher(webfetch.Options{
		MaxBytes:        int64(cfg.WebMaxBytes),
		MaxChars:        cfg.WebMaxChars,
		Timeout:         cfg.WebTimeout(),
		CacheTTL:        cfg.CacheTTL(),
		CacheMaxEntries: cfg.WebCacheMaxEntries,
		ObeyRobots:      cfg.RobotsObey,
		UserAgent:       cfg.RobotsUserAgent,
		Allowlist:       cfg.WebAllowlist,
		Blocklist:       cfg.WebBlocklist,
	}, cfg.WebMaxConcurrency, cfg.WebPerHostConcurrency, reg)

	providerTimeout := 8 * time.Second
	searcher := websearch.NewMultiplexer(
		&webfetch.Policy{Allowlist: cfg.WebAllowlist, Blocklist: cfg.WebBlocklist},
		websearch.NewTavily(cfg.TavilyAPIKey, providerTimeout),
		websearch.NewSerpAPI(cfg.SerpAPIKey, providerTimeout),
		websearch.NewBrave(cfg.BraveAPIKey, providerTimeout),
	)
	webSvc := web.NewService(searcher, fetcher, cfg.WebMaxResults)

	route := mcproute.NewRoute(librarySvc, webSvc, reg, version)
	server := httpserver.New(cfg, reg, route, fetcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}
