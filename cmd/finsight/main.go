// FinSight research server — multi-specialist agent orchestration, report
// generation, unified market data, and the guarded trade-controls surface.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finsight-ai/finsight/pkg/agents"
	"github.com/finsight-ai/finsight/pkg/api"
	"github.com/finsight-ai/finsight/pkg/cache"
	"github.com/finsight-ai/finsight/pkg/cleanup"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/database"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/marketdata"
	"github.com/finsight-ai/finsight/pkg/memory"
	"github.com/finsight-ai/finsight/pkg/obs"
	"github.com/finsight-ai/finsight/pkg/planner"
	"github.com/finsight-ai/finsight/pkg/providers"
	"github.com/finsight-ai/finsight/pkg/providers/alpaca"
	"github.com/finsight-ai/finsight/pkg/providers/finviz"
	"github.com/finsight-ai/finsight/pkg/providers/fred"
	"github.com/finsight-ai/finsight/pkg/providers/reddit"
	"github.com/finsight-ai/finsight/pkg/providers/schwab"
	"github.com/finsight-ai/finsight/pkg/providers/tavily"
	"github.com/finsight-ai/finsight/pkg/reports"
	"github.com/finsight-ai/finsight/pkg/scheduler"
	"github.com/finsight-ai/finsight/pkg/stream"
	"github.com/finsight-ai/finsight/pkg/tools"
	"github.com/finsight-ai/finsight/pkg/trade"
	"github.com/finsight-ai/finsight/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using existing environment", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting finsight",
		"version", version.Version,
		"http_port", cfg.HTTPPort,
		"market_data_provider", cfg.MarketData.Provider)

	ctx := context.Background()

	// Database (pool + migrations), audit sink, observability ring.
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("connected to postgres, migrations applied")

	auditStore := database.NewAuditStore(dbClient.Pool)
	ring := obs.NewRing(obs.DefaultRingCapacity, auditStore)
	defer ring.Flush()

	// Cache: Redis when configured, in-memory otherwise.
	var cacheStore cache.Store
	if cfg.CacheURL != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.CacheURL)
		if err != nil {
			slog.Error("failed to connect to cache", "url", cfg.CacheURL, "error", err)
			os.Exit(1)
		}
		cacheStore = redisStore
		slog.Info("connected to redis cache")
	} else {
		cacheStore = cache.NewMemoryStore()
		slog.Info("using in-memory cache")
	}

	// Provider clients. A missing credential leaves that provider out of the
	// rotation instead of failing startup.
	tcfg := providers.TransportConfig{
		MaxRetries:     cfg.MarketData.MaxRetries,
		BackoffBase:    cfg.MarketData.BackoffBase,
		AttemptTimeout: cfg.MarketData.AttemptTimeout,
	}

	var schwabAPI marketdata.SchwabAPI
	if cfg.Schwab.ClientID != "" {
		tokens := schwab.NewTokenManager(cfg.Schwab.TokenDir, "market", cfg.Schwab.ClientID, cfg.Schwab.ClientSecret)
		schwabAPI = schwab.NewClient(providers.NewTransport("schwab", "market", tcfg, ring), tokens)
		slog.Info("schwab provider configured")
	}
	var alpacaAPI marketdata.AlpacaAPI
	if cfg.Alpaca.KeyID != "" {
		alpacaAPI = alpaca.NewClient(providers.NewTransport("alpaca", "market", tcfg, ring),
			cfg.Alpaca.KeyID, cfg.Alpaca.SecretKey, cfg.Alpaca.BaseURL)
		slog.Info("alpaca provider configured")
	}
	finvizClient := finviz.NewClient(providers.NewTransport("finviz", "research", tcfg, ring))

	var fredClient *fred.Client
	if cfg.FRED.APIKey != "" {
		fredClient = fred.NewClient(providers.NewTransport("fred", "research", tcfg, ring), cfg.FRED.APIKey)
	}
	var tavilyClient *tavily.Client
	if cfg.Tavily.APIKey != "" {
		tavilyClient = tavily.NewClient(providers.NewTransport("tavily", "research", tcfg, ring), cfg.Tavily.APIKey)
	}
	var redditClient *reddit.Client
	if cfg.Reddit.ClientID != "" {
		redditClient = reddit.NewClient(providers.NewTransport("reddit", "research", tcfg, ring),
			cfg.Reddit.ClientID, cfg.Reddit.ClientSecret)
	}

	marketSvc := marketdata.NewService(schwabAPI, alpacaAPI, finvizClient, cacheStore, cfg.MarketData, slog.Default())
	toolExecutor := tools.NewExecutor(marketSvc, finvizClient)

	// LLM clients and conversational memory.
	chatLLM := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel)
	plannerLLM := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.PlannerModel)
	embedder := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	memoryManager := memory.NewManager(memory.NewPGStore(dbClient.Pool), embedder, slog.Default())

	// Agent graph: planner, specialists, scheduler, driver.
	var sentimentWeb agents.WebSearch
	if tavilyClient != nil {
		sentimentWeb = tavilyClient
	}
	var sentimentReddit agents.RedditSource
	if redditClient != nil {
		sentimentReddit = redditClient
	}
	var macroFRED agents.EconomicData
	if fredClient != nil {
		macroFRED = fredClient
	}
	specialists := []agents.Specialist{
		agents.NewMarketDataAgent(toolExecutor, chatLLM, slog.Default()),
		agents.NewFundamentalsAgent(toolExecutor, chatLLM, slog.Default()),
		agents.NewSentimentAgent(sentimentReddit, sentimentWeb, toolExecutor, slog.Default()),
		agents.NewMacroAgent(macroFRED, chatLLM, slog.Default()),
		agents.NewTechnicalAgent(toolExecutor, slog.Default()),
		agents.NewAdvisorAgent(toolExecutor, chatLLM, slog.Default()),
	}

	turnPlanner := planner.New(plannerLLM, memoryManager, slog.Default())
	turnScheduler := scheduler.New(specialists, memoryManager, slog.Default())
	driver := stream.NewDriver(turnPlanner, turnScheduler, slog.Default())

	// Reports pipeline.
	if cfg.ReportPromptsFile != "" {
		if err := reports.LoadPromptsFile(cfg.ReportPromptsFile); err != nil {
			slog.Error("failed to load report prompts", "path", cfg.ReportPromptsFile, "error", err)
			os.Exit(1)
		}
		slog.Info("loaded report prompt overrides", "path", cfg.ReportPromptsFile)
	}
	var reportWeb reports.WebSearch
	if tavilyClient != nil {
		reportWeb = tavilyClient
	}
	var reportEcon reports.Economic
	if fredClient != nil {
		reportEcon = fredClient
	}
	collector := reports.NewCollector(marketSvc, finvizClient, reportWeb, reportEcon, slog.Default())
	builder := reports.NewBuilder(collector, slog.Default())
	reportStore := reports.NewPGStore(dbClient.Pool)
	orchestrator := reports.NewOrchestrator(builder, reportStore, chatLLM, slog.Default())

	// Trade controls and retention.
	gate := trade.NewGate(cfg.Trading, auditStore, slog.Default())

	cleanupSvc := cleanup.NewService(cfg.Retention, cleanup.NewPGPurger(dbClient.Pool), slog.Default())
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// HTTP server.
	server := api.NewServer(api.Options{
		Driver:         driver,
		Reports:        orchestrator,
		Store:          reportStore,
		Gate:           gate,
		Ring:           ring,
		Pool:           dbClient.Pool,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         slog.Default(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}
