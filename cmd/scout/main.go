package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"alphaforge.app/scout/common/id"
	"alphaforge.app/scout/common/logger"
	"alphaforge.app/scout/common/otel"
	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/core/config"
	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/audit"
	"alphaforge.app/scout/internal/engine"
	"alphaforge.app/scout/internal/http/middleware"
	httprouter "alphaforge.app/scout/internal/http/router"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "scout starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.AuditStream)

	breakerCfg := resilience.BreakerConfig{
		FailureThreshold:    cfg.Resilience.BreakerFailureThreshold,
		ResetTimeout:        cfg.Resilience.BreakerResetTimeout,
		HalfOpenMaxRequests: cfg.Resilience.BreakerHalfOpenMax,
		SuccessThreshold:    cfg.Resilience.BreakerSuccessThreshold,
	}
	sink := audit.NewRedisSink(redisClient, cfg.Redis.AuditStream, cfg.Redis.AuditMaxLen,
		resilience.NewBreaker(breakerCfg), slog.Default())
	defer func() { _ = sink.Close() }()

	stores := store.New(database.Pool())

	tracker := service.NewStateTracker(stores.State, sink, resilience.NewBreaker(breakerCfg))
	if err := tracker.Load(ctx, cfg.Orchestrator.Enabled); err != nil {
		slog.ErrorContext(ctx, "failed to load orchestrator state", "error", err)
		os.Exit(1)
	}

	gatekeeper := service.NewGatekeeper(stores.Budgets, tracker, cfg.Orchestrator.DailyCostCeilingUSD, sink)

	scanClient, err := provider.New(providerConfig(cfg.ScanLLM))
	if err != nil {
		slog.ErrorContext(ctx, "failed to build scan provider", "error", err)
		os.Exit(1)
	}
	deepClient, err := provider.New(providerConfig(cfg.DeepLLM))
	if err != nil {
		slog.ErrorContext(ctx, "failed to build deep provider", "error", err)
		os.Exit(1)
	}

	providers := provider.NewRegistry()
	providers.Register(string(model.LLMRoleScan), scanClient)
	providers.Register(string(model.LLMRoleDeep), deepClient)
	slog.InfoContext(ctx, "providers registered",
		"scan", scanClient.Name(), "scan_model", scanClient.Model(),
		"deep", deepClient.Name(), "deep_model", deepClient.Model())

	seedLimits := map[string]float64{
		provider.NameOpenAI:    cfg.Budget.OpenAIMonthlyLimitUSD,
		provider.NameAnthropic: cfg.Budget.AnthropicMonthlyLimitUSD,
	}
	for _, client := range []provider.Client{scanClient, deepClient} {
		if err := gatekeeper.EnsureLedger(ctx, client.Name(), seedLimits[client.Name()]); err != nil {
			slog.ErrorContext(ctx, "failed to seed budget ledger", "provider", client.Name(), "error", err)
			os.Exit(1)
		}
	}

	admission := service.NewAdmission(stores.Jobs, gatekeeper, tracker, providers,
		cfg.Orchestrator.MaxConcurrentJobs, cfg.Orchestrator.MaxRetries, sink)
	postProcessor := service.NewPostProcessor(service.NewTxRunner(database), cfg.Orchestrator.FingerprintTTL)

	controller := engine.NewController(cfg.Orchestrator.MaxConcurrentJobs, engine.ControllerDeps{
		Jobs:          stores.Jobs,
		Providers:     providers,
		Executor:      resilience.NewExecutor(cfg.Resilience.MaxAttempts, cfg.Resilience.InitialDelay),
		PostProcessor: postProcessor,
		Gatekeeper:    gatekeeper,
		State:         tracker,
		Sink:          sink,
	})

	eng := engine.New(engine.Config{
		TickInterval:        cfg.Orchestrator.TickInterval,
		MaxConcurrentJobs:   cfg.Orchestrator.MaxConcurrentJobs,
		DailyCostCeilingUSD: cfg.Orchestrator.DailyCostCeilingUSD,
		JanitorInterval:     cfg.Orchestrator.JanitorInterval,
	}, controller, admission, tracker, stores.Jobs, stores.Fingerprints)

	if err := eng.Start(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Deps{
		Orchestrator: eng,
		Jobs:         stores.Jobs,
		Candidates:   stores.Candidates,
		Gatekeeper:   gatekeeper,
		Redis:        redisClient,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	eng.Stop(shutdownCtx)

	if err := tracker.Flush(shutdownCtx); err != nil {
		slog.WarnContext(shutdownCtx, "state flush failed", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func providerConfig(cfg config.LLMConfig) provider.Config {
	return provider.Config{
		Provider:           cfg.Provider,
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		Model:              cfg.Model,
		MaxTokens:          cfg.MaxTokens,
		ReasoningEffort:    cfg.ReasoningEffort,
		InputPricePerMTok:  cfg.InputPricePerMTok,
		OutputPricePerMTok: cfg.OutputPricePerMTok,
	}
}

func setupRouter(cfg config.Config, deps httprouter.Deps) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, deps, httprouter.RouterConfig{
		AdminAPIKey: cfg.AdminAPIKey,
		AuditStream: cfg.Redis.AuditStream,
	})

	return router
}

const banner = `
███████╗ ██████╗ ██████╗ ██╗   ██╗████████╗
██╔════╝██╔════╝██╔═══██╗██║   ██║╚══██╔══╝
███████╗██║     ██║   ██║██║   ██║   ██║
╚════██║██║     ██║   ██║██║   ██║   ██║
███████║╚██████╗╚██████╔╝╚██████╔╝   ██║
╚══════╝ ╚═════╝ ╚═════╝  ╚═════╝    ╚═╝
`
