package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/cache"
	"github.com/ekaya-inc/ekaya-datachat/pkg/chat"
	"github.com/ekaya-inc/ekaya-datachat/pkg/config"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/handlers"
	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/mcp"
	"github.com/ekaya-inc/ekaya-datachat/pkg/middleware"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
	"github.com/ekaya-inc/ekaya-datachat/pkg/tools"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if dump, err := cfg.RedactedYAML(); err == nil {
		logger.Info("Configuration loaded", zap.String("config", dump))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := duckdb.NewManager(duckdb.ManagerConfig{
		MaxSessions: cfg.Sessions.MaxSessions,
		TTL:         cfg.Sessions.TTL(),
		Session: duckdb.SessionOptions{
			RetryCount:     cfg.Sessions.RetryCount,
			RetryDelay:     cfg.Sessions.RetryDelay(),
			ConnectTimeout: cfg.Sessions.ConnectTimeout(),
			ProfileColumns: true,
		},
	}, logger)
	registry := files.NewRegistry(cfg.Files.MaxFiles, cfg.Files.TTL(), logger)
	answers := services.NewAnswerCache(cache.Config{
		MaxSize: cfg.Cache.MaxSize,
		TTL:     cfg.Cache.TTL(),
	}, logger)

	providers, err := llm.NewProviders(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM providers", zap.Error(err))
	}

	var insights services.InsightsService
	if cfg.Analytics.InsightsEnabled {
		insights = services.NewInsightsService(providers.Analysis, logger)
	}
	analytics := services.NewAnalyticsService(sessions, registry, answers, providers.Analysis, insights, logger)
	uploads := services.NewUploadService(services.UploadConfig{
		Dir:               cfg.Files.UploadDir,
		MaxBytes:          cfg.Files.MaxUploadBytes,
		AllowedExtensions: cfg.Files.AllowedExtensions,
	}, registry, logger)

	executorCfg := tools.ExecutorConfig{
		Analytics: analytics,
		Files:     registry,
		Weather: tools.NewWeatherClient(cfg.Weather.BaseURL,
			time.Duration(cfg.Weather.TimeoutSeconds)*time.Second, logger),
		Logger: logger,
	}
	if cfg.Search.IsAvailable() {
		executorCfg.Search = tools.NewSearchClient(cfg.Search.BaseURL, cfg.Search.APIKey,
			cfg.Search.MaxResults, tools.DefaultTimeout, logger)
	} else {
		logger.Info("Web search disabled: TAVILY_API_KEY not set")
	}
	executor := tools.NewExecutor(executorCfg)
	chatService := chat.NewService(providers.Chat, executor, chat.Config{}, logger)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, sessions, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(chatService, logger).RegisterRoutes(mux)
	handlers.NewUploadHandler(uploads, logger).RegisterRoutes(mux)
	handlers.NewAnalyzeHandler(analytics, logger).RegisterRoutes(mux)
	handlers.NewAdminHandler(registry, sessions, answers, logger).RegisterRoutes(mux)

	mcpServer := mcp.NewServer("ekaya-datachat", mcp.Deps{
		Version:   cfg.Version,
		Analytics: analytics,
		Files:     registry,
		Sessions:  sessions,
	}, logger)
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer()))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowCredentials: false,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Type", chat.DataStreamHeader},
	})
	handler := c.Handler(middleware.RequestLogger(logger)(middleware.Recoverer(logger)(mux)))

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-datachat",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.String("chat_provider", cfg.LLM.ChatProvider),
			zap.String("analysis_provider", cfg.LLM.AnalysisProvider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := sessions.Close(); err != nil {
		logger.Error("Session manager shutdown failed", zap.Error(err))
	}
	registry.CloseAll()
}
