// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/config"
	"github.com/capitalize-ai/support-widget/internal/handler"
	"github.com/capitalize-ai/support-widget/internal/llm"
	natsclient "github.com/capitalize-ai/support-widget/internal/nats"
	"github.com/capitalize-ai/support-widget/internal/service"
	"github.com/capitalize-ai/support-widget/internal/store"
	"github.com/capitalize-ai/support-widget/pkg/logger"
	"github.com/capitalize-ai/support-widget/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("store", cfg.StoreDriver))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-widget", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	repo, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer repo.Close()

	if cfg.SeedFile != "" {
		bots, err := store.LoadSeed(cfg.SeedFile)
		if err != nil {
			log.Fatal("failed to load chatbot seed", zap.String("path", cfg.SeedFile), zap.Error(err))
		}
		if err := store.Seed(ctx, repo, bots); err != nil {
			log.Fatal("failed to seed chatbots", zap.Error(err))
		}
		log.Info("chatbots seeded", zap.Int("count", len(bots)))
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.Error(err))
	}
	log.Info("LLM provider selected", zap.String("provider", llmClient.Name()))

	responder := llm.NewResponder(llmClient, llm.ResponderConfig{
		Model:        cfg.LLMModel,
		MaxTokens:    cfg.LLMMaxTokens,
		Temperature:  cfg.LLMTemperature,
		HistoryLimit: cfg.HistoryLimit,
		Timeout:      cfg.LLMTimeout,
	}, log)

	// Initialize services
	sessionSvc := service.NewSessionService(repo, cfg.GreetingEnabled, log)
	messageSvc := service.NewMessageService(repo, responder, log)
	messageSvc.SetSendTimeout(cfg.ServerWriteTimeout)

	router := handler.NewRouter(handler.RouterConfig{
		Logger:            log,
		Health:            handler.NewHealthHandler(repo),
		Sessions:          handler.NewSessionHandler(sessionSvc, log),
		Messages:          handler.NewMessageHandler(messageSvc, log),
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		SendLimit:         cfg.SendLimit,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// openStore opens the configured durable store.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Repository, error) {
	switch cfg.StoreDriver {
	case config.StoreNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		repo, err := natsclient.NewRepository(ctx, client, log)
		if err != nil {
			client.Close()
			return nil, err
		}
		return repo, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.NewSQLite(cfg.SQLitePath)
	}
}

// newLLMClient prefers the configured provider and falls back to whichever
// other provider has a key.
func newLLMClient(cfg *config.Config) (llm.Client, error) {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}
	preferred := llm.Provider(cfg.DefaultLLM)
	if key := keys[preferred]; key != "" {
		return llm.NewClient(preferred, key)
	}
	for _, p := range []llm.Provider{llm.ProviderAnthropic, llm.ProviderOpenAI} {
		if key := keys[p]; key != "" {
			return llm.NewClient(p, key)
		}
	}
	return nil, errors.New("set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}
