package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ent0n29/spurchat/internal/chat"
	"github.com/ent0n29/spurchat/internal/config"
	"github.com/ent0n29/spurchat/internal/httpapi"
	"github.com/ent0n29/spurchat/internal/knowledge"
	"github.com/ent0n29/spurchat/internal/llm"
	"github.com/ent0n29/spurchat/internal/logging"
	"github.com/ent0n29/spurchat/internal/observability"
	"github.com/ent0n29/spurchat/internal/reliability"
	"github.com/ent0n29/spurchat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := connectStore(runCtx, store.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		Logger:      logger,
	}, cfg.StoreConnectAttempts, logger)
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	defer st.Close()

	kb, err := knowledge.LoadOrDefault(cfg.KnowledgePath)
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}

	generator, err := llm.NewGenerator(llm.Config{
		Provider:    cfg.LLMProvider,
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
		Knowledge:   kb,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("reply generator init failed: %w", err)
	}

	chatService := chat.New(st, generator, chat.Options{
		StoreTimeout:      cfg.StoreTimeout,
		GenerateTimeout:   cfg.LLMTimeout,
		Logger:            logger,
		Observer:          metrics,
		SerializeSessions: cfg.SerializeSessions,
	})

	checks := []httpapi.ReadinessCheck{{Name: "store", Check: st.Ping}}
	if p, ok := generator.(llm.Prober); ok {
		checks = append(checks, httpapi.ReadinessCheck{Name: "llm", Check: p.Ping})
	}

	api := httpapi.New(cfg, chatService, metrics, logger, checks...)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.BindAddr,
			"env", cfg.Environment,
			"store", store.Mode(store.Options{DatabaseURL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath}),
			"llm_provider", cfg.LLMProvider,
			"serialize_sessions", cfg.SerializeSessions,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen error: %w", err)
		}
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}

// connectStore retries store construction with capped exponential backoff.
func connectStore(ctx context.Context, opts store.Options, attempts int, logger *slog.Logger) (store.Store, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		st, err := store.NewStore(ctx, opts)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		wait := reliability.ExponentialBackoff(attempt, 500*time.Millisecond, 10*time.Second)
		logger.Warn("store connect failed, retrying",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"backoff", wait.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
