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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prana-labs/wellness-backend/internal/cache"
	"github.com/prana-labs/wellness-backend/internal/config"
	"github.com/prana-labs/wellness-backend/internal/embedding"
	"github.com/prana-labs/wellness-backend/internal/logsink"
	"github.com/prana-labs/wellness-backend/internal/middleware"
	"github.com/prana-labs/wellness-backend/internal/nimclient"
	"github.com/prana-labs/wellness-backend/internal/router"
	"github.com/prana-labs/wellness-backend/internal/service"
	"github.com/prana-labs/wellness-backend/internal/vectordb"
)

const embeddingCacheSize = 1000

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// Embedding layer: sticky provider selection plus LRU cache.
	embedCache := cache.NewEmbeddingCache(embeddingCacheSize, time.Duration(cfg.EmbeddingCacheTTL)*time.Second)
	embedder := embedding.NewService(cfg, embedCache)

	// Vector index: remote Qdrant or embedded on-disk store.
	store := vectordb.New(cfg)
	retriever := service.NewRetrieverService(embedder, store)

	// Upstream LLM; nil client means mock responses.
	var chat service.ChatClient
	llmLabel := "mock"
	if cfg.UseLLM() {
		llm, err := nimclient.NewLLMClient(cfg.LLMAPIKey, cfg.LLMAPIURL, cfg.LLMModel)
		if err != nil {
			slog.Warn("LLM client unavailable, responses will be mocked", "error", err)
		} else {
			chat = llm
			llmLabel = cfg.LLMModel
		}
	}
	generator := service.NewGeneratorService(chat, cfg.LLMTemperature, cfg.LLMMaxTokens)

	safety := service.NewSafetyFilter(service.SafetyConfig{
		Enabled:                  cfg.SafetyEnabled,
		MedicalAdviceThreshold:   cfg.MedicalAdviceThreshold,
		CrisisDetectionThreshold: cfg.CrisisDetectionThreshold,
	})

	// Log sinks: MongoDB when configured, counted no-ops otherwise.
	var mongoStore *logsink.MongoStore
	sinkLabel := "disabled"
	if cfg.MongoURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoStore, err = logsink.NewMongoStore(ctx, cfg)
		cancel()
		if err != nil {
			slog.Warn("MongoDB unavailable, interaction logging disabled", "error", err)
			mongoStore = nil
		} else {
			sinkLabel = "mongodb"
		}
	}
	logger := logsink.NewLogger(mongoStore, 1000)

	pipeline := service.NewPipelineService(safety, retriever, generator, logger)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitRequests,
		Window:      time.Duration(cfg.RateLimitWindow) * time.Second,
		RedisURL:    cfg.RedisURL,
	})

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	// Sink drop counters live inside the sinks; surface them as gauges.
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "log_sink_dropped_records",
		Help:        "Records dropped on sink overflow.",
		ConstLabels: prometheus.Labels{"sink": "interaction_logs"},
	}, func() float64 {
		interactions, _ := logger.DroppedCounts()
		return float64(interactions)
	}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "log_sink_dropped_records",
		Help:        "Records dropped on sink overflow.",
		ConstLabels: prometheus.Labels{"sink": "safety_incidents"},
	}, func() float64 {
		_, incidents := logger.DroppedCounts()
		return float64(incidents)
	}))

	backend := "chromem"
	if cfg.UseQdrant() {
		backend = "qdrant"
	}

	mux := router.New(&router.Dependencies{
		Pipeline:    pipeline,
		Feedback:    logger,
		RateLimiter: limiter,
		Version:     cfg.AppVersion,
		Components: map[string]string{
			"embedding_model": embedder.ModelName(),
			"vector_backend":  backend,
			"log_sink":        sinkLabel,
			"llm":             llmLabel,
		},
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics,
		MetricsReg:  reg,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"app", cfg.AppName,
			"version", cfg.AppVersion,
			"addr", srv.Addr,
			"vector_backend", backend,
			"embedding_model", embedder.ModelName(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// Drain sinks and release provider resources after the listener stops.
	if err := logger.Close(ctx); err != nil {
		slog.Warn("log sink drain incomplete", "error", err)
	}
	if err := embedder.Close(); err != nil {
		slog.Warn("closing embedding provider failed", "error", err)
	}
	_ = limiter.Close()

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
