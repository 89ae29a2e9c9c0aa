package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"matchmaker/backend/internal/adapter"
	"matchmaker/backend/internal/api"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/matching"
	"matchmaker/backend/internal/metrics"
	"matchmaker/backend/internal/observability"
	"matchmaker/backend/internal/oracle"
	"matchmaker/backend/internal/persona"
	"matchmaker/backend/internal/reconcile"
	"matchmaker/backend/pkg/config"
	"matchmaker/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV"), os.Getenv("LOG_LEVEL")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting matchmaker API server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	shutdownTracing, err := observability.InitTracing(ctx, cfg)
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}

	// Stores
	stores, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open backend", zap.Error(err), zap.String("backend", cfg.Backend))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	// Mirror repair queue
	outbox, closeOutbox := newOutbox(ctx, cfg, log)

	// Services
	personas := persona.NewManager(persona.Config{
		Personas:  stores.Personas,
		Responses: stores.Responses,
		Oracle:    newOracle(cfg),
		Metrics:   recorder,
		Staleness: cfg.PersonaStaleness,
	})
	engine := matching.NewEngine(matching.Config{
		Personas:         personas,
		Ledger:           stores.Ledger,
		Graph:            stores.Graph,
		Outbox:           outbox,
		Metrics:          recorder,
		MinCompatibility: &cfg.MinCompatibility,
		DefaultLimit:     cfg.DefaultMatchLimit,
		Workers:          cfg.MatchWorkers,
	})
	reconciler := reconcile.New(reconcile.Config{
		Ledger:   stores.Ledger,
		Graph:    stores.Graph,
		Outbox:   outbox,
		Interval: cfg.ReconcileInterval,
		Metrics:  recorder,
	})
	reconciler.Start(ctx)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Engine:       engine,
		Personas:     personas,
		Responses:    stores.Responses,
		Gatherer:     reg,
		DefaultLimit: cfg.DefaultMatchLimit,
		Tracing:      cfg.OTelEnabled,
		ServiceName:  observability.ServiceName,
	})

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("backend", stores.Name),
		zap.Bool("llm_personas", cfg.UsesLLM()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	reconciler.Stop()
	stop()
	closeOutbox()
	if err := stores.Close(shutdownCtx); err != nil {
		log.Error("Failed to close backend", zap.Error(err))
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}

	log.Info("Server exited")
}

// newOracle uses the LLM deriver when an LLM endpoint is configured and the
// lexicon deriver otherwise
func newOracle(cfg *config.Config) *oracle.Oracle {
	if !cfg.UsesLLM() {
		return oracle.New(nil)
	}
	llm := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.OpenRouterAPIKey, cfg.ModelID)
	return oracle.New(oracle.NewLLMDeriver(llm))
}

// newOutbox uses Redis when REDIS_ADDR is set, falling back to an in-process
// queue when it is unset or unreachable
func newOutbox(ctx context.Context, cfg *config.Config, log *zap.Logger) (reconcile.Outbox, func()) {
	if cfg.RedisAddr == "" {
		return reconcile.NewMemoryOutbox(), func() {}
	}

	outbox, err := reconcile.NewRedisOutbox(ctx, cfg.RedisAddr, cfg.RedisMirrorQueue)
	if err != nil {
		log.Warn("Redis unavailable, mirror repairs will not survive a restart",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
		return reconcile.NewMemoryOutbox(), func() {}
	}
	return outbox, func() { _ = outbox.Close() }
}
