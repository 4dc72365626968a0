package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hartfield/camber/internal"
	"github.com/hartfield/camber/internal/ai"
	"github.com/hartfield/camber/internal/ai/anthropic"
	"github.com/hartfield/camber/internal/ai/mock"
	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/engine"
	"github.com/hartfield/camber/internal/handler"
	"github.com/hartfield/camber/internal/jobs"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/middleware"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/orchestrator"
	"github.com/hartfield/camber/internal/repository"
	"github.com/hartfield/camber/internal/service"
	"github.com/hartfield/camber/internal/storage"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	version, err := internal.RunMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "schema_version", version)

	// Initialize repository
	queries := repository.New(db)

	// Initialize object storage
	var store storage.Storage
	switch cfg.StorageProvider {
	case "r2":
		store, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("r2 storage initialization failed: %w", err)
		}
	default:
		store, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("local storage initialization failed: %w", err)
		}
	}

	// Initialize AI provider
	var aiProvider ai.AIProvider
	switch cfg.AIProvider {
	case "anthropic":
		aiProvider, err = anthropic.New(anthropic.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
			ProviderConfig: ai.ProviderConfig{
				RequestTimeout: cfg.AIRequestTimeout,
			},
		}, queries, logger)
		if err != nil {
			return fmt.Errorf("anthropic provider initialization failed: %w", err)
		}
	default:
		aiProvider = mock.New(logger)
	}
	logger.Info("AI provider ready", "provider", cfg.AIProvider)

	// Initialize workflow engine client
	engineClient := engine.NewClient(cfg.EngineBaseURL, cfg.EngineAPIKey, cfg.EngineTimeout)

	// ==========================================================================
	// Orchestration pipeline
	// ==========================================================================

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.ChunkMaxBytes = cfg.ChunkMaxBytes
	orchCfg.RetryMaxAttempts = cfg.RetryMaxAttempts
	orchCfg.RetryBaseDelay = cfg.RetryBaseDelay
	orchCfg.RetryMaxDelay = cfg.RetryMaxDelay
	orchCfg.ReconcileWindow = cfg.ReconcileWindow
	orchCfg.ReconcileTimeout = cfg.ReconcileTimeout
	orchCfg.TriggerBaseURL = cfg.BaseURL
	orchCfg.TriggerTimeout = cfg.TriggerTimeout
	if err := orchCfg.Validate(); err != nil {
		return fmt.Errorf("orchestrator configuration invalid: %w", err)
	}

	dispatcher := orchestrator.NewDispatcher(queries, orchCfg, logger)
	sequencer := orchestrator.NewSequencer(db, queries, dispatcher, logger)
	sequencer.Archive = store
	reconciler := orchestrator.NewReconciler(queries, engineClient, sequencer, orchCfg, logger)
	tasks := orchestrator.NewTaskRunner(logger)
	planner := orchestrator.NewPlanner(cfg.ChunkMaxBytes)

	chunkExecutor := jobs.NewChunkAnalysisExecutor(queries, aiProvider, store, orchCfg, sequencer, logger)
	delegatedExecutor := jobs.NewDelegatedExecutor(queries, engineClient, orchCfg, logger)

	// Outcome notifications are optional; without a recipient the pipeline
	// runs silently.
	if cfg.NotifyTo != "" {
		notifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			To:       cfg.NotifyTo,
		}, logger)
		if err != nil {
			return fmt.Errorf("notifier initialization failed: %w", err)
		}
		sequencer.Notifier = notifier
		reconciler.Notifier = notifier
		dispatcher.Notifier = notifier
		chunkExecutor.Notifier = notifier
		delegatedExecutor.Notifier = notifier
		logger.Info("Outcome notifications enabled", "to", cfg.NotifyTo)
	}

	// Initialize services
	thumbnails := service.NewImagingProcessor()
	inspectionService := service.NewInspectionService(queries, store, planner, sequencer, tasks, thumbnails, logger)

	// Initialize middleware
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	inspectionHandler := handler.NewInspectionHandler(inspectionService, logger)
	jobHandler := handler.NewJobHandler(queries, map[domain.JobType]jobs.Executor{
		domain.JobTypeChunkAnalysis:         chunkExecutor,
		domain.JobTypeOwnershipCostForecast: delegatedExecutor,
		domain.JobTypeFairMarketValue:       delegatedExecutor,
		domain.JobTypeExpertAdvice:          delegatedExecutor,
	}, tasks, logger)
	orchestratorHandler := handler.NewOrchestratorHandler(sequencer, reconciler, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Local storage serves photos back over HTTP; R2 serves its own URLs.
	if cfg.StorageProvider == "local" {
		filesFS := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", filesFS))
	}

	inspectionHandler.RegisterRoutes(mux)
	jobHandler.RegisterRoutes(mux)
	orchestratorHandler.RegisterRoutes(mux)

	root := middleware.Stack(loggingMw.Handler, metrics.Middleware)(mux)

	// ==========================================================================
	// Background reconciliation
	// ==========================================================================

	reconcileDone := make(chan struct{})
	if cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := reconciler.Run(context.Background()); err != nil {
						logger.Error("reconciliation sweep failed", "error", err)
					}
				case <-reconcileDone:
					return
				}
			}
		}()
		logger.Info("Reconciliation poller started", "interval", cfg.ReconcileInterval)
	} else {
		logger.Info("Reconciliation poller disabled; rely on POST /reconcile/poll")
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")
	close(reconcileDone)

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Let in-flight job executions and thumbnail work drain.
	tasks.Wait(30 * time.Second)

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
