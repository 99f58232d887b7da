package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/config"
	"github.com/extractly-ai/extractly-engine/pkg/database"
	"github.com/extractly-ai/extractly-engine/pkg/docext"
	"github.com/extractly-ai/extractly-engine/pkg/handlers"
	"github.com/extractly-ai/extractly-engine/pkg/llm"
	"github.com/extractly-ai/extractly-engine/pkg/logging"
	"github.com/extractly-ai/extractly-engine/pkg/middleware"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/services"
	"github.com/extractly-ai/extractly-engine/pkg/services/workqueue"
	"github.com/extractly-ai/extractly-engine/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("ai_model", cfg.AI.Model),
		zap.String("storage_driver", cfg.Storage.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// golang-migrate wants a database/sql handle; borrow one from the pool.
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	aiClient, err := llm.NewFromConfig(&cfg.AI, logger)
	if err != nil {
		logger.Fatal("Failed to create AI client", zap.Error(err))
	}

	projects := repositories.NewProjectRepository(db)
	sessions := repositories.NewSessionRepository(db)
	schemas := repositories.NewSchemaRepository(db)
	validations := repositories.NewValidationRepository(db)
	knowledge := repositories.NewKnowledgeRepository(db)

	extraction := services.NewExtractionService(aiClient, cfg.AI.Temperature, logger)
	validation := services.NewValidationService(validations, logger)

	// The runner owns AI-stage retries; the queue's job is serializing
	// provider access, so it must not re-run an already-failed pipeline.
	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledAIStrategy(cfg.Extraction.MaxConcurrentAI)),
		workqueue.WithRetryConfig(workqueue.RetryConfig{MaxRetries: 0}))

	extractor := docext.New(cfg.Extraction.MaxFileSizeBytes, logger)

	runner := services.NewJobRunner(services.JobRunnerDeps{
		Sessions:   sessions,
		Schemas:    schemas,
		Knowledge:  knowledge,
		Extractor:  extractor,
		Extraction: extraction,
		Validation: validation,
		Blobs:      blobs,
		Queue:      queue,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewProjectHandler(projects, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(schemas, logger).RegisterRoutes(mux)
	handlers.NewKnowledgeHandler(knowledge, logger).RegisterRoutes(mux)
	handlers.NewSessionHandler(sessions, projects, blobs,
		cfg.Extraction.MaxFileSizeBytes, cfg.Storage.SignedURLTTL, logger).RegisterRoutes(mux)
	handlers.NewExtractionHandler(runner,
		cfg.Extraction.PollInterval, cfg.Extraction.PollTimeout, logger).RegisterRoutes(mux)
	handlers.NewValidationHandler(validations, schemas, sessions, validation, logger).RegisterRoutes(mux)
	handlers.NewPipelineHandler(sessions, schemas, knowledge,
		extractor, extraction, validation, logger).RegisterRoutes(mux)
	handlers.NewProgressHandler(sessions, validations, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting extractly-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}

	// Let in-flight extraction jobs reach a durable stage before exiting.
	queue.Cancel()
	logger.Info("extractly-engine stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Storage.Driver {
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.Storage.Bucket, logger)
	default:
		logger.Warn("Using in-memory blob store; uploads do not survive restarts")
		return storage.NewMemoryStore(), nil
	}
}
