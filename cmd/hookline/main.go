// Package main is the entry point for the hookline delivery server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/crypto"
	"github.com/hookline/hookline/internal/database"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/http/routes"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/repository"
	"github.com/hookline/hookline/internal/service"
	"github.com/hookline/hookline/internal/version"
	"github.com/hookline/hookline/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting hookline",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := database.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db)

	var encryptor *crypto.Encryptor
	if len(cfg.EncryptionKey) > 0 {
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			logger.Error("failed to initialize encryption", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no encryption key configured - webhook secrets will be stored in plaintext")
	}

	// Dispatch transport: Kafka by default, an in-process queue in direct mode.
	var dispatcher dispatch.Dispatcher
	if cfg.DirectMode {
		dispatcher = dispatch.NewDirectDispatcher(cfg, logger)
		logger.Info("dispatch transport: direct", "max_in_flight", cfg.MaxInFlight, "concurrency", cfg.WorkerConcurrency)
	} else {
		dispatcher = dispatch.NewKafkaDispatcher(cfg, logger)
		logger.Info("dispatch transport: kafka", "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroupID)
	}

	services := service.New(repos, dispatcher, encryptor, cfg, logger)

	deliveryWorker := worker.NewDeliveryWorker(repos, cfg, logger)
	dispatcher.Subscribe(deliveryWorker.HandleEnvelope)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Anything left in processing belongs to a previous run; fail it back
	// into the retry queue before workers start claiming.
	stuckDetector := worker.NewStuckDetector(repos.Message, cfg, logger)
	if recovered, err := stuckDetector.RecoverAtBoot(ctx); err != nil {
		logger.Warn("boot recovery failed", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered messages from previous run", "count", recovered)
	}

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	// Republish pending messages that were accepted but never consumed.
	scheduler := worker.NewRetryScheduler(repos.Message, dispatcher, cfg, logger)
	if err := scheduler.SweepPending(ctx); err != nil {
		logger.Warn("pending sweep failed", "error", err)
	}

	go scheduler.Run(ctx)
	go stuckDetector.Run(ctx)

	if cfg.CleanupEnabled {
		go services.Cleanup.Run(ctx)
		logger.Info("cleanup service started", "interval", cfg.CleanupInterval.String())
	}

	// Create router
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - prevent large payload attacks
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Global rate limit by IP
	router.Use(httprate.LimitByIP(100, time.Minute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(100))

	humaConfig := huma.DefaultConfig("Hookline", "1.0.0")
	humaConfig.Info.Description = "Webhook delivery service: accepts events, signs them, and delivers them to configured destinations with retries."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}

	// Main API with OpenAPI docs
	api := humachi.New(router, humaConfig)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("Hookline", "1.0.0")
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	handlers := routes.NewHandlers(services, db)
	routes.Register(api, handlers)
	routes.RegisterProbes(hiddenAPI, handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the background loops and the dispatch transport first so
		// in-flight deliveries finish before the database closes.
		cancel()
		if err := dispatcher.Stop(); err != nil {
			logger.Error("dispatcher shutdown error", "error", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	mode := "kafka"
	if cfg.DirectMode {
		mode = "direct"
	}
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "mode", mode)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
