package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/pdfsqueeze/internal/artifact"
	"github.com/maneesh/pdfsqueeze/internal/compress"
	"github.com/maneesh/pdfsqueeze/internal/config"
	"github.com/maneesh/pdfsqueeze/internal/delivery"
	"github.com/maneesh/pdfsqueeze/internal/handlers"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/metrics"
	"github.com/maneesh/pdfsqueeze/internal/pipeline"
	"github.com/maneesh/pdfsqueeze/internal/ratelimit"
	"github.com/maneesh/pdfsqueeze/internal/storage"
	"github.com/maneesh/pdfsqueeze/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New("pdfsqueeze", "info", "text").Fatal("failed to load config", "err", err)
	}

	logger := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting service", "port", cfg.ServicePort, "blob_backend", cfg.BlobBackend)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
	}, logger.Component("tracing"))
	if err != nil {
		logger.Fatal("failed to initialize tracer", "err", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("error shutting down tracer", "err", err)
		}
	}()

	// Blob storage
	var blobs artifact.BlobStore
	switch cfg.BlobBackend {
	case config.BlobBackendMinIO:
		logger.Info("connecting to MinIO", "endpoint", cfg.MinIOEndpoint)
		blobs, err = storage.NewMinioClient(ctx,
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
			logger,
		)
	default:
		logger.Info("storing artifacts on disk", "dir", cfg.TempDir)
		blobs, err = storage.NewFilesystemStore(cfg.TempDir)
	}
	if err != nil {
		logger.Fatal("failed to initialize blob storage", "err", err)
	}

	// Initialize TiDB client
	logger.Info("connecting to TiDB")
	tidbClient, err := storage.NewTiDBClient(cfg.GetDSN())
	if err != nil {
		logger.Fatal("failed to initialize TiDB client", "err", err)
	}
	defer tidbClient.Close()
	if err := tidbClient.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to create schema", "err", err)
	}

	// Initialize Redis client
	logger.Info("connecting to Redis", "addr", cfg.GetRedisAddr())
	redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.ArtifactTTL)
	if err != nil {
		logger.Fatal("failed to initialize Redis client", "err", err)
	}
	defer redisClient.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMetrics := metrics.NewProm("pdfsqueeze", registry)

	// Artifacts and their expiry
	store := artifact.NewStore(blobs, tidbClient, cfg.ArtifactTTL, logger, artifact.WithCache(redisClient))
	sweeper := artifact.NewSweeper(store, cfg.SweepInterval, promMetrics, logger)
	go sweeper.Run(ctx)

	compressor := compress.New(cfg.ImageQuality, cfg.MaxImageDimension, logger)
	pipe := pipeline.New(compressor, store, promMetrics, logger)
	deliveryService := delivery.NewService(store, promMetrics, logger)
	limiter := ratelimit.New(redisClient.Client(), cfg.RateLimitRequests, cfg.RateLimitWindow, logger)

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"tidb":  tidbClient,
		"redis": redisClient,
	}, logger)
	compressMiddleware := []mux.MiddlewareFunc{
		handlers.RateLimit(limiter, cfg.TrustProxy, promMetrics, logger),
		handlers.Deadline(cfg.MaxRequestDuration),
	}

	router := handlers.NewRouter(handlers.Routes{
		Compress:           handlers.NewCompressHandler(pipe, deliveryService, cfg.ArtifactTTL, cfg.MaxFiles, cfg.GetMaxUploadBytes(), logger),
		Download:           handlers.NewDownloadHandler(deliveryService, logger),
		Health:             health,
		Metrics:            metrics.Handler(registry),
		CompressMiddleware: compressMiddleware,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  cfg.MaxRequestDuration,
		WriteTimeout: cfg.MaxRequestDuration + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "port", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "err", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	logger.Info("server exited")
}
