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

	"github.com/dunamismax/pixelvariant/internal/api"
	"github.com/dunamismax/pixelvariant/internal/config"
	"github.com/dunamismax/pixelvariant/internal/queue"
	"github.com/dunamismax/pixelvariant/internal/ratelimit"
	"github.com/dunamismax/pixelvariant/internal/storage"
	"github.com/dunamismax/pixelvariant/internal/store"
	"github.com/dunamismax/pixelvariant/internal/telemetry"
	"github.com/dunamismax/pixelvariant/internal/transform"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelvariant-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := transform.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer transform.Shutdown()

	opts := api.Options{}

	if cfg.API.AsyncJobsEnabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint:       cfg.Storage.Endpoint,
			Access:         cfg.Storage.AccessKey,
			Secret:         cfg.Storage.SecretKey,
			Bucket:         cfg.Storage.Bucket,
			UseSSL:         cfg.Storage.UseSSL,
			MaxObjectBytes: cfg.Storage.MaxObjectBytes,
		})
		if err != nil {
			logger.Fatalf("storage client failed: %v", err)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}

		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()

		opts.Queue = queueClient
		opts.Storage = storageClient
		opts.JobStore = openJobStore(ctx, cfg.Database, logger)
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(cfg.Queue.RedisOptions())
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Limit{
			Capacity: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		}, cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled requests=%d window=%s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, cfg.API, opts)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s max_upload_bytes=%d transform_slots=%d", cfg.API.Addr, cfg.API.MaxUploadBytes, cfg.API.MaxConcurrentWork)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownGracePeriod)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) store.JobStore {
	if cfg.DSN == "" {
		logger.Printf("POSTGRES_DSN not set, keeping jobs in memory")
		return store.NewMemoryJobStore()
	}
	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres job store failed: %v", err)
	}
	return pg
}
