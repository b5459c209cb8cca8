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

	"github.com/dunamismax/pixelvariant/internal/config"
	"github.com/dunamismax/pixelvariant/internal/pipeline"
	"github.com/dunamismax/pixelvariant/internal/queue"
	"github.com/dunamismax/pixelvariant/internal/storage"
	"github.com/dunamismax/pixelvariant/internal/store"
	"github.com/dunamismax/pixelvariant/internal/telemetry"
	"github.com/dunamismax/pixelvariant/internal/transform"
	"github.com/dunamismax/pixelvariant/internal/webhook"
	"github.com/dunamismax/pixelvariant/internal/worker"
	"github.com/hibiken/asynq"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelvariant-worker",
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

	var jobStore store.JobStore
	if cfg.Database.DSN == "" {
		logger.Printf("POSTGRES_DSN not set, worker cannot see jobs created by the API")
		jobStore = store.NewMemoryJobStore()
	} else {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		cfg.Sweep,
		pipeline.ObjectStore{Storage: storageClient},
		webhookClient,
		jobStore,
		nil,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	var scheduler *asynq.Scheduler
	if cfg.Sweep.Enabled {
		scheduler = asynq.NewScheduler(cfg.Queue.RedisClientOpt(), &asynq.SchedulerOpts{
			LogLevel: asynq.WarnLevel,
		})
		entryID, err := queue.RegisterSweep(scheduler, cfg.Sweep.Schedule, cfg.Queue.Name, queue.SweepPayload{})
		if err != nil {
			logger.Fatalf("sweep schedule failed: %v", err)
		}
		if err := scheduler.Start(); err != nil {
			logger.Fatalf("scheduler start failed: %v", err)
		}
		logger.Printf("sweep scheduled entry=%s schedule=%q source_prefix=%s", entryID, cfg.Sweep.Schedule, cfg.Sweep.SourcePrefix)
		if cfg.Sweep.LocalRoot != "" {
			logger.Printf("sweep reads and writes local files root=%s", cfg.Sweep.LocalRoot)
		}
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d max_pixels=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Worker.MaxPixels,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Start(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}

	<-ctx.Done()
	logger.Println("shutting down")
	srv.Shutdown()

	if scheduler != nil {
		scheduler.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown failed: %v", err)
	}
}
