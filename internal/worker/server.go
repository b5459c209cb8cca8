package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/config"
	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/pipeline"
	"github.com/dunamismax/pixelvariant/internal/queue"
	"github.com/dunamismax/pixelvariant/internal/store"
	"github.com/dunamismax/pixelvariant/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObjectStore is where job uploads are read from and archives and sweep
// variants are written to.
type ObjectStore interface {
	pipeline.Source
	pipeline.Sink
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     *pipeline.Processor
	objects       ObjectStore
	sweepStore    ObjectStore
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	outputPrefix  string
	sweepCfg      pipeline.SweepConfig
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	sweepCfg config.SweepConfig,
	objects ObjectStore,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if jobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:          make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:    pipeline.NewProcessor(nil, pipeline.WithMaxPixels(workerCfg.MaxPixels)),
		objects:      objects,
		sweepStore:   sweepStoreFor(sweepCfg, objects),
		jobStore:     jobStore,
		usageStore:   usageStore,
		outputPrefix: workerCfg.OutputPrefix,
		sweepCfg: pipeline.SweepConfig{
			SourcePrefix: sweepCfg.SourcePrefix,
			OutputPrefix: sweepCfg.OutputPrefix,
			Opacity:      sweepCfg.Opacity,
		},
		metrics: newMetrics(),
		tracer:  otel.Tracer("pixelvariant/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

// Start begins processing in the background. Stop it with Shutdown.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessBatch, s.handleBatch)
	mux.HandleFunc(queue.TypeSweep, s.handleSweep)
	return mux
}

func (s *Server) handleBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.variant", payload.Variant),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.Variant, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.Variant, outcome).Inc()
	}()

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	job, ok, err := s.jobStore.Get(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s not found: %w", payload.JobID, asynq.SkipRetry)
	}
	if job.Status == domain.JobStatusSucceeded {
		s.logger.Printf("job already finished job_id=%s", job.ID)
		outcome = domain.JobStatusSucceeded
		return nil
	}

	s.logger.Printf("Working... job_id=%s variant=%s items=%d", job.ID, job.Variant, len(job.Items))
	s.updateJobStatus(ctx, job.ID, domain.JobStatusProcessing)

	set, err := job.VariantSet()
	if err != nil {
		return s.failJob(ctx, span, job, payload, err, true)
	}
	reqs, err := job.Requests()
	if err != nil {
		return s.failJob(ctx, span, job, payload, err, true)
	}

	items, err := pipeline.FetchBatchItems(ctx, s.objects, job.Items)
	if err != nil {
		return s.failJob(ctx, span, job, payload, err, finalAttempt(ctx))
	}

	result, err := s.processor.ProcessBatch(ctx, items, set, reqs)
	if err != nil {
		// a cancelled run is retried; anything else in the batch is deterministic
		permanent := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		return s.failJob(ctx, span, job, payload, err, permanent || finalAttempt(ctx))
	}

	archiveKey := pipeline.ArchiveKey(s.outputPrefix, job.ID, set)
	if err := s.objects.Write(ctx, archiveKey, result.Archive, pipeline.ArchiveMIMEType); err != nil {
		return s.failJob(ctx, span, job, payload, fmt.Errorf("write archive: %w", err), finalAttempt(ctx))
	}

	if _, err := s.jobStore.Finish(ctx, job.ID, domain.JobStatusSucceeded, archiveKey, ""); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", job.ID, domain.JobStatusSucceeded, err)
	}
	s.logger.Printf("Processed job_id=%s entries=%d archive=%s bytes=%d", job.ID, len(result.Entries), archiveKey, len(result.Archive))

	s.metrics.entriesTotal.WithLabelValues(set.String()).Add(float64(len(result.Entries)))
	s.recordUsage(ctx, job, len(items), result, time.Since(startedAt))
	s.dispatchWebhook(ctx, span, job, webhook.EventJobCompleted, webhook.JobEvent{
		JobID:       job.ID,
		Status:      domain.JobStatusSucceeded,
		Variant:     job.Variant,
		Items:       len(job.Items),
		ArchiveKey:  archiveKey,
		ArchiveSize: len(result.Archive),
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// failJob records a failed attempt. When permanent, the job is marked failed,
// the failure webhook is sent and asynq is told not to retry.
func (s *Server) failJob(ctx context.Context, span trace.Span, job domain.Job, payload queue.BatchPayload, cause error, permanent bool) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "batch failed")

	if !permanent {
		s.logger.Printf("job attempt failed job_id=%s err=%v", job.ID, cause)
		return fmt.Errorf("process job %s: %w", job.ID, cause)
	}

	s.logger.Printf("job failed job_id=%s err=%v", job.ID, cause)
	if _, err := s.jobStore.Finish(ctx, job.ID, domain.JobStatusFailed, "", cause.Error()); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", job.ID, domain.JobStatusFailed, err)
	}
	s.dispatchWebhook(ctx, span, job, webhook.EventJobFailed, webhook.JobEvent{
		JobID:       job.ID,
		Status:      domain.JobStatusFailed,
		Variant:     job.Variant,
		Items:       len(job.Items),
		Error:       cause.Error(),
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	})
	return fmt.Errorf("process job %s: %v: %w", job.ID, cause, asynq.SkipRetry)
}

func (s *Server) handleSweep(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseSweepPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.sweep", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	cfg := s.sweepCfg
	if prefix := strings.TrimSpace(payload.SourcePrefix); prefix != "" {
		cfg.SourcePrefix = prefix
	}
	span.SetAttributes(attribute.String("sweep.source_prefix", cfg.SourcePrefix))

	sweeper, err := pipeline.NewSweeper(s.processor, s.sweepStore, s.sweepStore, cfg, s.logger)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("configure sweep: %v: %w", err, asynq.SkipRetry)
	}

	s.logger.Printf("sweep started source_prefix=%s", cfg.SourcePrefix)
	result, err := sweeper.Run(ctx)
	s.metrics.sweepItemsTotal.WithLabelValues("processed").Add(float64(result.Processed))
	s.metrics.sweepItemsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	s.metrics.sweepItemsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	span.SetAttributes(
		attribute.Int("sweep.found", result.Found),
		attribute.Int("sweep.processed", result.Processed),
		attribute.Int("sweep.failed", result.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return fmt.Errorf("sweep: %w", err)
	}

	s.logger.Printf(
		"sweep finished found=%d processed=%d skipped=%d failed=%d",
		result.Found, result.Processed, result.Skipped, result.Failed,
	)
	span.SetStatus(codes.Ok, "swept")
	return nil
}

// sweepStoreFor sweeps a local directory when one is configured and the job
// object store otherwise.
func sweepStoreFor(cfg config.SweepConfig, objects ObjectStore) ObjectStore {
	if root := strings.TrimSpace(cfg.LocalRoot); root != "" {
		return pipeline.LocalStore{Root: root}
	}
	return objects
}

func (s *Server) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	return func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}, nil
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook delivers a job event. Delivery failures are logged and do
// not fail the job.
func (s *Server) dispatchWebhook(ctx context.Context, span trace.Span, job domain.Job, event string, body webhook.JobEvent) {
	if job.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, job.WebhookURL, event, body); err != nil {
		span.RecordError(err)
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", job.ID, event, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, job domain.Job, items int, result pipeline.BatchResult, computeDuration time.Duration) {
	userID := strings.TrimSpace(job.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	s.metrics.pixelsProcessedTotal.Add(float64(result.PixelsProcessed))
	s.metrics.archiveBytesTotal.Add(float64(len(result.Archive)))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if s.usageStore == nil {
		return
	}
	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           job.ID,
		Variant:         job.Variant,
		ItemsProcessed:  items,
		PixelsProcessed: result.PixelsProcessed,
		ArchiveBytes:    int64(len(result.Archive)),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", job.ID, err)
	}
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}
