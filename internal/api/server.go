package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/config"
	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/pipeline"
	"github.com/dunamismax/pixelvariant/internal/queue"
	"github.com/dunamismax/pixelvariant/internal/store"
	"github.com/dunamismax/pixelvariant/internal/telemetry"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName      = "image-processing"
	defaultUserIDHdr = "X-User-ID"
)

var errJobsUnavailable = errors.New("async jobs are not configured")

type Server struct {
	logger         *log.Logger
	processor      *pipeline.Processor
	pool           chan struct{}
	maxUploadBytes int64
	maxPixels      int64
	defaultOpacity float64

	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	uploadTTL   time.Duration
	downloadTTL time.Duration

	rateLimiter           RateLimiter
	rateLimitUserIDHeader string

	metrics *metrics
	tracer  trace.Tracer
	mux     *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueBatch(ctx context.Context, payload queue.BatchPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Options carries the optional collaborators. Without Queue, JobStore and
// Storage the /v1/jobs routes answer 503; the synchronous /process routes
// need none of them.
type Options struct {
	Processor    *pipeline.Processor
	Queue        queueEnqueuer
	JobStore     store.JobStore
	Storage      objectStorage
	RateLimiter  RateLimiter
	UserIDHeader string
}

func NewServer(logger *log.Logger, cfg config.APIConfig, opts Options) *Server {
	if opts.Processor == nil {
		opts.Processor = pipeline.NewProcessor(nil, pipeline.WithMaxPixels(cfg.MaxPixels))
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = defaultUserIDHdr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.UploadURLExpiry <= 0 {
		cfg.UploadURLExpiry = 15 * time.Minute
	}
	if cfg.DownloadURLExpiry <= 0 {
		cfg.DownloadURLExpiry = time.Hour
	}
	if domain.ValidateOpacity(cfg.DefaultOpacity) != nil || cfg.DefaultOpacity == 0 {
		cfg.DefaultOpacity = domain.DefaultOpacity
	}

	s := &Server{
		logger:                logger,
		processor:             opts.Processor,
		pool:                  make(chan struct{}, max(1, cfg.MaxConcurrentWork)),
		maxUploadBytes:        cfg.MaxUploadBytes,
		maxPixels:             opts.Processor.MaxPixels(),
		defaultOpacity:        cfg.DefaultOpacity,
		queueClient:           opts.Queue,
		jobStore:              opts.JobStore,
		storage:               opts.Storage,
		uploadTTL:             cfg.UploadURLExpiry,
		downloadTTL:           cfg.DownloadURLExpiry,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.UserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelvariant/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler wraps the routes in tracing, metrics and rate limiting, outermost
// first.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /process/opacity", s.handleOpacity)
	s.mux.HandleFunc("POST /process/grayscale", s.handleGrayscale)
	s.mux.HandleFunc("POST /process/circular", s.handleCircular)
	s.mux.HandleFunc("POST /process/all", s.handleAll)
	s.mux.HandleFunc("POST /process/batch/{variant}", s.handleBatch)

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "PixelVariant Image Processing",
		"version": telemetry.ServiceVersion,
		"endpoints": map[string]string{
			"health":          "/health",
			"metrics":         "/metrics",
			"opacity":         "POST /process/opacity",
			"grayscale":       "POST /process/grayscale",
			"circular":        "POST /process/circular",
			"all":             "POST /process/all",
			"batch_all":       "POST /process/batch/all",
			"batch_grayscale": "POST /process/batch/grayscale",
			"batch_opacity":   "POST /process/batch/opacity",
			"batch_circular":  "POST /process/batch/circular",
			"create_job":      "POST /v1/jobs",
			"get_job":         "GET /v1/jobs/{id}",
			"start_job":       "POST /v1/jobs/{id}/start",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
		"version": telemetry.ServiceVersion,
	})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
