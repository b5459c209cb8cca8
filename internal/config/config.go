package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Webhook   WebhookConfig
	Sweep     SweepConfig
}

type APIConfig struct {
	Addr                string
	MaxUploadBytes      int64
	MaxConcurrentWork   int
	UploadURLExpiry     time.Duration
	DownloadURLExpiry   time.Duration
	AsyncJobsEnabled    bool
	DefaultOpacity      float64
	ShutdownGracePeriod time.Duration
	// MaxPixels bounds decoded uploads and circular-crop outputs.
	MaxPixels           int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions is the go-redis view of the same server, used by the rate
// limiter.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	OutputPrefix  string
	MetricsAddr   string
	MaxPixels     int64
}

type StorageConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	MaxObjectBytes int64
}

type DatabaseConfig struct {
	// DSN selects the Postgres store. Empty keeps jobs in memory.
	DSN string
}

type RateLimitConfig struct {
	Enabled   bool
	Requests  int
	Window    time.Duration
	KeyPrefix string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type SweepConfig struct {
	Enabled      bool
	Schedule     string
	SourcePrefix string
	OutputPrefix string
	Opacity      float64
	// LocalRoot sweeps a directory instead of the bucket when set.
	LocalRoot    string
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	maxPixels := int64(envInt("IMAGE_MAX_PIXELS", int(raster.DefaultMaxPixels)))
	if maxPixels <= 0 {
		maxPixels = raster.DefaultMaxPixels
	}

	return Config{
		API: APIConfig{
			Addr:                env("PIXELVARIANT_API_ADDR", ":8080"),
			MaxUploadBytes:      int64(envInt("API_MAX_UPLOAD_BYTES", 64<<20)),
			MaxConcurrentWork:   envInt("API_MAX_CONCURRENT_TRANSFORMS", max(1, runtime.NumCPU())),
			UploadURLExpiry:     envDuration("API_UPLOAD_URL_EXPIRY", 15*time.Minute),
			DownloadURLExpiry:   envDuration("API_DOWNLOAD_URL_EXPIRY", time.Hour),
			AsyncJobsEnabled:    envBool("API_ASYNC_JOBS_ENABLED", true),
			DefaultOpacity:      envFloat("API_DEFAULT_OPACITY", domain.DefaultOpacity),
			ShutdownGracePeriod: envDuration("API_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
			MaxPixels:           maxPixels,
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			OutputPrefix:  env("WORKER_OUTPUT_PREFIX", "outputs"),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
			MaxPixels:     maxPixels,
		},
		Storage: StorageConfig{
			Endpoint:       env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:      env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:      env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:         env("MINIO_BUCKET", "pixelvariant"),
			UseSSL:         envBool("MINIO_USE_SSL", false),
			MaxObjectBytes: int64(envInt("MINIO_MAX_OBJECT_BYTES", 64<<20)),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:   envBool("RATE_LIMIT_ENABLED", false),
			Requests:  envInt("RATE_LIMIT_REQUESTS", 60),
			Window:    envDuration("RATE_LIMIT_WINDOW", time.Minute),
			KeyPrefix: env("RATE_LIMIT_KEY_PREFIX", "pixelvariant:ratelimit"),
		},
		Tracing: TracingConfig{
			Exporter:     strings.ToLower(env("TRACING_EXPORTER", "none")),
			OTLPEndpoint: env("TRACING_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("TRACING_OTLP_INSECURE", true),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Sweep: SweepConfig{
			Enabled:      envBool("SWEEP_ENABLED", false),
			Schedule:     env("SWEEP_SCHEDULE", "0 2 * * 0"),
			SourcePrefix: env("SWEEP_SOURCE_PREFIX", "images"),
			OutputPrefix: env("SWEEP_OUTPUT_PREFIX", "variants"),
			Opacity:      envFloat("SWEEP_OPACITY", domain.DefaultOpacity),
			LocalRoot:    strings.TrimSpace(env("SWEEP_LOCAL_ROOT", "")),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// envDuration accepts Go duration strings ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
