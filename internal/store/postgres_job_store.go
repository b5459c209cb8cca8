package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelvariant/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	variant TEXT NOT NULL,
	opacity DOUBLE PRECISION NOT NULL,
	circular JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	items JSONB NOT NULL,
	archive_key TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL,
	variant TEXT NOT NULL,
	items_processed INTEGER NOT NULL,
	pixels_processed BIGINT NOT NULL,
	archive_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_logs_user_created_idx ON usage_logs (user_id, created_at);
`

const selectJobSQL = `SELECT id, user_id, status, variant, opacity, circular, webhook_url, items,
	archive_key, error, created_at, updated_at
	FROM jobs
	WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	circularJSON, err := json.Marshal(job.Circular)
	if err != nil {
		return fmt.Errorf("marshal circular params: %w", err)
	}
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal job items: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, user_id, status, variant, opacity, circular, webhook_url, items,
			archive_key, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		job.UserID,
		job.Status,
		job.Variant,
		job.Opacity,
		circularJSON,
		job.WebhookURL,
		itemsJSON,
		job.ArchiveKey,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var (
		job          domain.Job
		circularJSON []byte
		itemsJSON    []byte
	)
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Variant,
		&job.Opacity,
		&circularJSON,
		&job.WebhookURL,
		&itemsJSON,
		&job.ArchiveKey,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(circularJSON, &job.Circular); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal circular params: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job items: %w", err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status, archiveKey, errMsg string) (domain.Job, error) {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = $1, archive_key = $2, error = $3, updated_at = $4 WHERE id = $5`,
		status, archiveKey, errMsg, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) RecordUsage(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, variant, items_processed, pixels_processed,
			archive_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		usage.UserID,
		usage.JobID,
		usage.Variant,
		usage.ItemsProcessed,
		usage.PixelsProcessed,
		usage.ArchiveBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) exec(ctx context.Context, id, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}
