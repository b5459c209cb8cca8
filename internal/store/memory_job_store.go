package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelvariant/internal/domain"
)

// MemoryJobStore keeps jobs and usage logs in process. It is used when no
// Postgres DSN is configured and in tests.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status, archiveKey, errMsg string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
		job.ArchiveKey = archiveKey
		job.Error = errMsg
	})
}

func (s *MemoryJobStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of every recorded usage log in insertion order.
func (s *MemoryJobStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageLog(nil), s.usage...)
}

func (s *MemoryJobStore) update(id string, mutate func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func cloneJob(job domain.Job) domain.Job {
	job.Items = append([]domain.JobItem(nil), job.Items...)
	return job
}
