package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/id"
	"github.com/dunamismax/pixelvariant/internal/pipeline"
	"github.com/dunamismax/pixelvariant/internal/queue"
)

type uploadSlot struct {
	Name            string `json:"name"`
	ObjectKey       string `json:"object_key"`
	PresignedPutURL string `json:"presigned_put_url"`
}

type jobResponse struct {
	JobID       string                `json:"job_id"`
	Status      string                `json:"status"`
	Variant     string                `json:"variant"`
	Opacity     float64               `json:"opacity"`
	Circular    domain.CircularParams `json:"circular"`
	Items       []domain.JobItem      `json:"items"`
	ArchiveKey  string                `json:"archive_key,omitempty"`
	DownloadURL string                `json:"download_url,omitempty"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func (s *Server) jobsEnabled() bool {
	return s.queueClient != nil && s.jobStore != nil && s.storage != nil
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled() {
		writeError(w, http.StatusServiceUnavailable, errJobsUnavailable.Error())
		return
	}

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.ValidateWithin(s.maxPixels); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	variant, opacity, circular := req.Settings()

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		Variant:    variant,
		Opacity:    opacity,
		Circular:   circular,
		WebhookURL: req.WebhookURL,
		Items:      make([]domain.JobItem, 0, len(req.Items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	uploads := make([]uploadSlot, 0, len(req.Items))
	for i, in := range req.Items {
		key := pipeline.UploadKey(job.ID, i)
		url, err := s.storage.PresignedPutURL(r.Context(), key, s.uploadTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job_id=%s item=%d err=%v", job.ID, i, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		job.Items = append(job.Items, domain.JobItem{Name: in.Name, ObjectKey: key})
		uploads = append(uploads, uploadSlot{Name: in.Name, ObjectKey: key, PresignedPutURL: url})
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	s.logger.Printf("job created job_id=%s variant=%s items=%d", job.ID, job.Variant, len(job.Items))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Status,
		"variant":   job.Variant,
		"uploads":   uploads,
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled() {
		writeError(w, http.StatusServiceUnavailable, errJobsUnavailable.Error())
		return
	}

	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	resp := jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		Variant:    job.Variant,
		Opacity:    job.Opacity,
		Circular:   job.Circular,
		Items:      job.Items,
		ArchiveKey: job.ArchiveKey,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded && job.ArchiveKey != "" {
		url, err := s.storage.PresignedGetURL(r.Context(), job.ArchiveKey, s.downloadTTL)
		if err != nil {
			s.logger.Printf("generate download url failed job_id=%s err=%v", job.ID, err)
		} else {
			resp.DownloadURL = url
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled() {
		writeError(w, http.StatusServiceUnavailable, errJobsUnavailable.Error())
		return
	}

	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifyUploads(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueBatch(r.Context(), queue.BatchPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		Variant:     job.Variant,
		RequestedAt: time.Now().UTC(),
	})
	if errors.Is(err, queue.ErrAlreadyEnqueued) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

// verifyUploads reports every item whose upload has not landed yet.
func (s *Server) verifyUploads(ctx context.Context, job domain.Job) error {
	var missing []string
	for _, item := range job.Items {
		exists, err := s.storage.ObjectExists(ctx, item.ObjectKey)
		if err != nil {
			return fmt.Errorf("upload check failed: %w", err)
		}
		if !exists {
			missing = append(missing, item.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("uploads missing for %d item(s): %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}
