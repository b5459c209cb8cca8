package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessBatch = "variants:batch"
	TypeSweep        = "variants:sweep"
)

// BatchPayload points the worker at a stored job. Items and parameters are
// read from the job store, not carried in the task.
type BatchPayload struct {
	JobID       string    `json:"job_id"`
	UserID      string    `json:"user_id,omitempty"`
	Variant     string    `json:"variant"`
	RequestedAt time.Time `json:"requested_at"`
}

type SweepPayload struct {
	// SourcePrefix overrides the worker's configured prefix when set.
	SourcePrefix string `json:"source_prefix,omitempty"`
}

func NewBatchTask(payload BatchPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, errors.New("batch payload requires a job id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch payload: %w", err)
	}
	return asynq.NewTask(TypeProcessBatch, body), nil
}

func ParseBatchPayload(task *asynq.Task) (BatchPayload, error) {
	var payload BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BatchPayload{}, fmt.Errorf("unmarshal batch payload: %w", err)
	}
	if payload.JobID == "" {
		return BatchPayload{}, errors.New("batch payload missing job id")
	}
	return payload, nil
}

func NewSweepTask(payload SweepPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return asynq.NewTask(TypeSweep, body), nil
}

func ParseSweepPayload(task *asynq.Task) (SweepPayload, error) {
	var payload SweepPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SweepPayload{}, fmt.Errorf("unmarshal sweep payload: %w", err)
	}
	return payload, nil
}
