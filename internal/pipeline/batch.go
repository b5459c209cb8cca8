package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type BatchState string

const (
	BatchPending      BatchState = "pending"
	BatchDecoding     BatchState = "decoding"
	BatchTransforming BatchState = "transforming"
	BatchArchiving    BatchState = "archiving"
	BatchCompleted    BatchState = "completed"
	BatchAborted      BatchState = "aborted"
)

var (
	ErrBatchAborted       = errors.New("batch aborted")
	ErrEmptyBatch   error = &domain.ParameterError{Message: "at least one file is required"}
)

func (s BatchState) Terminal() bool {
	return s == BatchCompleted || s == BatchAborted
}

// BatchItem is one named input. Names are used verbatim in archive entries.
type BatchItem struct {
	Name string
	Data []byte
}

type BatchEntry struct {
	Name string
	Data []byte
}

// BatchResult carries an archive only when State is BatchCompleted.
type BatchResult struct {
	State           BatchState
	Set             domain.VariantSet
	Entries         []BatchEntry
	Archive         []byte
	ArchiveName     string
	PixelsProcessed int64
}

type batchRun struct {
	state BatchState
}

func (r *batchRun) transition(to BatchState) error {
	if !batchTransitionAllowed(r.state, to) {
		return fmt.Errorf("disallowed batch transition: %s -> %s", r.state, to)
	}
	r.state = to
	return nil
}

func batchTransitionAllowed(from, to BatchState) bool {
	if to == BatchAborted {
		return !from.Terminal()
	}
	switch from {
	case BatchPending:
		return to == BatchDecoding
	case BatchDecoding:
		return to == BatchTransforming
	case BatchTransforming:
		return to == BatchDecoding || to == BatchArchiving
	case BatchArchiving:
		return to == BatchCompleted
	default:
		return false
	}
}

// ProcessBatch applies reqs to every item in order and packs the outputs into
// one archive. Any decode, transform or encode failure aborts the whole batch:
// the result is BatchAborted, carries no entries or archive, and the error
// wraps ErrBatchAborted together with the cause.
func (p *Processor) ProcessBatch(ctx context.Context, items []BatchItem, set domain.VariantSet, reqs []domain.TransformRequest) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{State: BatchPending, Set: set}, ErrEmptyBatch
	}
	if len(reqs) == 0 {
		return BatchResult{State: BatchPending, Set: set}, ErrNoRequests
	}
	for _, req := range reqs {
		if err := req.ValidateWithin(p.maxPixels); err != nil {
			return BatchResult{State: BatchPending, Set: set}, err
		}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process_batch")
	span.SetAttributes(
		attribute.Int("batch.items", len(items)),
		attribute.String("batch.variant_set", set.String()),
	)
	defer span.End()

	run := &batchRun{state: BatchPending}
	abort := func(cause error) (BatchResult, error) {
		_ = run.transition(BatchAborted)
		span.RecordError(cause)
		span.SetStatus(codes.Error, "batch aborted")
		return BatchResult{State: run.state, Set: set}, fmt.Errorf("%w: %w", ErrBatchAborted, cause)
	}

	entries := make([]BatchEntry, 0, len(items)*len(reqs))
	var pixels int64
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		if err := run.transition(BatchDecoding); err != nil {
			return abort(err)
		}
		src, err := raster.DecodeWithin(item.Data, p.maxPixels)
		if err != nil {
			return abort(fmt.Errorf("item %d %q: %w", i, item.Name, err))
		}

		if err := run.transition(BatchTransforming); err != nil {
			return abort(err)
		}
		for _, outcome := range p.apply(src, reqs) {
			if outcome.Err != nil {
				return abort(fmt.Errorf("item %d %q: %w", i, item.Name, outcome.Err))
			}
			entries = append(entries, BatchEntry{
				Name: set.EntryName(outcome.Variant, item.Name),
				Data: outcome.Data,
			})
			pixels += int64(outcome.Width * outcome.Height)
		}
	}

	if err := run.transition(BatchArchiving); err != nil {
		return abort(err)
	}
	archive, err := WriteArchive(entries)
	if err != nil {
		return abort(err)
	}
	if err := run.transition(BatchCompleted); err != nil {
		return abort(err)
	}

	span.SetAttributes(attribute.Int("batch.archive_bytes", len(archive)))
	span.SetStatus(codes.Ok, "completed")
	return BatchResult{
		State:           run.state,
		Set:             set,
		Entries:         entries,
		Archive:         archive,
		ArchiveName:     ArchiveName(set),
		PixelsProcessed: pixels,
	}, nil
}
