package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/storage"
)

// Source reads named objects. Keys are slash-separated.
type Source interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Sink writes named objects.
type Sink interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

type ObjectStore struct {
	Storage *storage.Client
}

func (s ObjectStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return s.Storage.ReadObject(ctx, key)
}

func (s ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return s.Storage.ListObjects(ctx, prefix)
}

func (s ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.Storage == nil {
		return false, errors.New("storage client is required")
	}
	return s.Storage.ObjectExists(ctx, key)
}

func (s ObjectStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	if s.Storage == nil {
		return errors.New("storage client is required")
	}
	return s.Storage.WriteObject(ctx, key, data, contentType)
}

// FetchBatchItems reads every job item in order.
func FetchBatchItems(ctx context.Context, src Source, items []domain.JobItem) ([]BatchItem, error) {
	out := make([]BatchItem, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := src.Fetch(ctx, item.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("fetch item %d %q: %w", i, item.Name, err)
		}
		out = append(out, BatchItem{Name: item.Name, Data: data})
	}
	return out, nil
}

// UploadKey is where the API expects the index-th upload of a job.
func UploadKey(jobID string, index int) string {
	return path.Join("uploads", sanitizePathToken(jobID), fmt.Sprintf("%04d", index))
}

// ArchiveKey is where the worker writes a job's archive.
func ArchiveKey(prefix, jobID string, set domain.VariantSet) string {
	return path.Join(defaultOutputPrefix(prefix), sanitizePathToken(jobID), ArchiveName(set))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
