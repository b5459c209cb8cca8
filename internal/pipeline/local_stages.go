package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrKeyOutsideRoot = errors.New("object key escapes local root")

// LocalStore keeps objects as files under Root, one file per key.
type LocalStore struct {
	Root string
}

func (s LocalStore) path(key string) (string, error) {
	if strings.TrimSpace(s.Root) == "" {
		return "", errors.New("local root directory is required")
	}
	clean := path.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrKeyOutsideRoot, key)
	}
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (s LocalStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", full, err)
	}
	return data, nil
}

func (s LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	base := s.Root
	if strings.Trim(prefix, "/ ") != "" {
		var err error
		if base, err = s.path(prefix); err != nil {
			return nil, err
		}
	}

	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", base, err)
	}
	return keys, nil
}

func (s LocalStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", full, err)
	}
	return true, nil
}

func (s LocalStore) Write(_ context.Context, key string, data []byte, _ string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
