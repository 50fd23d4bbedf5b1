package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FilesystemStore keeps artifact blobs as files under a root directory
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

// Root returns the directory blobs are written to
func (fsStore *FilesystemStore) Root() string {
	return fsStore.root
}

// PutBlob writes data under key. The file appears atomically via rename so a
// concurrent reader never sees a partial blob.
func (fsStore *FilesystemStore) PutBlob(ctx context.Context, key string, data []byte) error {
	_, span := tracer.Start(ctx, "fs.put_blob",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	path, err := fsStore.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("failed to move blob into place: %w", err)
	}

	return nil
}

// GetBlob reads the blob stored under key
func (fsStore *FilesystemStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	_, span := tracer.Start(ctx, "fs.get_blob",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	path, err := fsStore.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return data, nil
}

// DeleteBlob removes the blob stored under key. A missing file is not an error.
func (fsStore *FilesystemStore) DeleteBlob(ctx context.Context, key string) error {
	_, span := tracer.Start(ctx, "fs.delete_blob",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	path, err := fsStore.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		span.RecordError(err)
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// ListBlobs returns the files under prefix last modified before cutoff,
// including temp files left behind by interrupted writes.
func (fsStore *FilesystemStore) ListBlobs(ctx context.Context, prefix string, cutoff time.Time) ([]BlobInfo, error) {
	_, span := tracer.Start(ctx, "fs.list_blobs",
		trace.WithAttributes(attribute.String("prefix", prefix)),
	)
	defer span.End()

	dir, err := fsStore.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var out []BlobInfo
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(fsStore.root, path)
		if err != nil {
			return err
		}
		out = append(out, BlobInfo{Key: filepath.ToSlash(rel), ModTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// resolve maps a key to a path inside root, refusing keys that escape it.
func (fsStore *FilesystemStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(fsStore.root, clean), nil
}
