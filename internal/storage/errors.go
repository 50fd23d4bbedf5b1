package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an artifact record does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrBlobNotFound is returned when a blob is missing from the backend.
	ErrBlobNotFound = errors.New("blob not found")
)

// BlobInfo describes a stored blob returned by a listing.
type BlobInfo struct {
	Key     string
	ModTime time.Time
}
