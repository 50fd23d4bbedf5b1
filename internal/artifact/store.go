// Package artifact owns the lifecycle of compressed PDFs between the moment
// they are produced and the moment they are delivered or expire.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/digest"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/models"
	"github.com/maneesh/pdfsqueeze/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-artifact")

// BlobStore keeps the compressed bytes.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
	DeleteBlob(ctx context.Context, key string) error
}

// BlobLister is implemented by blob backends that can enumerate what they
// hold.
type BlobLister interface {
	ListBlobs(ctx context.Context, prefix string, cutoff time.Time) ([]storage.BlobInfo, error)
}

// RecordStore is the source of truth for which artifacts exist.
type RecordStore interface {
	CreateArtifact(ctx context.Context, a *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Artifact, error)
}

// RecordCache is a read-through cache in front of RecordStore. A miss
// returns nil, nil.
type RecordCache interface {
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	SetArtifact(ctx context.Context, a *models.Artifact) error
	InvalidateArtifact(ctx context.Context, id string) error
}

// Store maps artifact IDs to stored blobs for a bounded lifetime.
type Store struct {
	blobs   BlobStore
	records RecordStore
	cache   RecordCache
	ttl     time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCache puts a record cache in front of the record store.
func WithCache(cache RecordCache) Option {
	return func(s *Store) { s.cache = cache }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store whose artifacts live for ttl.
func NewStore(blobs BlobStore, records RecordStore, ttl time.Duration, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		blobs:   blobs,
		records: records,
		ttl:     ttl,
		logger:  logger.Component("artifact"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns how long artifacts stay retrievable.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

const blobPrefix = "artifacts/"

func blobKey(id string) string {
	return fmt.Sprintf("%s%s.pdf", blobPrefix, id)
}

// blobID is the inverse of blobKey.
func blobID(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, blobPrefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(name, ".pdf")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// Put stores blob under a fresh ID and returns its record.
func (s *Store) Put(ctx context.Context, blob []byte, meta models.ArtifactMeta) (*models.Artifact, error) {
	id := uuid.New().String()
	ctx, span := tracer.Start(ctx, "artifact.put",
		trace.WithAttributes(
			attribute.String("artifact_id", id),
			attribute.String("file_name", meta.FileName),
			attribute.Int("size_bytes", len(blob)),
		),
	)
	defer span.End()

	a := &models.Artifact{
		ID:             id,
		OriginalName:   meta.OriginalName,
		FileName:       meta.FileName,
		Size:           meta.OriginalSize,
		CompressedSize: int64(len(blob)),
		Path:           blobKey(id),
		Checksum:       digest.Compute(blob),
		TargetMet:      meta.TargetMet,
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
	}

	if err := s.blobs.PutBlob(ctx, a.Path, blob); err != nil {
		span.RecordError(err)
		return nil, apperr.New(apperr.KindStorageFailure, "Failed to store compressed file", err)
	}

	if err := s.records.CreateArtifact(ctx, a); err != nil {
		span.RecordError(err)
		if delErr := s.blobs.DeleteBlob(ctx, a.Path); delErr != nil {
			s.logger.Warn("failed to remove orphaned blob", "artifact_id", id, "err", delErr)
		}
		return nil, apperr.New(apperr.KindStorageFailure, "Failed to store compressed file", err)
	}

	s.cacheSet(ctx, a)

	s.logger.Debug("stored artifact", "artifact_id", id, "file", a.FileName, "size", humanize.Bytes(uint64(a.CompressedSize)))
	return a, nil
}

// Get returns the bytes and record for id without consuming it.
func (s *Store) Get(ctx context.Context, id string) ([]byte, *models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "artifact.get",
		trace.WithAttributes(attribute.String("artifact_id", id)),
	)
	defer span.End()

	a, err := s.lookup(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	if a.Expired(s.now(), s.ttl) {
		span.SetAttributes(attribute.Bool("expired", true))
		return nil, nil, apperr.NotFound
	}

	data, err := s.blobs.GetBlob(ctx, a.Path)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, nil, apperr.NotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, nil, apperr.New(apperr.KindStorageFailure, "Failed to read compressed file", err)
	}

	if !digest.Verify(data, a.Checksum) {
		err := fmt.Errorf("checksum mismatch for artifact %s", id)
		span.RecordError(err)
		return nil, nil, apperr.New(apperr.KindStorageFailure, "Failed to read compressed file", err)
	}

	return data, a, nil
}

// Delete removes id. A second call for the same id returns apperr.NotFound,
// which callers treat as a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "artifact.delete",
		trace.WithAttributes(attribute.String("artifact_id", id)),
	)
	defer span.End()

	// The record is claimed first so that concurrent deleters agree on a
	// single winner.
	a, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	if err := s.records.DeleteArtifact(ctx, id); errors.Is(err, storage.ErrNotFound) {
		s.cacheInvalidate(ctx, id)
		return apperr.NotFound
	} else if err != nil {
		span.RecordError(err)
		return apperr.New(apperr.KindStorageFailure, "Failed to delete compressed file", err)
	}

	s.cacheInvalidate(ctx, id)

	if err := s.blobs.DeleteBlob(ctx, a.Path); err != nil {
		// The record is gone so the artifact is unreachable either way.
		span.RecordError(err)
		s.logger.Warn("failed to remove blob", "artifact_id", id, "err", err)
	}
	return nil
}

// Take returns the artifact and deletes it. Of several concurrent callers at
// most one receives the bytes.
func (s *Store) Take(ctx context.Context, id string) ([]byte, *models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "artifact.take",
		trace.WithAttributes(attribute.String("artifact_id", id)),
	)
	defer span.End()

	data, a, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Delete(ctx, id); err != nil {
		return nil, nil, err
	}
	return data, a, nil
}

// ListExpired returns up to limit records that are past their lifetime.
func (s *Store) ListExpired(ctx context.Context, limit int) ([]*models.Artifact, error) {
	return s.records.ListExpired(ctx, s.now().Add(-s.ttl), limit)
}

// PruneOrphans removes blobs older than the TTL that no record points at.
// These are left by a failed blob delete, a crash between writing a blob and
// its record, or an interrupted write. Backends that cannot list are skipped.
func (s *Store) PruneOrphans(ctx context.Context) (int, error) {
	lister, ok := s.blobs.(BlobLister)
	if !ok {
		return 0, nil
	}

	ctx, span := tracer.Start(ctx, "artifact.prune_orphans")
	defer span.End()

	blobs, err := lister.ListBlobs(ctx, blobPrefix, s.now().Add(-s.ttl))
	if err != nil {
		span.RecordError(err)
		return 0, apperr.New(apperr.KindStorageFailure, "Failed to list stored files", err)
	}

	removed := 0
	for _, b := range blobs {
		// The record store is asked directly; a cached record may be stale.
		if id, ok := blobID(b.Key); ok {
			_, err := s.records.GetArtifact(ctx, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("failed to look up blob owner", "key", b.Key, "err", err)
				continue
			}
		}

		if err := s.blobs.DeleteBlob(ctx, b.Key); err != nil {
			s.logger.Warn("failed to remove orphaned blob", "key", b.Key, "err", err)
			continue
		}
		removed++
		s.logger.Debug("removed orphaned blob", "key", b.Key, "modified", b.ModTime)
	}

	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}

func (s *Store) lookup(ctx context.Context, id string) (*models.Artifact, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound
	}

	if s.cache != nil {
		cached, err := s.cache.GetArtifact(ctx, id)
		if err != nil {
			s.logger.Warn("record cache read failed", "artifact_id", id, "err", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	a, err := s.records.GetArtifact(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound
	} else if err != nil {
		return nil, apperr.New(apperr.KindStorageFailure, "Failed to look up compressed file", err)
	}

	s.cacheSet(ctx, a)
	return a, nil
}

func (s *Store) cacheSet(ctx context.Context, a *models.Artifact) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetArtifact(ctx, a); err != nil {
		s.logger.Warn("record cache write failed", "artifact_id", a.ID, "err", err)
	}
}

func (s *Store) cacheInvalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateArtifact(ctx, id); err != nil {
		s.logger.Warn("record cache invalidate failed", "artifact_id", id, "err", err)
	}
}
