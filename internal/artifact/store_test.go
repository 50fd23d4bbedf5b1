package artifact

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/models"
	"github.com/maneesh/pdfsqueeze/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRecords is an in-memory RecordStore with the same delete semantics as
// the MySQL one.
type memRecords struct {
	mu        sync.Mutex
	rows      map[string]models.Artifact
	createErr error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]models.Artifact)}
}

func (m *memRecords) CreateArtifact(_ context.Context, a *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.rows[a.ID] = *a
	return nil
}

func (m *memRecords) GetArtifact(_ context.Context, id string) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (m *memRecords) DeleteArtifact(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memRecords) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Artifact
	for _, a := range m.rows {
		if a.CreatedAt.Before(cutoff) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

type fixture struct {
	store   *Store
	blobs   *storage.FilesystemStore
	records *memRecords
	clock   *fakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	records := newMemRecords()
	clock := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		store:   NewStore(blobs, records, 5*time.Minute, logging.Discard(), opts...),
		blobs:   blobs,
		records: records,
		clock:   clock,
	}
}

var sampleMeta = models.ArtifactMeta{
	OriginalName: "report.pdf",
	FileName:     "report_compressed.pdf",
	OriginalSize: 2048,
	TargetMet:    true,
}

func TestPutThenGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("%PDF-compressed"), sampleMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "artifacts/"+a.ID+".pdf", a.Path)
	assert.Equal(t, int64(len("%PDF-compressed")), a.CompressedSize)
	assert.Equal(t, int64(2048), a.Size)
	assert.True(t, a.TargetMet)

	data, got, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-compressed", string(data))
	assert.Equal(t, "report.pdf", got.OriginalName)

	// Get does not consume.
	_, _, err = f.store.Get(ctx, a.ID)
	assert.NoError(t, err)
}

func TestPutRemovesBlobWhenRecordFails(t *testing.T) {
	f := newFixture(t)
	f.records.createErr = errors.New("db down")

	_, err := f.store.Put(context.Background(), []byte("data"), sampleMeta)
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorageFailure, apperr.KindOf(err))

	// Nothing left behind under the blob root.
	assert.Zero(t, countFiles(t, f.blobs.Root()))
}

func TestGetUnknownID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.store.Get(ctx, "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, apperr.NotFound)

	_, _, err = f.store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestGetExpiredBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, _, err = f.store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestGetMissingBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)
	require.NoError(t, f.blobs.DeleteBlob(ctx, a.Path))

	_, _, err = f.store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestGetCorruptedBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)
	require.NoError(t, f.blobs.PutBlob(ctx, a.Path, []byte("tampered")))

	_, _, err = f.store.Get(ctx, a.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorageFailure, apperr.KindOf(err))
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, a.ID))
	assert.ErrorIs(t, f.store.Delete(ctx, a.ID), apperr.NotFound)

	_, err = f.blobs.GetBlob(ctx, a.Path)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	assert.Zero(t, f.records.count())
}

func TestTakeDeliversAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, _, err := f.store.Take(ctx, a.ID)
			if err == nil {
				assert.Equal(t, "data", string(data))
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperr.NotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestStoreWithRedisCache(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()

	cache := storage.NewRedisClientFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), 5*time.Minute)
	defer cache.Close()

	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)
	assert.True(t, srv.Exists("artifact:"+a.ID))

	data, _, err := f.store.Take(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.False(t, srv.Exists("artifact:"+a.ID))

	// A stale cache entry must not resurrect a deleted artifact.
	require.NoError(t, cache.SetArtifact(ctx, a))
	_, _, err = f.store.Take(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestStoreSurvivesCacheOutage(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	cache := storage.NewRedisClientFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1}), 5*time.Minute)
	defer cache.Close()
	srv.Close()

	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	a, err := f.store.Put(ctx, []byte("data"), sampleMeta)
	require.NoError(t, err)

	data, _, err := f.store.Take(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
