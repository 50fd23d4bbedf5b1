package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *clock, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	c := &clock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	return New(client, limit, window, logging.Discard()).WithClock(c.Now), c, srv
}

func TestEleventhRequestIsRejected(t *testing.T) {
	limiter, c, _ := newLimiter(t, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := limiter.Admit(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 9-i, d.Remaining)
		c.Advance(time.Second)
	}

	d, err := limiter.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	// Oldest entry is 10s old, so it leaves the window in 50s.
	assert.Equal(t, 50*time.Second, d.RetryAfter)

	// Other clients are unaffected.
	other, err := limiter.Admit(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestAdmittedAgainAfterWindowSlides(t *testing.T) {
	limiter, c, _ := newLimiter(t, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := limiter.Admit(ctx, "client")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := limiter.Admit(ctx, "client")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	c.Advance(time.Minute)
	d, err = limiter.Admit(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestRejectedRequestsDoNotExtendTheBlock(t *testing.T) {
	limiter, c, srv := newLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Admit(ctx, "client")
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		d, err := limiter.Admit(ctx, "client")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	members, err := srv.ZMembers(keyPrefix + "client")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	c.Advance(time.Minute)
	d, err := limiter.Admit(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFailsOpenWhenRedisIsDown(t *testing.T) {
	limiter, _, srv := newLimiter(t, 1, time.Minute)
	srv.Close()

	for i := 0; i < 3; i++ {
		d, err := limiter.Admit(context.Background(), "client")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}
