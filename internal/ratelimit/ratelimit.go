// Package ratelimit implements a sliding log rate limiter on Redis sorted
// sets, so that every server instance shares the same budget per client.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-ratelimit")

const keyPrefix = "ratelimit:"

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most limit requests per identity in any window.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
	logger *logging.Logger
}

// New creates a limiter.
func New(client *redis.Client, limit int, window time.Duration, logger *logging.Logger) *Limiter {
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: logger.Component("ratelimit"),
	}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit records a request for identity and reports whether it may proceed.
// Redis failures admit the request.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.admit",
		trace.WithAttributes(attribute.String("identity", identity)),
	)
	defer span.End()

	now := l.now()
	key := keyPrefix + identity
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		l.logger.Warn("rate limiter unavailable, admitting request", "identity", identity, "err", err)
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, nil
	}

	count := int(card.Val())
	span.SetAttributes(attribute.Int("count", count))
	if count <= l.limit {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - count}, nil
	}

	// Rejected requests do not consume budget.
	if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("failed to roll back rejected request: %w", err)
	}

	retryAfter := l.window
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		retryAfter = time.UnixMilli(int64(oldest[0].Score)).Add(l.window).Sub(now)
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	span.SetAttributes(attribute.Bool("allowed", false))
	return Decision{Allowed: false, Limit: l.limit, RetryAfter: retryAfter}, nil
}
