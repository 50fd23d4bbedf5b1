package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/pdfsqueeze/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisClient caches artifact records in Redis with tracing
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client. Cached records live for ttl.
func NewRedisClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewRedisClientFromClient(client, ttl), nil
}

// NewRedisClientFromClient wraps an existing go-redis client
func NewRedisClientFromClient(client *redis.Client, ttl time.Duration) *RedisClient {
	return &RedisClient{client: client, ttl: ttl}
}

// Client exposes the underlying connection so other components can share it
func (rc *RedisClient) Client() *redis.Client {
	return rc.client
}

// Ping checks the connection
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func artifactCacheKey(id string) string {
	return fmt.Sprintf("artifact:%s", id)
}

// GetArtifact retrieves a cached record. A miss returns nil, nil.
func (rc *RedisClient) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "redis.get_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", id),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, artifactCacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var a models.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached artifact: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &a, nil
}

// SetArtifact stores a record in the cache
func (rc *RedisClient) SetArtifact(ctx context.Context, a *models.Artifact) error {
	ctx, span := tracer.Start(ctx, "redis.set_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", a.ID),
			attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())),
		),
	)
	defer span.End()

	data, err := json.Marshal(a)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	if err := rc.client.Set(ctx, artifactCacheKey(a.ID), data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// InvalidateArtifact removes a record from the cache
func (rc *RedisClient) InvalidateArtifact(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", id),
		),
	)
	defer span.End()

	if err := rc.client.Del(ctx, artifactCacheKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
