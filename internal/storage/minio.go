package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-storage")

// MinioClient keeps artifact blobs in a MinIO bucket
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// NewMinioClient initializes a new MinIO client and makes sure the bucket exists
func NewMinioClient(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool, logger *logging.Logger) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		logger.Info("creating bucket", "bucket", bucketName)
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// PutBlob uploads a blob to MinIO with tracing
func (mc *MinioClient) PutBlob(ctx context.Context, key string, data []byte) error {
	ctx, span := tracer.Start(ctx, "minio.put_blob",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	_, err := mc.client.PutObject(ctx, mc.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload blob: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}

// GetBlob downloads a blob from MinIO with tracing
func (mc *MinioClient) GetBlob(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "minio.get_blob",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, mapMinioError(err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		return nil, mapMinioError(err)
	}

	span.SetAttributes(
		attribute.Int("size_bytes", len(data)),
		attribute.Bool("download_success", true),
	)
	return data, nil
}

// DeleteBlob removes a blob from MinIO. Removing a missing key succeeds.
func (mc *MinioClient) DeleteBlob(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_blob",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	err := mc.client.RemoveObject(ctx, mc.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		if mapMinioError(err) == ErrBlobNotFound {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	return nil
}

// ListBlobs returns the objects under prefix last modified before cutoff
func (mc *MinioClient) ListBlobs(ctx context.Context, prefix string, cutoff time.Time) ([]BlobInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.list_blobs",
		trace.WithAttributes(attribute.String("prefix", prefix)),
	)
	defer span.End()

	var out []BlobInfo
	for obj := range mc.client.ListObjects(ctx, mc.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			span.RecordError(obj.Err)
			return nil, fmt.Errorf("failed to list blobs: %w", obj.Err)
		}
		if obj.LastModified.Before(cutoff) {
			out = append(out, BlobInfo{Key: obj.Key, ModTime: obj.LastModified})
		}
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

func mapMinioError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return fmt.Errorf("minio: %w", err)
}
