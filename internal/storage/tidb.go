package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/pdfsqueeze/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const artifactColumns = `id, original_name, file_name, size, compressed_size, path, checksum, target_met, created_at`

const createArtifactsTable = `CREATE TABLE IF NOT EXISTS artifacts (
	id              CHAR(36)     NOT NULL PRIMARY KEY,
	original_name   VARCHAR(255) NOT NULL,
	file_name       VARCHAR(255) NOT NULL,
	size            BIGINT       NOT NULL,
	compressed_size BIGINT       NOT NULL,
	path            VARCHAR(512) NOT NULL,
	checksum        CHAR(64)     NOT NULL,
	target_met      BOOLEAN      NOT NULL DEFAULT TRUE,
	created_at      DATETIME(6)  NOT NULL,
	INDEX idx_artifacts_created_at (created_at)
)`

// TiDBClient stores artifact records in TiDB (or any MySQL-compatible server)
type TiDBClient struct {
	db *sql.DB
}

// NewTiDBClient initializes a new TiDB client
func NewTiDBClient(dsn string) (*TiDBClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewTiDBClientFromDB(db), nil
}

// NewTiDBClientFromDB wraps an already opened pool
func NewTiDBClientFromDB(db *sql.DB) *TiDBClient {
	return &TiDBClient{db: db}
}

// Close closes the database connection
func (tc *TiDBClient) Close() error {
	return tc.db.Close()
}

// Ping checks that the database is reachable
func (tc *TiDBClient) Ping(ctx context.Context) error {
	return tc.db.PingContext(ctx)
}

// EnsureSchema creates the artifacts table if it does not exist
func (tc *TiDBClient) EnsureSchema(ctx context.Context) error {
	if _, err := tc.db.ExecContext(ctx, createArtifactsTable); err != nil {
		return fmt.Errorf("failed to create artifacts table: %w", err)
	}
	return nil
}

// CreateArtifact inserts an artifact record with tracing
func (tc *TiDBClient) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	ctx, span := tracer.Start(ctx, "tidb.create_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", a.ID),
			attribute.String("file_name", a.FileName),
			attribute.Int64("compressed_size", a.CompressedSize),
		),
	)
	defer span.End()

	query := `INSERT INTO artifacts (` + artifactColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := tc.db.ExecContext(ctx, query,
		a.ID, a.OriginalName, a.FileName, a.Size, a.CompressedSize,
		a.Path, a.Checksum, a.TargetMet, a.CreatedAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert artifact: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetArtifact retrieves an artifact record by ID with tracing
func (tc *TiDBClient) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", id),
		),
	)
	defer span.End()

	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = ?`

	a, err := scanArtifact(tc.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return a, nil
}

// DeleteArtifact removes an artifact record. The caller that sees a nil error
// is the one that removed it; everyone else gets ErrNotFound.
func (tc *TiDBClient) DeleteArtifact(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "tidb.delete_artifact",
		trace.WithAttributes(
			attribute.String("artifact_id", id),
		),
	)
	defer span.End()

	res, err := tc.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	span.SetAttributes(attribute.Int64("rows_affected", n))
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpired returns up to limit records created before cutoff, oldest first
func (tc *TiDBClient) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Artifact, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_expired",
		trace.WithAttributes(
			attribute.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query := `SELECT ` + artifactColumns + `
			  FROM artifacts
			  WHERE created_at < ?
			  ORDER BY created_at ASC
			  LIMIT ?`

	rows, err := tc.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query expired artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	span.SetAttributes(attribute.Int("expired_count", len(artifacts)))
	return artifacts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var a models.Artifact
	err := row.Scan(
		&a.ID,
		&a.OriginalName,
		&a.FileName,
		&a.Size,
		&a.CompressedSize,
		&a.Path,
		&a.Checksum,
		&a.TargetMet,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
