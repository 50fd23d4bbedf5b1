// Package delivery hands stored artifacts to clients exactly once, either one
// PDF at a time or bundled into a ZIP archive.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/metrics"
	"github.com/maneesh/pdfsqueeze/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-delivery")

const (
	ContentTypePDF = "application/pdf"
	ContentTypeZIP = "application/zip"

	// BundleName is the file name of every ZIP bundle.
	BundleName = "compressed_pdfs.zip"
)

// Naming selects which name an artifact is delivered under.
type Naming int

const (
	// ByOriginalName uses the name the file was uploaded with.
	ByOriginalName Naming = iota
	// ByCompressedName uses the "<base>_compressed.pdf" name.
	ByCompressedName
)

func (n Naming) nameOf(a *models.Artifact) string {
	if n == ByCompressedName {
		return a.FileName
	}
	return a.OriginalName
}

// Store is the consuming side of the artifact store.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, *models.Artifact, error)
	Delete(ctx context.Context, id string) error
	Take(ctx context.Context, id string) ([]byte, *models.Artifact, error)
}

// Payload is a response body ready to be written.
type Payload struct {
	Data        []byte
	FileName    string
	ContentType string
	Artifacts   []*models.Artifact
}

// Service delivers artifacts.
type Service struct {
	store   Store
	metrics metrics.Metrics
	logger  *logging.Logger
}

// NewService creates a delivery service.
func NewService(store Store, m metrics.Metrics, logger *logging.Logger) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{store: store, metrics: m, logger: logger.Component("delivery")}
}

// DeliverOne returns a single PDF and deletes its artifact.
func (s *Service) DeliverOne(ctx context.Context, id string, naming Naming) (*Payload, error) {
	ctx, span := tracer.Start(ctx, "delivery.one",
		trace.WithAttributes(attribute.String("artifact_id", id)),
	)
	defer span.End()

	data, a, err := s.store.Take(ctx, id)
	if err != nil {
		if !errors.Is(err, apperr.NotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	s.metrics.IncDeliveries("single")
	return &Payload{
		Data:        data,
		FileName:    naming.nameOf(a),
		ContentType: ContentTypePDF,
		Artifacts:   []*models.Artifact{a},
	}, nil
}

type taken struct {
	data     []byte
	artifact *models.Artifact
}

// DeliverBundle zips every artifact in ids that still exists, in request
// order, and deletes the ones that made it into the archive. Unknown or
// expired IDs are skipped. Nothing is deleted when the bundle fails.
func (s *Service) DeliverBundle(ctx context.Context, ids []string, naming Naming) (*Payload, error) {
	ids = dedupe(ids)
	ctx, span := tracer.Start(ctx, "delivery.bundle",
		trace.WithAttributes(attribute.Int("requested", len(ids))),
	)
	defer span.End()

	found := make([]*taken, len(ids))
	var wg sync.WaitGroup
	errChan := make(chan error, len(ids))

	for i, id := range ids {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()

			data, a, err := s.store.Get(ctx, id)
			if errors.Is(err, apperr.NotFound) {
				return
			} else if err != nil {
				errChan <- err
				return
			}
			found[idx] = &taken{data: data, artifact: a}
		}(i, id)
	}

	wg.Wait()
	close(errChan)

	if len(errChan) > 0 {
		err := <-errChan
		span.RecordError(err)
		return nil, err
	}

	entries := compact(found)
	if len(entries) == 0 {
		return nil, apperr.New(apperr.KindNoFilesFound, "No files found", nil)
	}

	archive, err := buildZip(entries, naming)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.New(apperr.KindTransformFailure, "Failed to create ZIP archive", err)
	}

	// Only artifacts whose record we managed to claim may leave the service.
	claimed := s.claim(ctx, entries)
	span.SetAttributes(attribute.Int("found", len(claimed)))
	if len(claimed) == 0 {
		return nil, apperr.New(apperr.KindNoFilesFound, "No files found", nil)
	}
	if len(claimed) != len(entries) {
		if archive, err = buildZip(claimed, naming); err != nil {
			span.RecordError(err)
			return nil, apperr.New(apperr.KindTransformFailure, "Failed to create ZIP archive", err)
		}
	}

	artifacts := make([]*models.Artifact, len(claimed))
	for i, t := range claimed {
		artifacts[i] = t.artifact
	}

	s.metrics.IncDeliveries("bundle")
	s.logger.Debug("bundle delivered", "requested", len(ids), "found", len(claimed))
	return &Payload{
		Data:        archive,
		FileName:    BundleName,
		ContentType: ContentTypeZIP,
		Artifacts:   artifacts,
	}, nil
}

// claim deletes every entry and returns those this call won, in order. An
// entry lost to a concurrent taker or a failed delete is dropped.
func (s *Service) claim(ctx context.Context, entries []*taken) []*taken {
	won := make([]*taken, len(entries))
	var wg sync.WaitGroup

	for i, t := range entries {
		wg.Add(1)
		go func(idx int, t *taken) {
			defer wg.Done()

			err := s.store.Delete(ctx, t.artifact.ID)
			switch {
			case err == nil:
				won[idx] = t
			case errors.Is(err, apperr.NotFound):
				s.logger.Debug("artifact taken concurrently, dropped from bundle", "artifact_id", t.artifact.ID)
			default:
				s.logger.Warn("failed to claim artifact, dropped from bundle", "artifact_id", t.artifact.ID, "err", err)
			}
		}(i, t)
	}

	wg.Wait()
	return compact(won)
}

func compact(in []*taken) []*taken {
	var out []*taken
	for _, t := range in {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func buildZip(entries []*taken, naming Naming) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	used := make(map[string]bool, len(entries))
	for _, t := range entries {
		name := uniqueName(naming.nameOf(t.artifact), used)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: t.artifact.CreatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := w.Write(t.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// uniqueName returns name, or name with " (n)" inserted before the extension
// when an entry of that name was already written.
func uniqueName(name string, used map[string]bool) string {
	key := strings.ToLower(name)
	if !used[key] {
		used[key] = true
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		key := strings.ToLower(candidate)
		if !used[key] {
			used[key] = true
			return candidate
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
