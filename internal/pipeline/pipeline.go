// Package pipeline compresses a batch of uploads and stores the results as
// temporary artifacts.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/compress"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/metrics"
	"github.com/maneesh/pdfsqueeze/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-pipeline")

// Input is one uploaded file.
type Input struct {
	Name string
	Data []byte
}

// Result is one stored, compressed file.
type Result struct {
	Artifact           *models.Artifact
	Quality            int
	ImagesRecompressed int
}

// Compressor is the document transform.
type Compressor interface {
	Compress(ctx context.Context, name string, input []byte, opts compress.Options) (*compress.Result, error)
}

// ArtifactStore receives the compressed outputs.
type ArtifactStore interface {
	Put(ctx context.Context, blob []byte, meta models.ArtifactMeta) (*models.Artifact, error)
	Delete(ctx context.Context, id string) error
}

// Pipeline runs the compressor over every input of a request.
type Pipeline struct {
	compressor Compressor
	store      ArtifactStore
	metrics    metrics.Metrics
	logger     *logging.Logger
}

// New creates a pipeline.
func New(compressor Compressor, store ArtifactStore, m metrics.Metrics, logger *logging.Logger) *Pipeline {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Pipeline{
		compressor: compressor,
		store:      store,
		metrics:    m,
		logger:     logger.Component("pipeline"),
	}
}

// Run compresses every input concurrently and returns the results in input
// order. The first failure aborts the batch: remaining work is cancelled and
// artifacts already stored for the batch are deleted.
func (p *Pipeline) Run(ctx context.Context, inputs []Input, opts compress.Options) ([]*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.Int("file_count", len(inputs)),
		),
	)
	defer span.End()

	if len(inputs) == 0 {
		return nil, apperr.New(apperr.KindValidation, "No files uploaded", nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Result, len(inputs))
	var wg sync.WaitGroup
	errChan := make(chan error, len(inputs))

	for i, in := range inputs {
		wg.Add(1)
		go func(idx int, in Input) {
			defer wg.Done()

			res, err := p.processFile(ctx, idx, in, opts)
			if err != nil {
				errChan <- err
				cancel()
				return
			}
			results[idx] = res
		}(i, in)
	}

	wg.Wait()
	close(errChan)

	if len(errChan) > 0 {
		err := <-errChan
		span.RecordError(err)
		p.discard(context.WithoutCancel(ctx), results)
		p.metrics.IncCompressions("failed")
		return nil, err
	}

	span.SetAttributes(attribute.Bool("all_files_stored", true))
	return results, nil
}

func (p *Pipeline) processFile(ctx context.Context, idx int, in Input, opts compress.Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("compress_file_%d", idx),
		trace.WithAttributes(
			attribute.Int("file_index", idx),
			attribute.String("file_name", in.Name),
			attribute.Int("size_bytes", len(in.Data)),
		),
	)
	defer span.End()

	out, err := p.compressor.Compress(ctx, in.Name, in.Data, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	a, err := p.store.Put(ctx, out.Data, models.ArtifactMeta{
		OriginalName: in.Name,
		FileName:     compress.CompressedName(in.Name),
		OriginalSize: out.OriginalSize,
		TargetMet:    out.TargetMet,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	p.metrics.IncCompressions("ok")
	p.metrics.AddBytes(out.OriginalSize, out.CompressedSize)
	span.SetAttributes(attribute.String("artifact_id", a.ID))

	return &Result{
		Artifact:           a,
		Quality:            out.Quality,
		ImagesRecompressed: out.ImagesRecompressed,
	}, nil
}

// discard deletes whatever the aborted batch already stored.
func (p *Pipeline) discard(ctx context.Context, results []*Result) {
	for _, res := range results {
		if res == nil {
			continue
		}
		if err := p.store.Delete(ctx, res.Artifact.ID); err != nil {
			p.logger.Warn("failed to discard artifact of aborted batch", "artifact_id", res.Artifact.ID, "err", err)
		}
	}
}
