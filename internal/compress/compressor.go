// Package compress rewrites PDF documents into smaller equivalents.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-compress")

// qualityLadder lists the JPEG qualities tried, best first, when a result
// misses its target size.
var qualityLadder = []int{75, 60, 45, 30}

var disableConfigDir sync.Once

// Options are the per request knobs.
type Options struct {
	// TargetSize in bytes. Zero means no target.
	TargetSize       int64
	Password         string
	PreserveMetadata bool
}

// Result is the outcome of compressing one document.
type Result struct {
	Data               []byte
	OriginalSize       int64
	CompressedSize     int64
	TargetMet          bool
	Quality            int
	ImagesRecompressed int
}

// Compressor turns an uploaded PDF into a smaller one.
type Compressor struct {
	quality           int
	maxImageDimension int
	logger            *logging.Logger
}

// New creates a compressor. quality is the first JPEG quality tried and
// maxImageDimension bounds the longest side of re-encoded images.
func New(quality, maxImageDimension int, logger *logging.Logger) *Compressor {
	// pdfcpu would otherwise write a config directory under the user's home.
	disableConfigDir.Do(api.DisableConfigDir)

	if quality <= 0 || quality > 100 {
		quality = qualityLadder[0]
	}
	return &Compressor{
		quality:           quality,
		maxImageDimension: maxImageDimension,
		logger:            logger.Component("compress"),
	}
}

func (c *Compressor) ladder() []int {
	steps := []int{c.quality}
	for _, q := range qualityLadder {
		if q < c.quality {
			steps = append(steps, q)
		}
	}
	return steps
}

// Compress produces the compressed form of input. The target size is a hint:
// a missed target is reported in the result, never returned as an error.
func (c *Compressor) Compress(ctx context.Context, name string, input []byte, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "compress.document",
		trace.WithAttributes(
			attribute.String("file_name", name),
			attribute.Int("size_bytes", len(input)),
			attribute.Int64("target_bytes", opts.TargetSize),
			attribute.Bool("encrypt", opts.Password != ""),
			attribute.Bool("preserve_metadata", opts.PreserveMetadata),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, apperr.ForFile(apperr.KindTimeout, name, "Request timed out", err)
	}
	if !mimetype.Detect(input).Is("application/pdf") {
		return nil, apperr.ForFile(apperr.KindInvalidDocument, name, "File is not a PDF", nil)
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: apperr.ForFile(apperr.KindTransformFailure, name, "Failed to compress PDF", fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := c.run(ctx, name, input, opts)
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		// pdfcpu cannot be interrupted; run finishes in the background and done is buffered.
		span.RecordError(ctx.Err())
		return nil, apperr.ForFile(apperr.KindTimeout, name, "Request timed out", ctx.Err())
	case o := <-done:
		if errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled) {
			span.RecordError(o.err)
			return nil, apperr.ForFile(apperr.KindTimeout, name, "Request timed out", o.err)
		}
		if o.err != nil {
			span.RecordError(o.err)
			return nil, o.err
		}
		span.SetAttributes(
			attribute.Int64("compressed_bytes", o.res.CompressedSize),
			attribute.Bool("target_met", o.res.TargetMet),
			attribute.Int("quality", o.res.Quality),
		)
		c.logger.Info("compressed document",
			"file", name,
			"from", humanize.Bytes(uint64(o.res.OriginalSize)),
			"to", humanize.Bytes(uint64(o.res.CompressedSize)),
			"target_met", o.res.TargetMet,
			"images", o.res.ImagesRecompressed,
		)
		return o.res, nil
	}
}

func (c *Compressor) run(ctx context.Context, name string, input []byte, opts Options) (*Result, error) {
	var best *Result

	for _, quality := range c.ladder() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		data, images, err := c.transform(name, input, quality, opts)
		if err != nil {
			if best == nil {
				return nil, err
			}
			c.logger.Warn("retry at lower quality failed", "file", name, "quality", quality, "err", err)
			break
		}

		if best == nil || len(data) < len(best.Data) {
			best = &Result{Data: data, Quality: quality, ImagesRecompressed: images}
		}

		// Lower qualities only change image streams.
		if opts.TargetSize <= 0 || int64(len(best.Data)) <= opts.TargetSize || images == 0 {
			break
		}
		c.logger.Debug("target missed, retrying", "file", name, "quality", quality, "size", humanize.Bytes(uint64(len(best.Data))))
	}

	// Rewriting gained nothing and nothing else was asked for.
	if opts.Password == "" && opts.PreserveMetadata && len(best.Data) >= len(input) {
		best.Data = input
	}

	best.OriginalSize = int64(len(input))
	best.CompressedSize = int64(len(best.Data))
	best.TargetMet = opts.TargetSize <= 0 || best.CompressedSize <= opts.TargetSize
	return best, nil
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = true
	conf.WriteXRefStream = true
	conf.Cmd = model.OPTIMIZE
	return conf
}

// transform runs one read, rewrite, write cycle at the given JPEG quality.
func (c *Compressor) transform(name string, input []byte, quality int, opts Options) ([]byte, int, error) {
	pdfCtx, err := api.ReadContext(bytes.NewReader(input), newConfiguration())
	if err != nil {
		return nil, 0, apperr.ForFile(apperr.KindInvalidDocument, name, "Invalid or corrupted PDF", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, 0, apperr.ForFile(apperr.KindInvalidDocument, name, "Invalid or corrupted PDF", err)
	}

	images := recompressImages(pdfCtx, quality, c.maxImageDimension)

	if !opts.PreserveMetadata {
		if err := stripMetadata(pdfCtx); err != nil {
			return nil, 0, apperr.ForFile(apperr.KindTransformFailure, name, "Failed to compress PDF", err)
		}
	}

	if err := api.OptimizeContext(pdfCtx); err != nil {
		return nil, 0, apperr.ForFile(apperr.KindTransformFailure, name, "Failed to compress PDF", err)
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pdfCtx, &buf); err != nil {
		return nil, 0, apperr.ForFile(apperr.KindTransformFailure, name, "Failed to compress PDF", err)
	}

	out := buf.Bytes()
	if opts.Password != "" {
		out, err = encrypt(out, opts.Password)
		if err != nil {
			return nil, 0, apperr.ForFile(apperr.KindTransformFailure, name, "Failed to encrypt PDF", err)
		}
	}
	return out, images, nil
}

// encrypt protects data with AES-256 using password for both the user and
// the owner password.
func encrypt(data []byte, password string) ([]byte, error) {
	conf := model.NewAESConfiguration(password, password, 256)
	conf.ValidationMode = model.ValidationRelaxed

	var buf bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(data), &buf, conf); err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return buf.Bytes(), nil
}
