package handlers

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maneesh/pdfsqueeze/internal/compress"
	"github.com/maneesh/pdfsqueeze/internal/delivery"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pdfsqueeze-handlers")

// Runner compresses a batch of uploads into stored artifacts.
type Runner interface {
	Run(ctx context.Context, inputs []pipeline.Input, opts compress.Options) ([]*pipeline.Result, error)
}

// Deliverer hands stored artifacts to the client.
type Deliverer interface {
	DeliverOne(ctx context.Context, id string, naming delivery.Naming) (*delivery.Payload, error)
	DeliverBundle(ctx context.Context, ids []string, naming delivery.Naming) (*delivery.Payload, error)
}

// CompressHandler handles compression requests
type CompressHandler struct {
	pipeline  Runner
	delivery  Deliverer
	ttl       time.Duration
	maxFiles  int
	maxUpload int64
	logger    *logging.Logger
}

// NewCompressHandler creates a new compress handler
func NewCompressHandler(runner Runner, deliverer Deliverer, ttl time.Duration, maxFiles int, maxUpload int64, logger *logging.Logger) *CompressHandler {
	return &CompressHandler{
		pipeline:  runner,
		delivery:  deliverer,
		ttl:       ttl,
		maxFiles:  maxFiles,
		maxUpload: maxUpload,
		logger:    logger.Component("handlers"),
	}
}

// ManifestEntry describes one stored artifact.
type ManifestEntry struct {
	ID             string    `json:"id"`
	OriginalName   string    `json:"originalName"`
	FileName       string    `json:"fileName"`
	Size           int64     `json:"size"`
	CompressedSize int64     `json:"compressedSize"`
	TargetMet      bool      `json:"targetMet"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Manifest is returned when artifacts are kept for a later download.
type Manifest struct {
	Files []ManifestEntry `json:"files"`
}

// ServeHTTP handles POST /compress. A single file comes back as the
// compressed PDF and asZip=true bundles every output into one ZIP; both
// consume the artifacts. Two or more files without asZip, or any request
// with Accept: application/json, get a JSON Manifest instead and the
// artifacts stay retrievable through /download until they expire.
func (ch *CompressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "compress_request",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	r = r.WithContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, ch.maxUpload)
	form, err := parseCompressForm(r, ch.maxFiles)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		writeError(w, r, ch.logger, err)
		return
	}

	span.SetAttributes(
		attribute.Int("file_count", len(form.Files)),
		attribute.Float64("target_mb", form.TargetMB),
		attribute.Bool("as_zip", form.AsZip),
		attribute.Bool("preserve_metadata", form.PreserveMetadata),
	)

	results, err := ch.pipeline.Run(ctx, form.Files, form.Options())
	if err != nil {
		writeError(w, r, ch.logger, err)
		return
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Artifact.ID
	}

	switch {
	case wantsJSON(r):
		ch.writeManifest(w, results)
	case len(results) == 1:
		payload, err := ch.delivery.DeliverOne(ctx, ids[0], delivery.ByCompressedName)
		if err != nil {
			writeError(w, r, ch.logger, err)
			return
		}
		writePayload(w, payload)
	case form.AsZip:
		payload, err := ch.delivery.DeliverBundle(ctx, ids, delivery.ByCompressedName)
		if err != nil {
			writeError(w, r, ch.logger, err)
			return
		}
		writePayload(w, payload)
	default:
		ch.writeManifest(w, results)
	}
}

func (ch *CompressHandler) writeManifest(w http.ResponseWriter, results []*pipeline.Result) {
	m := Manifest{Files: make([]ManifestEntry, len(results))}
	for i, res := range results {
		a := res.Artifact
		m.Files[i] = ManifestEntry{
			ID:             a.ID,
			OriginalName:   a.OriginalName,
			FileName:       a.FileName,
			Size:           a.Size,
			CompressedSize: a.CompressedSize,
			TargetMet:      a.TargetMet,
			ExpiresAt:      a.ExpiresAt(ch.ttl),
		}
	}
	writeJSON(w, http.StatusOK, m)
}

func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

// writePayload streams a delivered file or bundle.
func writePayload(w http.ResponseWriter, p *delivery.Payload) {
	h := w.Header()
	h.Set("Content-Type", p.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": p.FileName}))
	h.Set("Content-Length", strconv.Itoa(len(p.Data)))

	if len(p.Artifacts) == 1 {
		a := p.Artifacts[0]
		h.Set("X-Artifact-Id", a.ID)
		h.Set("X-Original-Size", strconv.FormatInt(a.Size, 10))
		h.Set("X-Compressed-Size", strconv.FormatInt(a.CompressedSize, 10))
	}
	targetMet := true
	for _, a := range p.Artifacts {
		targetMet = targetMet && a.TargetMet
	}
	h.Set("X-Target-Met", strconv.FormatBool(targetMet))

	w.WriteHeader(http.StatusOK)
	w.Write(p.Data)
}
