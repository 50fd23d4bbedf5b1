package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/delivery"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxBundleRequest bounds the JSON body of POST /download.
const maxBundleRequest = 64 << 10

// DownloadHandler serves artifacts that were kept after compression
type DownloadHandler struct {
	delivery Deliverer
	logger   *logging.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(deliverer Deliverer, logger *logging.Logger) *DownloadHandler {
	return &DownloadHandler{
		delivery: deliverer,
		logger:   logger.Component("handlers"),
	}
}

// BundleRequest is the body of POST /download.
type BundleRequest struct {
	FileIDs []string `json:"fileIds"`
}

// ServeOne handles GET /download/{id}
func (dh *DownloadHandler) ServeOne(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "download_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	r = r.WithContext(ctx)

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("artifact_id", id))

	payload, err := dh.delivery.DeliverOne(ctx, id, delivery.ByOriginalName)
	if err != nil {
		writeError(w, r, dh.logger, err)
		return
	}

	dh.logger.Debug("artifact downloaded", "artifact_id", id)
	writePayload(w, payload)
}

// ServeBundle handles POST /download
func (dh *DownloadHandler) ServeBundle(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "download_bundle",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req BundleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBundleRequest)).Decode(&req); err != nil {
		writeError(w, r, dh.logger, apperr.New(apperr.KindValidation, "Invalid JSON body", err))
		return
	}
	if len(req.FileIDs) == 0 {
		writeError(w, r, dh.logger, apperr.New(apperr.KindValidation, "fileIds must be a non-empty list", nil))
		return
	}
	span.SetAttributes(attribute.Int("requested", len(req.FileIDs)))

	payload, err := dh.delivery.DeliverBundle(ctx, req.FileIDs, delivery.ByOriginalName)
	if err != nil {
		writeError(w, r, dh.logger, err)
		return
	}

	writePayload(w, payload)
}
