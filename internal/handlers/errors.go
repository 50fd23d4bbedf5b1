package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"go.opentelemetry.io/otel/trace"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError converts err into its HTTP status and a client safe message.
// Causes are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()

	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", kind, "err", err)
	} else {
		logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", kind, "err", err)
	}

	writeJSON(w, status, ErrorResponse{Error: apperr.Message(err), Code: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
