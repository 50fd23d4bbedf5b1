package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/compress"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/pdftest"
	"github.com/maneesh/pdfsqueeze/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"validation", apperr.New(apperr.KindValidation, "targetSize is required", nil), http.StatusBadRequest, "VALIDATION_ERROR", "targetSize is required"},
		{"invalid document", apperr.ForFile(apperr.KindInvalidDocument, "x.pdf", "", nil), http.StatusBadRequest, "INVALID_DOCUMENT", "Invalid or corrupted PDF: x.pdf"},
		{"not found", apperr.New(apperr.KindNotFound, "", nil), http.StatusNotFound, "NOT_FOUND", "File not found"},
		{"timeout", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"},
		{"storage", apperr.New(apperr.KindStorageFailure, "", errors.New("disk full")), http.StatusInternalServerError, "STORAGE_FAILURE", "Failed to store compressed file"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "TRANSFORM_FAILURE", "Failed to compress PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), logging.Discard(), tt.err)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.msg, body.Error)
			assert.NotContains(t, rec.Body.String(), "disk full")
		})
	}
}

type stubRunner struct {
	err error
}

func (s stubRunner) Run(context.Context, []pipeline.Input, compress.Options) ([]*pipeline.Result, error) {
	return nil, s.err
}

func TestCompressTimeoutIs504(t *testing.T) {
	h := NewCompressHandler(stubRunner{err: apperr.New(apperr.KindTimeout, "", context.DeadlineExceeded)}, nil, time.Hour, 3, 50<<20, logging.Discard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, []upload{{name: "slow.pdf", data: pdftest.Simple()}}, map[string]string{
		"targetSize": "1",
	}))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "TIMEOUT", decodeError(t, rec).Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthReadiness(t *testing.T) {
	healthy := NewHealthHandler(map[string]Pinger{"mysql": pinger{}, "redis": pinger{}}, logging.Discard())
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?ready=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK","checks":{"mysql":"ok","redis":"ok"}}`, rec.Body.String())

	degraded := NewHealthHandler(map[string]Pinger{"mysql": pinger{}, "redis": pinger{err: errors.New("refused")}}, logging.Discard())
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?ready=1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"Service Unavailable","checks":{"mysql":"ok","redis":"unavailable"}}`, rec.Body.String())
}
