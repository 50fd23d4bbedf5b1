package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes collects the handlers served by the API.
type Routes struct {
	Compress *CompressHandler
	Download *DownloadHandler
	Health   http.Handler
	Metrics  http.Handler

	// CompressMiddleware wraps POST /compress only, outermost first.
	CompressMiddleware []mux.MiddlewareFunc
}

// NewRouter wires the routes onto a gorilla/mux router.
func NewRouter(rt Routes) *mux.Router {
	router := mux.NewRouter()

	// Health check and metrics (no tracing needed)
	if rt.Health != nil {
		router.Handle("/health", rt.Health).Methods(http.MethodGet)
	}
	if rt.Metrics != nil {
		router.Handle("/metrics", rt.Metrics).Methods(http.MethodGet)
	}

	var compressHandler http.Handler = rt.Compress
	for i := len(rt.CompressMiddleware) - 1; i >= 0; i-- {
		compressHandler = rt.CompressMiddleware[i](compressHandler)
	}

	router.Handle("/compress", otelhttp.NewHandler(compressHandler, "POST /compress")).Methods(http.MethodPost)
	router.Handle("/download/{id}", otelhttp.NewHandler(http.HandlerFunc(rt.Download.ServeOne), "GET /download/{id}")).Methods(http.MethodGet)
	router.Handle("/download", otelhttp.NewHandler(http.HandlerFunc(rt.Download.ServeBundle), "POST /download")).Methods(http.MethodPost)

	return router
}
