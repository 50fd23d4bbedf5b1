package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/maneesh/pdfsqueeze/internal/logging"
)

// Pinger is a dependency the service cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and, with ?ready=1, dependency readiness.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *logging.Logger
}

// NewHealthHandler creates a health handler over the named dependencies.
func NewHealthHandler(deps map[string]Pinger, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger.Component("handlers")}
}

// ServeHTTP handles GET /health
func (hh *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("ready") == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(hh.deps))
	for name, dep := range hh.deps {
		if err := dep.Ping(ctx); err != nil {
			hh.logger.Warn("readiness check failed", "dependency", name, "err", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
