package handlers

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/metrics"
	"github.com/maneesh/pdfsqueeze/internal/ratelimit"
)

// Admitter decides whether a client may make another request.
type Admitter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// RateLimit rejects clients over their budget with 429 before the wrapped
// handler runs.
func RateLimit(limiter Admitter, trustProxy bool, m metrics.Metrics, logger *logging.Logger) mux.MiddlewareFunc {
	if m == nil {
		m = metrics.Noop{}
	}
	logger = logger.Component("handlers")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := clientIdentity(r, trustProxy)

			decision, err := limiter.Admit(r.Context(), identity)
			if err != nil {
				logger.Warn("rate limit check failed", "identity", identity, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				m.IncRateLimited()
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeError(w, r, logger, apperr.New(apperr.KindRateLimited, "Too many requests, please try again later", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Deadline bounds the handling of a request by d.
func Deadline(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIdentity is the address requests are counted against. The first
// X-Forwarded-For hop is only honored behind a trusted proxy.
func clientIdentity(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
