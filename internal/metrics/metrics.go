package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records service level counters.
type Metrics interface {
	IncCompressions(status string)
	AddBytes(originalSize, compressedSize int64)
	IncRateLimited()
	IncDeliveries(kind string)
	IncExpired()
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncCompressions(string) {}
func (Noop) AddBytes(int64, int64)  {}
func (Noop) IncRateLimited()        {}
func (Noop) IncDeliveries(string)   {}
func (Noop) IncExpired()            {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	compressions *prometheus.CounterVec
	bytesIn      prometheus.Counter
	bytesOut     prometheus.Counter
	rateLimited  prometheus.Counter
	deliveries   *prometheus.CounterVec
	expired      prometheus.Counter
}

// NewProm registers the collectors with reg.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		compressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressions_total",
			Help:      "Compressed files by outcome",
		}, []string{"status"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes of uploaded PDFs that were compressed",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes of compressed PDFs produced",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Artifacts handed to clients by delivery kind",
		}, []string{"kind"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_artifacts_total",
			Help:      "Artifacts removed by the expiry sweeper",
		}),
	}
	reg.MustRegister(p.compressions, p.bytesIn, p.bytesOut, p.rateLimited, p.deliveries, p.expired)
	return p
}

func (p *Prom) IncCompressions(status string) {
	p.compressions.WithLabelValues(status).Inc()
}

func (p *Prom) AddBytes(originalSize, compressedSize int64) {
	p.bytesIn.Add(float64(originalSize))
	p.bytesOut.Add(float64(compressedSize))
}

func (p *Prom) IncRateLimited() {
	p.rateLimited.Inc()
}

func (p *Prom) IncDeliveries(kind string) {
	p.deliveries.WithLabelValues(kind).Inc()
}

func (p *Prom) IncExpired() {
	p.expired.Inc()
}

// Handler returns an HTTP handler for /metrics backed by gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
