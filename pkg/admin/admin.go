// Package admin implements the small HTTP admin surface exposed by the
// proxy binary: health, effective configuration, and Prometheus metrics.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used across the request counter and duration histogram.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeExpired    = "expired"
	OutcomeNoStore    = "no_store"
	OutcomeBadGateway = "bad_gateway"
	OutcomeTunnel     = "tunnel"
)

// Metrics wires the counters and histograms exposed on /metrics. It
// replaces the teacher's hand-rolled Prometheus-text-format writer with
// the real client library it was informally imitating.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	originErrors    prometheus.Counter
	cacheErrors     prometheus.Counter
	inflight        prometheus.Gauge
	cacheSize       prometheus.GaugeFunc
}

// NewMetrics builds and registers the metric family against reg. sizeFn
// is polled by the cache_entries gauge; pass a func that reads the live
// cache store's size under its own lock. sizeFn may be nil.
func NewMetrics(reg *prometheus.Registry, sizeFn func() int) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cacherelay",
			Name:      "requests_total",
			Help:      "Total client requests handled, by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cacherelay",
			Name:      "request_duration_seconds",
			Help:      "Request handling duration by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		originErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cacherelay",
			Name:      "origin_errors_total",
			Help:      "Failed upstream connects, reads or writes.",
		}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cacherelay",
			Name:      "cache_errors_total",
			Help:      "Failures constructing or storing a cache entry.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cacherelay",
			Name:      "inflight_connections",
			Help:      "Connections currently owned by a worker.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.originErrors, m.cacheErrors, m.inflight)

	if sizeFn != nil {
		m.cacheSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "cacherelay",
			Name:      "cache_entries",
			Help:      "Current number of entries held in the response cache.",
		}, func() float64 { return float64(sizeFn()) })
		reg.MustRegister(m.cacheSize)
	}
	return m
}

// ObserveRequest records one completed request under the given outcome.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncOriginError() { m.originErrors.Inc() }
func (m *Metrics) IncCacheError()  { m.cacheErrors.Inc() }
func (m *Metrics) InflightAdd()    { m.inflight.Inc() }
func (m *Metrics) InflightDone()   { m.inflight.Dec() }

// Handler returns the promhttp handler bound to reg, for mounting at
// /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HandleHealth is a liveness probe: 200 for as long as the process is up
// and this handler is registered.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleVarz writes the effective configuration as JSON. This drops the
// teacher's HTML in-flight table (/statusz): nothing in this proxy's
// scope needs a human dashboard, and /metrics's inflight_connections
// gauge already covers the same signal.
func HandleVarz(cfg any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg)
	}
}
