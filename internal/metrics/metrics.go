// Package metrics owns the service's private Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomeSettled    = "settled"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

const defaultNamespace = "positionview"

// Metrics collects refresh-cycle, contract-call and HTTP metrics.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	records       *prometheus.GaugeVec
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	reqDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry. An empty namespace
// selects "positionview".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"chain_id", "outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Wall time of refresh cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain_id"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_records",
			Help:      "Records in the latest settled snapshot.",
		}, []string{"chain_id", "owner"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_calls_total",
			Help:      "Contract read calls by method and classified outcome.",
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "contract_call_duration_seconds",
			Help:      "Latency of contract read calls.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(m.cycles, m.cycleDuration, m.records, m.calls, m.callDuration, m.requests, m.reqDuration)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCycle records one finished refresh cycle.
func (m *Metrics) ObserveCycle(chainID uint64, outcome string, elapsed time.Duration) {
	id := strconv.FormatUint(chainID, 10)
	m.cycles.WithLabelValues(id, outcome).Inc()
	m.cycleDuration.WithLabelValues(id).Observe(elapsed.Seconds())
}

// SetRecords records the size of the latest snapshot of owner.
func (m *Metrics) SetRecords(chainID uint64, owner string, n int) {
	m.records.WithLabelValues(strconv.FormatUint(chainID, 10), owner).Set(float64(n))
}

// ObserveCall matches chain.CallObserver.
func (m *Metrics) ObserveCall(method, outcome string, elapsed time.Duration) {
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.reqDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
