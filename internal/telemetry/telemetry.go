// Package telemetry holds the prometheus instruments shared by the RM, TM
// and WC services. Each process owns its own registry so tests can build
// metrics repeatedly without duplicate-registration panics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrument set of one service process. A nil *Metrics is
// valid and records nothing, so core components can run without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	txnOutcomes    *prometheus.CounterVec
	lockConflicts  prometheus.Counter
	pageIO         *prometheus.CounterVec
}

// New builds and registers the instrument set for service.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "traveldb_http_requests_total",
			Help:        "HTTP requests handled, by route, method and status code.",
			ConstLabels: constLabels,
		}, []string{"route", "method", "code"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "traveldb_http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"route", "method"}),
		txnOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "traveldb_txn_outcomes_total",
			Help:        "Terminal transaction outcomes observed by this service.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "traveldb_lock_conflicts_total",
			Help:        "Row lock acquisition failures during prepare.",
			ConstLabels: constLabels,
		}),
		pageIO: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "traveldb_page_io_total",
			Help:        "Pages moved between the RM and its backing store.",
			ConstLabels: constLabels,
		}, []string{"direction"}),
	}
	reg.MustRegister(m.requests, m.requestSeconds, m.txnOutcomes, m.lockConflicts, m.pageIO)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.requestSeconds.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// TxnOutcome counts a terminal transaction outcome (COMMITTED, ABORTED, ...).
func (m *Metrics) TxnOutcome(outcome string) {
	if m == nil {
		return
	}
	m.txnOutcomes.WithLabelValues(outcome).Inc()
}

// LockConflict counts a try-lock failure during prepare.
func (m *Metrics) LockConflict() {
	if m == nil {
		return
	}
	m.lockConflicts.Inc()
}

// PageIn counts a page load from the backing store.
func (m *Metrics) PageIn() {
	if m == nil {
		return
	}
	m.pageIO.WithLabelValues("in").Inc()
}

// PageOut counts a page write to the backing store.
func (m *Metrics) PageOut() {
	if m == nil {
		return
	}
	m.pageIO.WithLabelValues("out").Inc()
}
