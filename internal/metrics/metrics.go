// Package metrics exposes prometheus collectors for served requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dirserve"

// Metrics holds the collectors registered for one server instance.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	responseBytes prometheus.Counter
	notModified   prometheus.Counter
	gatherer      prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a fresh registry, which
// keeps tests independent of the global default registerer.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "The total number of dispatched requests by status code and outcome.",
		}, []string{"code", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),
		responseBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "The total number of body bytes sent for listings and files.",
		}),
		notModified: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "not_modified_total",
			Help:      "The total number of conditional requests answered with 304.",
		}),
		gatherer: reg,
	}
}

// ObserveResult records one dispatcher outcome.
func (m *Metrics) ObserveResult(outcome string, status int, bodyBytes int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(status), outcome).Inc()
	if bodyBytes > 0 {
		m.responseBytes.Add(float64(bodyBytes))
	}
	if status == http.StatusNotModified {
		m.notModified.Inc()
	}
}

// ObserveDuration records the wall time of one HTTP exchange.
func (m *Metrics) ObserveDuration(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registered collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
