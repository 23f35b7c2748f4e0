// Package selfmetrics exposes metrics about the exporter itself on a registry
// separate from the exported SonarQube gauges.
package selfmetrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every self metric.
const Namespace = "sonar_exporter"

// Metrics records scrape outcomes and process usage.
type Metrics struct {
	registry *prometheus.Registry

	scrapes     *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
	enabled     prometheus.Gauge
	rejected    *prometheus.CounterVec
}

// New builds the self metrics registry. Process metrics are skipped when the
// own process cannot be inspected.
// Params: logger for degraded process metrics; nil discards.
// Returns: metrics set or registration error.
func New(logger *slog.Logger) (*Metrics, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scrapes_total",
			Help:      "Scrapes served, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Duration of full scrape pipelines.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful scrape.",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "enabled_metrics",
			Help:      "Number of SonarQube metrics enabled in the last scrape.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejected_measures_total",
			Help:      "Measures skipped because their value was not numeric.",
		}, []string{"metric"}),
	}

	m.registry.MustRegister(m.scrapes, m.duration, m.lastSuccess, m.enabled, m.rejected)
	m.scrapes.WithLabelValues("success")
	m.scrapes.WithLabelValues("failure")

	proc, err := newProcessCollector(Namespace, logger)
	if err != nil {
		logger.Warn("process metrics disabled", slog.String("error", err.Error()))
		return m, nil
	}
	if err := m.registry.Register(proc); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	return m, nil
}

// ScrapeFinished records one scrape.
// Params: duration scrape wall time; enabled metric count; err scrape outcome.
// Returns: none.
func (m *Metrics) ScrapeFinished(duration time.Duration, enabled int, err error) {
	m.duration.Observe(duration.Seconds())
	m.enabled.Set(float64(enabled))
	if err != nil {
		m.scrapes.WithLabelValues("failure").Inc()
		return
	}
	m.scrapes.WithLabelValues("success").Inc()
	m.lastSuccess.SetToCurrentTime()
}

// MeasureRejected counts one non-numeric measure.
// Params: metricKey upstream key.
// Returns: none.
func (m *Metrics) MeasureRejected(metricKey string) {
	m.rejected.WithLabelValues(metricKey).Inc()
}

// Registry returns the underlying registry.
// Params: none.
// Returns: self metrics registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in any format the client negotiates.
// Params: none.
// Returns: promhttp handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		MaxRequestsInFlight: 4,
	})
}
