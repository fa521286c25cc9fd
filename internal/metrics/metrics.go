// Package metrics holds the Prometheus collectors for ingestion and the map
// presenter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/district-airquality/internal/weather"
)

// Metrics bundles every collector. Build one per process with New.
type Metrics struct {
	registry *prometheus.Registry

	fetchOutcomes  *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	readingsTotal  prometheus.Counter
	filesWritten   prometheus.Counter
	lastRunSuccess prometheus.Gauge

	cacheLookups   *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetchOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airquality_fetch_outcomes_total",
				Help: "Per-location fetch outcomes by result and failure kind",
			},
			[]string{"result", "kind"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airquality_runs_total",
				Help: "Ingestion runs by status",
			},
			[]string{"status"}, // success, failed
		),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "airquality_run_duration_seconds",
			Help:    "Wall time of one ingestion run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}),
		readingsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "airquality_readings_total",
			Help: "Readings produced by ingestion runs",
		}),
		filesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "airquality_partition_files_written_total",
			Help: "Parquet partition files written",
		}),
		lastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_last_run_success_timestamp_seconds",
			Help: "Unix time of the last successful ingestion run",
		}),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airquality_map_cache_lookups_total",
				Help: "Presenter dataset cache lookups",
			},
			[]string{"result"}, // hit, miss
		),
		renderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "airquality_map_render_duration_seconds",
				Help:    "Time to build one map frame",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"level"},
		),
	}
}

// ObserveOutcome counts one per-location fetch result.
func (m *Metrics) ObserveOutcome(o weather.Outcome) {
	if o.OK() {
		m.fetchOutcomes.WithLabelValues("success", "").Inc()
		return
	}
	m.fetchOutcomes.WithLabelValues("failure", string(weather.KindOf(o.Err))).Inc()
}

// ObserveRun records a finished ingestion run.
func (m *Metrics) ObserveRun(r weather.RunReport, err error) {
	if !r.Finished.IsZero() && !r.Started.IsZero() {
		m.runDuration.Observe(r.Finished.Sub(r.Started).Seconds())
	}
	m.readingsTotal.Add(float64(r.Readings))
	m.filesWritten.Add(float64(len(r.Files)))
	if err != nil {
		m.runsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.runsTotal.WithLabelValues("success").Inc()
	m.lastRunSuccess.Set(float64(r.Finished.Unix()))
}

// ObserveCache counts a presenter cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveRender records how long building a frame for level took.
func (m *Metrics) ObserveRender(level string, d time.Duration) {
	m.renderDuration.WithLabelValues(level).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
