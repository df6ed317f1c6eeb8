package bronze

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-run Prometheus collectors. Each Runner owns its own
// registry so tests and repeated runs never collide on registration.
type Metrics struct {
	// Files is labelled by stage and outcome (ingested, skipped, processed, errored).
	Files *prometheus.CounterVec
	// Rows is labelled by versioning outcome (inserted, skipped, superseded).
	Rows            *prometheus.CounterVec
	RecordsDropped  prometheus.Counter
	RecordErrors    prometheus.Counter
	PayloadWarnings prometheus.Counter
	FileDuration    *prometheus.HistogramVec
	LastRun         *prometheus.GaugeVec

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bronze",
			Name:      "files_total",
			Help:      "Files handled by stage and outcome.",
		}, []string{"stage", "outcome"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bronze",
			Name:      "rows_total",
			Help:      "Versioning outcomes for parsed records.",
		}, []string{"outcome"}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bronze",
			Name:      "records_dropped_total",
			Help:      "Records without a usable natural key or reported date.",
		}),
		RecordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bronze",
			Name:      "record_errors_total",
			Help:      "Records that failed to decode or persist.",
		}),
		PayloadWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bronze",
			Name:      "payload_warnings_total",
			Help:      "Malformed payload lines skipped while parsing.",
		}),
		FileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bronze",
			Name:      "file_duration_seconds",
			Help:      "Time spent on one file.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"stage"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bronze",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run of a stage finished.",
		}, []string{"stage"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Files,
		m.Rows,
		m.RecordsDropped,
		m.RecordErrors,
		m.PayloadWarnings,
		m.FileDuration,
		m.LastRun,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The helpers below accept a nil receiver so components work without metrics.

func (m *Metrics) file(stage string, outcome string) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) row(o Outcome) {
	if m == nil {
		return
	}
	m.Rows.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.RecordsDropped.Inc()
}

func (m *Metrics) recordError() {
	if m == nil {
		return
	}
	m.RecordErrors.Inc()
}

func (m *Metrics) warnings(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PayloadWarnings.Add(float64(n))
}

func (m *Metrics) observeFile(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.FileDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) finished(stage string, at time.Time) {
	if m == nil {
		return
	}
	m.LastRun.WithLabelValues(stage).Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
