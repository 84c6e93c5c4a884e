// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRunsTotal       = "cloudproof_ingestion_runs_total"
	MetricRunDuration     = "cloudproof_ingestion_run_duration_seconds"
	MetricRecordsTotal    = "cloudproof_ingestion_records_total"
	MetricFilesTotal      = "cloudproof_ingestion_files_total"
	MetricActivitiesTotal = "cloudproof_ingestion_activities_total"
)

// Label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	FileRead    = "read"
	FileSkipped = "skipped"

	StageAdmitted  = "admitted"
	StagePersisted = "persisted"

	OutcomeNormalized = "normalized"
)

// Metrics contains the Prometheus collectors of the pipeline.
// All operations are thread-safe.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	recordsTotal    *prometheus.CounterVec
	filesTotal      *prometheus.CounterVec
	activitiesTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRunsTotal,
				Help: "Total number of per-user ingestion runs by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRunDuration,
				Help:    "Histogram of per-user ingestion run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecordsTotal,
				Help: "Total number of log records by normalization or admission outcome",
			},
			[]string{"outcome"},
		),
		filesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFilesTotal,
				Help: "Total number of log files by status",
			},
			[]string{"status"},
		),
		activitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricActivitiesTotal,
				Help: "Total number of activities by pipeline stage",
			},
			[]string{"stage"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRun records the outcome and duration of one run.
func (m *Metrics) ObserveRun(status string, seconds float64) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

// AddRecords counts n records with the given outcome.
func (m *Metrics) AddRecords(outcome string, n int) {
	if n > 0 {
		m.recordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncFiles counts one file with the given status.
func (m *Metrics) IncFiles(status string) {
	m.filesTotal.WithLabelValues(status).Inc()
}

// AddActivities counts n activities reaching stage.
func (m *Metrics) AddActivities(stage string, n int) {
	if n > 0 {
		m.activitiesTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.recordsTotal,
		m.filesTotal,
		m.activitiesTotal,
	}
}
