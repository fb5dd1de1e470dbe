// Package metrics exposes the Prometheus collectors for job runs, store
// writes and calibration state. Collectors register on the default registry
// and are served by the HTTP server at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job Metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viralscope_job_runs_total",
			Help: "Total number of job runs by job and outcome",
		},
		[]string{"job", "status"}, // status: completed, skipped, failed, locked
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viralscope_job_duration_seconds",
			Help:    "Duration of job runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	JobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viralscope_job_last_success_timestamp_seconds",
			Help: "Unix time of the last run that did not fail",
		},
		[]string{"job"},
	)

	// Trend Metrics
	TrendRecordsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viralscope_trend_engagement_records_read_total",
			Help: "Total engagement records read by trend runs",
		},
	)

	TrendUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viralscope_trend_upserts_total",
			Help: "Total trend records written, by result",
		},
		[]string{"result"}, // ok, failed
	)

	TrendTopics = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viralscope_trend_topics",
			Help: "Topics per phase in the last trend run",
		},
		[]string{"phase"},
	)

	// Calibration Metrics
	CalibrationECE = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viralscope_calibration_ece",
			Help: "Expected calibration error of the last sufficient run (0-1)",
		},
	)

	CalibrationSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viralscope_calibration_samples",
			Help: "Outcome pairs seen by the last calibration run",
		},
	)

	CalibrationDrift = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viralscope_calibration_drift_detected",
			Help: "1 if the last calibration run flagged drift",
		},
	)

	PlattRefits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viralscope_platt_refits_total",
			Help: "Platt refit attempts by fit status",
		},
		[]string{"status"},
	)

	PlattParameter = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viralscope_platt_parameter",
			Help: "Current Platt parameters",
		},
		[]string{"name"}, // a, b
	)

	// Alert Metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viralscope_alerts_published_total",
			Help: "Calibration results published to the alert bus",
		},
		[]string{"result"}, // ok, failed
	)

	// Store Metrics
	StoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viralscope_store_breaker_state",
			Help: "Circuit breaker state per store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordJobRun records one finished run.
func RecordJobRun(job, status string, duration time.Duration) {
	JobRuns.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if status != "failed" && status != "locked" {
		JobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordUpserts records the outcome of a trend write.
func RecordUpserts(upserted, failed int) {
	TrendUpserts.WithLabelValues("ok").Add(float64(upserted))
	TrendUpserts.WithLabelValues("failed").Add(float64(failed))
}

// SetPhaseCounts replaces the per-phase topic gauges.
func SetPhaseCounts(counts map[string]int) {
	TrendTopics.Reset()
	for phase, n := range counts {
		TrendTopics.WithLabelValues(phase).Set(float64(n))
	}
}

// RecordCalibration records the report side of a calibration run.
func RecordCalibration(ece float64, samples uint32, drift bool) {
	CalibrationECE.Set(ece)
	CalibrationSamples.Set(float64(samples))
	if drift {
		CalibrationDrift.Set(1)
	} else {
		CalibrationDrift.Set(0)
	}
}

// RecordRefit records a fit attempt and, when fitted, the new parameters.
func RecordRefit(status string, a, b float64, fitted bool) {
	PlattRefits.WithLabelValues(status).Inc()
	if fitted {
		PlattParameter.WithLabelValues("a").Set(a)
		PlattParameter.WithLabelValues("b").Set(b)
	}
}

// RecordAlert records one publish attempt.
func RecordAlert(err error) {
	if err != nil {
		AlertsPublished.WithLabelValues("failed").Inc()
		return
	}
	AlertsPublished.WithLabelValues("ok").Inc()
}

// SetBreakerState publishes a breaker state as 0, 1 or 2.
func SetBreakerState(name string, state int) {
	StoreBreakerState.WithLabelValues(name).Set(float64(state))
}
