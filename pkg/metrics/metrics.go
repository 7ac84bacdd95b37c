// Package metrics exposes the control plane's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster lifecycle metrics

	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clusterctl_clusters_total",
			Help: "Total number of clusters by status",
		},
		[]string{"status"},
	)

	ClusterCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterctl_cluster_create_duration_seconds",
			Help:    "Time taken to create and start a cluster",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClusterStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterctl_cluster_start_duration_seconds",
			Help:    "Time taken to start a cluster",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClusterStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterctl_cluster_stop_duration_seconds",
			Help:    "Time taken to stop a cluster",
			Buckets: prometheus.DefBuckets,
		},
	)

	RemediationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterctl_remediation_attempts_total",
			Help: "Total number of driver-failure remediation attempts by category",
		},
		[]string{"category"},
	)

	RestartLoopsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_restart_loops_resolved_total",
			Help: "Total number of restart-loop auto-resolutions",
		},
	)

	// Health & recovery engine metrics

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterctl_health_checks_total",
			Help: "Total number of health check cycles by outcome",
		},
		[]string{"state"},
	)

	HealthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterctl_health_check_duration_seconds",
			Help:    "Time taken for one cluster health check cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveryAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_recovery_attempts_total",
			Help: "Total number of auto-recovery attempts",
		},
	)

	RecoverySuccessTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_recovery_success_total",
			Help: "Total number of successful auto-recoveries",
		},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterctl_recovery_duration_seconds",
			Help:    "Time taken for a full recovery attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	// High-frequency metrics pipeline

	SamplesCollectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_samples_collected_total",
			Help: "Total number of per-cluster resource samples collected",
		},
	)

	SamplesDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_samples_delivered_total",
			Help: "Total number of samples that passed the change gate and were broadcast",
		},
	)

	BusBroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_bus_broadcasts_total",
			Help: "Total number of throttled bus broadcasts",
		},
	)

	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterctl_metrics_drain_duration_seconds",
			Help:    "Time taken to drain the in-memory metrics buffer to storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	DrainRowsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_metrics_drain_rows_written_total",
			Help: "Total number of metric rows persisted by the drain loop",
		},
	)

	DrainRowsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterctl_metrics_drain_rows_skipped_total",
			Help: "Total number of buffered rows skipped by the drain loop, by reason",
		},
		[]string{"reason"},
	)

	BufferFullEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterctl_metrics_buffer_full_total",
			Help: "Total number of drains during which the primary buffer was at capacity",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ClustersTotal,
		ClusterCreateDuration,
		ClusterStartDuration,
		ClusterStopDuration,
		RemediationAttemptsTotal,
		RestartLoopsResolvedTotal,
		HealthChecksTotal,
		HealthCheckDuration,
		RecoveryAttemptsTotal,
		RecoverySuccessTotal,
		RecoveryDuration,
		SamplesCollectedTotal,
		SamplesDeliveredTotal,
		BusBroadcastsTotal,
		DrainDuration,
		DrainRowsWrittenTotal,
		DrainRowsSkippedTotal,
		BufferFullEventsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
