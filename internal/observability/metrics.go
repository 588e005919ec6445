// Package observability exposes Prometheus metrics for the sync
// subsystem. Metrics are registered at init and scraped through the
// dashboard's /metrics endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "replog",
		Subsystem: "sync",
		Name:      "pending_records",
		Help:      "Number of local records awaiting remote confirmation.",
	})

	attemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replog",
		Subsystem: "sync",
		Name:      "push_attempts_total",
		Help:      "Record push attempts against the remote, labeled by result.",
	}, []string{"result"})

	conflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replog",
		Subsystem: "sync",
		Name:      "conflicts_resolved_total",
		Help:      "Writes discarded by last-write-wins resolution.",
	})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replog",
		Subsystem: "sync",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent per reconciliation cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "replog",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync cycle.",
	})
)

func init() {
	prometheus.MustRegister(pendingGauge, attemptCounter, conflictCounter, cycleDuration, lastSyncGauge)
}

// SetPending updates the pending-record gauge.
func SetPending(n int) {
	pendingGauge.Set(float64(n))
}

// RecordPushAttempt counts a push attempt by outcome ("ok" or "error").
func RecordPushAttempt(ok bool) {
	if ok {
		attemptCounter.WithLabelValues("ok").Inc()
	} else {
		attemptCounter.WithLabelValues("error").Inc()
	}
}

// RecordConflict counts a write discarded by conflict resolution.
func RecordConflict() {
	conflictCounter.Inc()
}

// ObserveCycle records a reconciliation cycle's duration.
func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

// RecordSyncSuccess updates the last-success watermark.
func RecordSyncSuccess(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}
