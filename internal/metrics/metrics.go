// Package metrics exposes the process's Prometheus counters and
// histograms, wired with promauto the way the teacher's worker and
// ratelimit packages do.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nhkrec_reservations_created_total",
			Help: "Total reservations created, by kind.",
		},
		[]string{"kind"},
	)

	ReservationsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nhkrec_reservations_deleted_total",
			Help: "Total reservations deleted, by kind.",
		},
		[]string{"kind"},
	)

	ReconcileTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nhkrec_reconcile_ticks_total",
			Help: "Total scheduler reconciliation ticks, by outcome.",
		},
		[]string{"outcome"}, // success, failure
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nhkrec_reconcile_duration_seconds",
			Help:    "Wall-clock duration of one reconciliation tick.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CaptureOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nhkrec_capture_outcomes_total",
			Help: "Total CaptureWorker outcomes, by result.",
		},
		[]string{"result"}, // committed, failed, canceled
	)

	CaptureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nhkrec_capture_duration_seconds",
			Help:    "Wall-clock duration of a capture attempt, arming to terminal state.",
			Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	LivePlans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nhkrec_live_capture_plans",
			Help: "Number of CapturePlans currently tracked by the scheduler.",
		},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nhkrec_upstream_requests_total",
			Help: "Total outbound UpstreamClient requests, by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
)

// ObserveCaptureDuration records how long a capture attempt ran, from
// arming to its terminal state.
func ObserveCaptureDuration(start time.Time) {
	CaptureDuration.Observe(time.Since(start).Seconds())
}

// ObserveReconcileDuration records how long a reconciliation tick took.
func ObserveReconcileDuration(start time.Time) {
	ReconcileDuration.Observe(time.Since(start).Seconds())
}
