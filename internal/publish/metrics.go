package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screensync_publish_runs_total",
		Help: "Publish runs by operation and outcome.",
	}, []string{"operation", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screensync_publish_duration_seconds",
		Help:    "Duration of publish runs.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	targetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screensync_publish_targets_total",
		Help: "Per-screen publish results.",
	}, []string{"result"})

	reverifiesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screensync_publish_reverify_scheduled_total",
		Help: "Deferred re-verifications scheduled for unconfirmed writes.",
	})
)
