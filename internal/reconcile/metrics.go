package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screensync_reconcile_duration_seconds",
		Help:    "Duration of each screen reconciliation",
		Buckets: prometheus.DefBuckets,
	})
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screensync_reconcile_total",
		Help: "Screen reconciliations by final state",
	}, []string{"state"})
	driftDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screensync_drift_detected_total",
		Help: "Drift detected between desired and actual screen content",
	}, []string{"kind"})
	repairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screensync_drift_repairs_total",
		Help: "Drift repair attempts by result",
	}, []string{"result"})
	adoptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screensync_adoptions_total",
		Help: "Live playlists adopted as desired state",
	})
	provisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screensync_playlists_provisioned_total",
		Help: "Screen playlists cloned from the template",
	})
	fillerSeedsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screensync_filler_seeds_total",
		Help: "Empty playlists seeded with filler media",
	})
	sweepScreens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screensync_sweep_screens_total",
		Help: "Screens processed by reconciliation sweeps by result",
	}, []string{"result"})
)
