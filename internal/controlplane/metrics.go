package controlplane

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_requests_total",
			Help: "Total control-plane API attempts by result",
		},
		[]string{"method", "resource", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_request_duration_seconds",
			Help:    "Control-plane API attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "resource"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_retries_total",
			Help: "Total control-plane API retries",
		},
		[]string{"method", "resource"},
	)

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_requests_in_flight",
		Help: "Control-plane API requests currently holding a permit",
	})
)

func observe(method, resource, status string, start time.Time) {
	requestsTotal.WithLabelValues(method, resource, status).Inc()
	requestDuration.WithLabelValues(method, resource).Observe(time.Since(start).Seconds())
}
