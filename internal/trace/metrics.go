package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sinkFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trace_sink_failures_total",
	Help: "Traces that at least one store failed to save.",
})
