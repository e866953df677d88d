package mutator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var encodingRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mutator_encoding_rejections_total",
	Help: "Playlist writes rejected by the control plane, by item encoding.",
}, []string{"encoding"})
