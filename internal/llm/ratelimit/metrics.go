package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var throttled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "grader_rate_limited_total",
	Help: "Provider calls rejected before leaving the process.",
}, []string{"provider", "layer"})
