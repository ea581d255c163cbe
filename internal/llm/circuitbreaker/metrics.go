package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "grader_circuit_transitions_total",
		Help: "Circuit breaker state transitions by service.",
	},
	[]string{"service", "from", "to"},
)
