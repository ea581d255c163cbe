package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retryAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "grader_retry_attempts_total",
		Help: "Retries scheduled after a transient provider failure.",
	},
	[]string{"service", "error_type"},
)
