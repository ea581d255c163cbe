package costtracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	costTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grader_llm_cost_usd_total",
		Help: "Recorded provider spend in USD.",
	}, []string{"model", "kind"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grader_llm_tokens_total",
		Help: "Recorded tokens by direction.",
	}, []string{"model", "direction"})

	recordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grader_cost_record_failures_total",
		Help: "Cost log entries that could not be written.",
	}, []string{"reason"})

	fallbackRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grader_cost_event_fallbacks_total",
		Help: "Cost entries recorded directly after event publication failed.",
	})
)
