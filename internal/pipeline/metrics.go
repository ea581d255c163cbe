package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grader_pipeline_tasks_total",
		Help: "Pipeline executions by terminal status.",
	}, []string{"status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grader_pipeline_duration_seconds",
		Help:    "Wall time of pipeline executions.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grader_pipeline_step_failures_total",
		Help: "Pipeline failures by the step that was running.",
	}, []string{"step"})
)
