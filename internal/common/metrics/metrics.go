// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_stage_transitions_total",
			Help: "Total number of accepted deal stage transitions",
		},
		[]string{"from_stage", "to_stage"},
	)

	StageTransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_stage_transitions_rejected_total",
			Help: "Total number of rejected deal stage transitions",
		},
		[]string{"to_stage", "error_code"},
	)

	FinancingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_financing_transitions_total",
			Help: "Total number of accepted financing status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	GateEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_gate_evaluations_total",
			Help: "Total number of gate deck evaluations",
		},
		[]string{"source"}, // live or cache
	)

	GateEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "crm_gate_evaluation_duration_seconds",
			Help: "Duration of gate deck evaluation",
		},
		[]string{"source"},
	)

	SubmissionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_submission_attempts_total",
			Help: "Total number of deal submission attempts",
		},
		[]string{"outcome"}, // submitted, checklist_failed, already_submitted, error
	)
)
