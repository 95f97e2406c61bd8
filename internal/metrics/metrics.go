// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for StageTotal.
const (
	OutcomeAdvanced = "advanced" // handler won the conditional write
	OutcomeSkipped  = "skipped"  // precondition mismatch, duplicate delivery
	OutcomeConflict = "conflict" // conditional write lost a race
	OutcomeFailed   = "failed"   // collaborator failure, terminal error path
)

// StageTotal counts stage handler invocations by stage and outcome.
var StageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_stage_total",
	Help: "Stage handler invocations by stage and outcome.",
}, []string{"stage", "outcome"})
