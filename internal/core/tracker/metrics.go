package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phasesEntered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasetrack_phases_entered_total",
		Help: "Phase contexts entered, by phase",
	}, []string{"phase"})

	phaseDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "phasetrack_phase_depth",
		Help: "Current phase stack depth including the root context",
	})

	pipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasetrack_pipeline_outcomes_total",
		Help: "Pipeline runs by transition kind and outcome",
	}, []string{"kind", "status"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phasetrack_pipeline_duration_seconds",
		Help:    "Duration of pipeline runs",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
	}, []string{"kind"})

	corruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasetrack_phase_corruptions_total",
		Help: "Recovered phase stack discipline violations, by operation",
	}, []string{"op"})

	sideEffects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasetrack_side_effects_total",
		Help: "Materialized side effects by kind and verdict",
	}, []string{"kind", "verdict"})
)

func prometheusTimer(kind string) *prometheus.Timer {
	return prometheus.NewTimer(pipelineDuration.WithLabelValues(kind))
}
