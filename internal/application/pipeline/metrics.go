package pipeline

import "github.com/prometheus/client_golang/prometheus"

const (
	subsystem = "audit_pipeline"

	stageCandidate = "candidate"
	stageReport    = "report"

	directionInput  = "input"
	directionOutput = "output"
)

var stepsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "steps_total",
		Help:      "number of finished pipeline steps by stage and outcome",
	},
	[]string{"stage", "status"},
)

var stepDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "step_duration_seconds",
		Help:      "wall time of pipeline steps",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	},
	[]string{"stage"},
)

var tokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "tokens_total",
		Help:      "model tokens consumed by direction",
	},
	[]string{"direction"},
)

func observeStep(stage string, status string, seconds float64) {
	stepsTotal.WithLabelValues(stage, status).Inc()
	stepDuration.WithLabelValues(stage).Observe(seconds)
}

func init() {
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(tokensTotal)
}
