// Package metrics exposes prometheus counters for the checking pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "checker"

var (
	checksStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "checks_started_total",
			Help:      "Count of submission checks created.",
		},
	)
	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "stage_outcome_total",
			Help:      "Count of stage resolutions by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)
	timeoutsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "stage_timeout_total",
			Help:      "Count of stage deadlines that fired before the worker responded.",
		},
		[]string{"stage"},
	)
	checksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "checks_finished_total",
			Help:      "Count of checks reaching a terminal state, by status.",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register registers the pipeline metrics with the registry. Safe to call
// more than once.
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(checksStarted, stageOutcomes, timeoutsFired, checksFinished)
	})
}

// CheckStarted records a newly created check.
func CheckStarted() {
	checksStarted.Inc()
}

// StageResolved records a stage resolution.
func StageResolved(stage, outcome string) {
	stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// TimeoutFired records a fired stage deadline.
func TimeoutFired(stage string) {
	timeoutsFired.WithLabelValues(stage).Inc()
}

// CheckFinished records a terminal transition.
func CheckFinished(status string) {
	checksFinished.WithLabelValues(status).Inc()
}
