// SPDX-License-Identifier: MIT

// Package metrics holds the Prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsProcessed counts terminal command outcomes by class.
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venued_commands_processed_total",
		Help: "Commands that reached a terminal state, by class and outcome",
	}, []string{"class", "outcome"})

	// CommandDuration tracks executor wall time by protocol.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venued_command_execution_seconds",
		Help:    "Executor wall time per command",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"protocol"})

	// QueueDepth is the number of pending commands observed at the last
	// maintenance sweep.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venued_queue_depth",
		Help: "Pending commands in the queue",
	})

	// StuckCommands counts commands sitting in processing past the stuck
	// threshold. Recovery is an operator action.
	StuckCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venued_queue_stuck_commands",
		Help: "Commands stuck in processing beyond the threshold",
	})

	// CandidatesObserved counts discovery sightings by source.
	CandidatesObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venued_discovery_candidates_total",
		Help: "Candidate observations, by discovery source",
	}, []string{"source"})

	// PollFailures counts status poll failures by protocol.
	PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venued_status_poll_failures_total",
		Help: "Status poll failures, by protocol",
	}, []string{"protocol"})

	// ControllersOnline tracks how many managed controllers are reachable.
	ControllersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venued_controllers_online",
		Help: "Managed controllers currently reachable",
	})

	// SchedulesFired counts schedule trigger expansions.
	SchedulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venued_schedules_fired_total",
		Help: "Schedule trigger firings, by outcome",
	}, []string{"outcome"})
)

// ObserveCommand records one terminal command outcome.
func ObserveCommand(class, outcome, protocol string, elapsed time.Duration) {
	CommandsProcessed.WithLabelValues(class, outcome).Inc()
	CommandDuration.WithLabelValues(protocol).Observe(elapsed.Seconds())
}
