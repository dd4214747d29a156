package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(queueItems, queueTransitions, queueActive, watchdogKicks)
}

var (
	queueItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_total",
			Help:      "Queue items processed by outcome.",
		},
		[]string{"scope", "outcome"},
	)

	queueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_transitions_total",
			Help:      "Queue state transitions (started, completed, halted, cancelled, rescheduled).",
		},
		[]string{"to"},
	)

	queueActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_active",
			Help:      "1 while a background queue is active.",
		},
	)

	watchdogKicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_forced_ticks_total",
			Help:      "Ticks forced by the watchdog on a stalled queue.",
		},
	)
)

// QueueItem counts one processed queue item
func QueueItem(scope, outcome string) {
	queueItems.WithLabelValues(norm(scope), norm(outcome)).Inc()
}

// QueueTransition counts a state change and updates the active gauge
func QueueTransition(to string, active bool) {
	queueTransitions.WithLabelValues(norm(to)).Inc()
	if active {
		queueActive.Set(1)
	} else {
		queueActive.Set(0)
	}
}

// WatchdogKick counts a forced tick
func WatchdogKick() {
	watchdogKicks.Inc()
}
