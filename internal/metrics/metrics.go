package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_timers"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of reconciliation cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Reconciliation cycle latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
	)

	timerActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_actions_total",
			Help:      "Timer actions planned by reconciliation, partitioned by kind.",
		},
		[]string{"kind"},
	)

	dispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Failed dispatcher calls, partitioned by dispatch group.",
		},
		[]string{"group"},
	)

	classifierViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_contract_violations_total",
			Help:      "Transactions omitted or invented by the performance classifier.",
		},
	)

	gateBreachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_breaches_total",
			Help:      "Quality gate breaches, partitioned by gate id.",
		},
		[]string{"gate"},
	)
)

// Register attaches mirador-timers collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		timerActionsTotal,
		dispatchFailuresTotal,
		classifierViolationsTotal,
		gateBreachesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and its outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// AddTimerActions counts planned timer actions of one kind.
func AddTimerActions(kind string, n int) {
	if n <= 0 {
		return
	}
	timerActionsTotal.WithLabelValues(kind).Add(float64(n))
}

// IncDispatchFailure counts one failed dispatcher call.
func IncDispatchFailure(group string) {
	dispatchFailuresTotal.WithLabelValues(group).Inc()
}

// AddClassifierViolations counts transactions the classifier omitted or invented.
func AddClassifierViolations(n int) {
	if n <= 0 {
		return
	}
	classifierViolationsTotal.Add(float64(n))
}

// IncGateBreach counts one breached quality gate.
func IncGateBreach(gate string) {
	gateBreachesTotal.WithLabelValues(gate).Inc()
}
