package executor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsSet struct {
	dispatched prometheus.Counter
	outcomes   *prometheus.CounterVec
}

func newMetricsSet() *metricsSet {
	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zvault_executor_jobs_dispatched_total",
		Help: "Total number of Job runs handed to the executor, scheduled and manual.",
	})
	if err := prometheus.Register(dispatched); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			dispatched = are.ExistingCollector.(prometheus.Counter)
		}
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zvault_executor_job_outcomes_total",
		Help: "Job run outcomes by status.",
	}, []string{"status"})
	if err := prometheus.Register(outcomes); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			outcomes = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &metricsSet{dispatched: dispatched, outcomes: outcomes}
}

func (m *metricsSet) recordDispatch() {
	m.dispatched.Inc()
}

func (m *metricsSet) recordOutcome(status string) {
	m.outcomes.WithLabelValues(status).Inc()
}
