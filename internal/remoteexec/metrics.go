package remoteexec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet holds the Prometheus collectors exercised by the pool. Registered
// against the default registry on first use so callers can wire this package
// in without an explicit registry handoff.
type metricsSet struct {
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func newMetricsSet() *metricsSet {
	m := &metricsSet{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zvault",
			Subsystem: "remoteexec",
			Name:      "command_duration_seconds",
			Help:      "Duration of remote command executions, labeled by target host and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zvault",
			Subsystem: "remoteexec",
			Name:      "commands_inflight",
			Help:      "Number of remote commands currently executing.",
		}),
	}

	// Registration errors (AlreadyRegistered) are expected when multiple
	// Pools are constructed in the same process, e.g. in tests; ignore them.
	if err := prometheus.Register(m.duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	if err := prometheus.Register(m.inflight); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.inflight = are.ExistingCollector.(prometheus.Gauge)
		}
	}

	return m
}

func (m *metricsSet) observeDuration(host, outcome string, d time.Duration) {
	m.duration.WithLabelValues(host, outcome).Observe(d.Seconds())
}
