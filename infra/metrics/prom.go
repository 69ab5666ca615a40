package metrics

import (
	coremetrics "github.com/kilianp07/slac/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records matching outcomes in Prometheus metrics.
type PromSink struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// NewPromSink registers matching metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.SessionSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.SessionSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slac_sessions_total",
		Help: "Total number of terminated matching sessions",
	}, []string{"outcome", "at_state"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slac_session_duration_seconds",
		Help:    "Time between session creation and its terminal state",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "slac_active_sessions",
		Help: "Number of non-terminal matching sessions",
	})

	if err := reg.Register(outcomes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			outcomes = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(active); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			active = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{outcomes: outcomes, duration: duration, active: active}, nil
}

// RecordSessionOutcome increments the outcome counter and observes the
// session duration.
func (s *PromSink) RecordSessionOutcome(o coremetrics.SessionOutcome) error {
	s.outcomes.WithLabelValues(o.Outcome, o.AtState).Inc()
	s.duration.WithLabelValues(o.Outcome).Observe(o.Duration.Seconds())
	return nil
}

// RecordActiveSessions sets the gauge to the number of live sessions.
func (s *PromSink) RecordActiveSessions(n int) error {
	if s.active != nil {
		s.active.Set(float64(n))
	}
	return nil
}
