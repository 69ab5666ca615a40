package metrics

import (
	"fmt"

	coremetrics "github.com/kilianp07/slac/core/metrics"
)

// Build assembles the configured sinks into one SessionSink. With nothing
// enabled the result is a NopSink.
func Build(cfg coremetrics.Config) (coremetrics.SessionSink, error) {
	var sinks []coremetrics.SessionSink
	if cfg.PrometheusEnabled {
		s, err := NewPromSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("prometheus sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}
