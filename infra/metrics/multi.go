package metrics

import coremetrics "github.com/kilianp07/slac/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.SessionSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.SessionSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSessionOutcome forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordSessionOutcome(o coremetrics.SessionOutcome) error {
	for _, s := range m.Sinks {
		if err := s.RecordSessionOutcome(o); err != nil {
			return err
		}
	}
	return nil
}

// RecordActiveSessions forwards the live session count to all sinks.
func (m *MultiSink) RecordActiveSessions(n int) error {
	for _, s := range m.Sinks {
		if err := s.RecordActiveSessions(n); err != nil {
			return err
		}
	}
	return nil
}
