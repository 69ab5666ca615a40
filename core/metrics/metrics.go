package metrics

import "time"

// SessionOutcome represents the terminal result of one matching attempt.
type SessionOutcome struct {
	SessionID string
	Link      string
	RunID     string
	// Outcome is "matched", "failed" or "timed_out".
	Outcome string
	// AtState names the state the session was in when it terminated.
	AtState string
	// Samples is the number of accepted sounding samples.
	Samples  int
	Duration time.Duration
	Time     time.Time
}

// SessionSink records matching outcomes for observability purposes.
type SessionSink interface {
	RecordSessionOutcome(o SessionOutcome) error
	RecordActiveSessions(n int) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordSessionOutcome(SessionOutcome) error { return nil }
func (NopSink) RecordActiveSessions(int) error            { return nil }

// Config defines the metric sink settings.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    int    `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}
