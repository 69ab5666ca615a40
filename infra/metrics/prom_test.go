package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/slac/core/metrics"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	err = sink.RecordSessionOutcome(coremetrics.SessionOutcome{
		SessionID: "s1",
		Outcome:   "matched",
		AtState:   "matched",
		Samples:   10,
		Duration:  750 * time.Millisecond,
		Time:      time.Now(),
	})
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := sink.RecordActiveSessions(2); err != nil {
		t.Fatalf("record active: %v", err)
	}

	ps := sink.(*PromSink)
	if got := testutil.ToFloat64(ps.outcomes.WithLabelValues("matched", "matched")); got != 1 {
		t.Errorf("outcome counter: %v", got)
	}
	if got := testutil.ToFloat64(ps.active); got != 2 {
		t.Errorf("active gauge: %v", got)
	}
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("second registration must reuse collectors: %v", err)
	}
}
