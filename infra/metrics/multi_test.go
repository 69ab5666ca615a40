package metrics

import (
	"errors"
	"testing"

	coremetrics "github.com/kilianp07/slac/core/metrics"
)

type countingSink struct {
	outcomes int
	active   int
	err      error
}

func (c *countingSink) RecordSessionOutcome(coremetrics.SessionOutcome) error {
	c.outcomes++
	return c.err
}

func (c *countingSink) RecordActiveSessions(int) error {
	c.active++
	return c.err
}

func TestMultiSinkFanout(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordSessionOutcome(coremetrics.SessionOutcome{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordActiveSessions(1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.outcomes != 1 || b.outcomes != 1 || a.active != 1 || b.active != 1 {
		t.Errorf("fanout incomplete: %+v %+v", a, b)
	}
}

func TestMultiSinkFirstError(t *testing.T) {
	boom := errors.New("boom")
	a := &countingSink{err: boom}
	b := &countingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordSessionOutcome(coremetrics.SessionOutcome{}); !errors.Is(err, boom) {
		t.Fatalf("got %v want boom", err)
	}
	if b.outcomes != 0 {
		t.Errorf("later sink reached after error")
	}
}

func TestBuildDefaultsToNop(t *testing.T) {
	sink, err := Build(coremetrics.Config{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := sink.(coremetrics.NopSink); !ok {
		t.Errorf("expected NopSink, got %T", sink)
	}
}
