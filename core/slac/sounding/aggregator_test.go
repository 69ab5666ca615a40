package sounding

import (
	"errors"
	"testing"

	"github.com/kilianp07/slac/core/model"
)

var (
	testRun = model.RunID{1, 2, 3, 4, 5, 6, 7, 8}
	sender  = model.MACAddr{0x02, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e}
)

func sample(run model.RunID, groups int, fill uint8) SoundSample {
	s := SoundSample{Sender: sender, RunID: run, NumGroups: groups}
	for g := 0; g < groups && g < Groups; g++ {
		s.AAG[g] = fill
	}
	return s
}

func TestAggregatorAverages(t *testing.T) {
	a := New()
	a.Begin(testRun, 3)
	for _, v := range []uint8{10, 20, 31} {
		if err := a.AddSample(sample(testRun, Groups, v)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	p, err := a.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !p.Valid() || p.Samples != 3 || p.NumGroups != Groups {
		t.Fatalf("unexpected profile meta: %+v", p)
	}
	for g := 0; g < Groups; g++ {
		// (10+20+31)/3 rounds half up to 20.
		if p.Groups[g] != 20 {
			t.Fatalf("group %d: got %d want 20", g, p.Groups[g])
		}
		if p.Counts[g] != 3 {
			t.Fatalf("group %d: count %d want 3", g, p.Counts[g])
		}
	}
}

func TestAggregatorPerGroupContribution(t *testing.T) {
	a := New()
	a.Begin(testRun, 2)
	// First sample covers 10 groups, second covers 4; groups 4..9 must
	// average only the first sample.
	if err := a.AddSample(sample(testRun, 10, 40)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.AddSample(sample(testRun, 4, 20)); err != nil {
		t.Fatalf("add: %v", err)
	}
	p, err := a.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p.NumGroups != 10 {
		t.Fatalf("num groups: got %d want 10", p.NumGroups)
	}
	for g := 0; g < 4; g++ {
		if p.Groups[g] != 30 || p.Counts[g] != 2 {
			t.Fatalf("group %d: got %d/%d want 30/2", g, p.Groups[g], p.Counts[g])
		}
	}
	for g := 4; g < 10; g++ {
		if p.Groups[g] != 40 || p.Counts[g] != 1 {
			t.Fatalf("group %d: got %d/%d want 40/1", g, p.Groups[g], p.Counts[g])
		}
	}
}

func TestAggregatorIgnoresOutOfRangeGroups(t *testing.T) {
	a := New()
	a.Begin(testRun, 1)
	if err := a.AddSample(sample(testRun, 200, 50)); err != nil {
		t.Fatalf("oversized group count must not fail the round: %v", err)
	}
	p, err := a.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p.NumGroups != Groups {
		t.Fatalf("num groups: got %d want %d", p.NumGroups, Groups)
	}
}

func TestAggregatorSequencing(t *testing.T) {
	a := New()
	if err := a.AddSample(sample(testRun, 1, 1)); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("add before begin: got %v", err)
	}
	a.Begin(testRun, 1)
	other := model.RunID{9, 9, 9, 9, 9, 9, 9, 9}
	if err := a.AddSample(sample(other, 1, 1)); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("foreign run id: got %v", err)
	}
	if err := a.AddSample(sample(testRun, 1, 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := a.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := a.AddSample(sample(testRun, 1, 1)); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("add after finalize: got %v", err)
	}
	if _, err := a.Finalize(); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("double finalize: got %v", err)
	}
}

func TestAggregatorNoSamples(t *testing.T) {
	a := New()
	a.Begin(testRun, 3)
	if _, err := a.Finalize(); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("got %v want ErrNoSamples", err)
	}
}

func TestAggregatorPartialRoundsStillValid(t *testing.T) {
	a := New()
	a.Begin(testRun, 3)
	if err := a.AddSample(sample(testRun, Groups, 33)); err != nil {
		t.Fatalf("add: %v", err)
	}
	p, err := a.Finalize()
	if err != nil {
		t.Fatalf("one of three rounds is valid data, got %v", err)
	}
	if p.Samples != 1 || p.Groups[0] != 33 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
