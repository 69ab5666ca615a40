// Package sounding accumulates per-carrier-group attenuation readings across
// the sounding rounds of one matching attempt and reduces them to a single
// averaged profile.
package sounding

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/slac/core/model"
)

// Groups is the number of carrier groups reported per sound.
const Groups = 58

// maxAttenuation is the upper bound of the attenuation encoding in dB.
const maxAttenuation = 255

// ErrOutOfSequence reports a sample delivered before Begin, after Finalize,
// or carrying a foreign run identifier.
var ErrOutOfSequence = errors.New("sound sample out of sequence")

// ErrNoSamples reports a finalization with no accepted samples. The station
// must signal the peer that attenuation could not be characterized instead of
// producing a silent zero profile.
var ErrNoSamples = errors.New("no sound samples received")

// SoundSample is one round of per-carrier-group attenuation readings together
// with the identity that produced it.
type SoundSample struct {
	Sender    model.MACAddr
	RunID     model.RunID
	NumGroups int
	AAG       [Groups]uint8
}

// AttenuationProfile is the reduction of all samples of one attempt. It is
// immutable once computed.
type AttenuationProfile struct {
	RunID model.RunID
	// Groups holds the averaged attenuation per carrier group.
	Groups [Groups]uint8
	// Counts records how many samples contributed to each carrier group.
	Counts [Groups]int
	// NumGroups is the widest group count seen across accepted samples.
	NumGroups int
	// Samples is the total number of accepted samples.
	Samples int
}

// Valid reports whether at least one sample contributed to the profile.
func (p AttenuationProfile) Valid() bool { return p.Samples > 0 }

type aggState int

const (
	stateIdle aggState = iota
	stateCollecting
	stateFinalized
)

// Aggregator collects SoundSamples for a single run and averages them.
// It is owned by exactly one session and is not safe for concurrent use.
type Aggregator struct {
	state    aggState
	runID    model.RunID
	expected int
	samples  int
	readings [Groups][]float64
	groups   int
}

// New returns an idle Aggregator. Begin must be called before samples are fed.
func New() *Aggregator { return &Aggregator{} }

// Begin opens a collection window for the given run. expectedRounds bounds
// the number of rounds the caller plans to wait for; the aggregator itself
// accepts any number of samples until Finalize.
func (a *Aggregator) Begin(runID model.RunID, expectedRounds int) {
	*a = Aggregator{state: stateCollecting, runID: runID, expected: expectedRounds}
}

// AddSample appends one round of readings. Samples outside the collection
// window or for a different run are rejected with ErrOutOfSequence.
// Carrier groups beyond the supported table are ignored rather than failing
// the whole round.
func (a *Aggregator) AddSample(s SoundSample) error {
	if a.state != stateCollecting {
		return ErrOutOfSequence
	}
	if s.RunID != a.runID {
		return ErrOutOfSequence
	}
	groups := s.NumGroups
	if groups > Groups {
		groups = Groups
	}
	if groups <= 0 {
		return nil
	}
	for g := 0; g < groups; g++ {
		a.readings[g] = append(a.readings[g], float64(s.AAG[g]))
	}
	if groups > a.groups {
		a.groups = groups
	}
	a.samples++
	return nil
}

// Count returns the number of accepted samples so far.
func (a *Aggregator) Count() int { return a.samples }

// Expected returns the round count announced at Begin.
func (a *Aggregator) Expected() int { return a.expected }

// Finalize closes the window and averages the readings per carrier group.
// Only the samples that actually reported a group contribute to that group's
// average. With zero accepted samples it returns ErrNoSamples.
func (a *Aggregator) Finalize() (AttenuationProfile, error) {
	if a.state != stateCollecting {
		return AttenuationProfile{}, ErrOutOfSequence
	}
	a.state = stateFinalized
	if a.samples == 0 {
		return AttenuationProfile{}, ErrNoSamples
	}
	profile := AttenuationProfile{RunID: a.runID, NumGroups: a.groups, Samples: a.samples}
	for g := 0; g < a.groups; g++ {
		if len(a.readings[g]) == 0 {
			continue
		}
		profile.Counts[g] = len(a.readings[g])
		profile.Groups[g] = clampAttenuation(stat.Mean(a.readings[g], nil))
	}
	return profile, nil
}

func clampAttenuation(v float64) uint8 {
	r := math.Floor(v + 0.5)
	if r >= maxAttenuation {
		return maxAttenuation
	}
	if r <= 0 {
		return 0
	}
	return uint8(r)
}
