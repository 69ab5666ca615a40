package events

import (
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/sounding"
)

// SessionStarted is published when a matching attempt opens on a link.
type SessionStarted struct {
	SessionID model.SessionID
	Link      model.LinkIdentity
	RunID     model.RunID
}

// AttenuationProfileReady is published once the sounding phase of a session
// has been reduced to a profile.
type AttenuationProfileReady struct {
	SessionID model.SessionID
	Link      model.LinkIdentity
	RunID     model.RunID
	Profile   sounding.AttenuationProfile
}

// Matched is published when a session reaches its terminal success state.
// NMK is the network membership key distributed for this session; consumers
// must treat it as a secret and never write it to logs.
type Matched struct {
	SessionID model.SessionID
	Link      model.LinkIdentity
	RunID     model.RunID
	NMK       [16]byte
}

// Failed is published when a session is abandoned on a local error or
// superseded by a newer attempt.
type Failed struct {
	SessionID model.SessionID
	Link      model.LinkIdentity
	RunID     model.RunID
	Reason    string
}

// TimedOut is published when a protocol deadline elapsed without the expected
// frame. AtState names the state the session was in when the timer fired.
type TimedOut struct {
	SessionID model.SessionID
	Link      model.LinkIdentity
	RunID     model.RunID
	AtState   string
	Timer     string
}
