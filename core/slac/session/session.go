// Package session implements the matching state machine and the registry that
// owns the active sessions of one link domain.
//
// A Session advances only through Registry.OnFrame, Registry.Tick and
// Registry.StartAttempt; transitions are synchronous and never suspend. The
// registry owns its sessions outright and pulls outcomes by inspecting state
// after each dispatch; sessions hold no back-reference to the registry.
package session

import (
	"errors"
	"time"

	"github.com/kilianp07/slac/core/logger"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/mme"
	"github.com/kilianp07/slac/core/slac/sounding"
	"github.com/kilianp07/slac/core/slac/timer"
)

// Config carries the timing budgets and identities of one registry. The
// per-message budgets are protocol configuration, not hard constants; the
// published defaults live in the config package.
type Config struct {
	Role Role
	// ModemMAC is the management address of the local powerline modem,
	// used for key provisioning after a station-side match.
	ModemMAC model.MACAddr
	// StationID and PevID are the 17-byte controller identifiers carried
	// in the match exchange.
	StationID [17]byte
	PevID     [17]byte
	// ExpectedRounds is the sounding round count advertised when
	// responding to a parameter request.
	ExpectedRounds int
	// ParmConfirmTimeout bounds the wait for the parameter confirmation.
	ParmConfirmTimeout time.Duration
	// PerSoundBudget is the per-round share of the sounding window; the
	// window is ExpectedRounds times this budget.
	PerSoundBudget time.Duration
	// AttenCharTimeout bounds the wait for the profile acknowledgement.
	AttenCharTimeout time.Duration
	// MatchTimeout bounds the final match exchange.
	MatchTimeout time.Duration
	// OutOfSeqTolerance is the number of out-of-sequence frames a session
	// absorbs before it is failed.
	OutOfSeqTolerance int
}

// frameSender delivers an encoded frame on the session's link. Implemented by
// the registry over its transport.
type frameSender func(dst, src model.MACAddr, frame mme.Frame) error

// Session is the aggregate root of one matching attempt on one link.
type Session struct {
	id   model.SessionID
	link model.LinkIdentity
	role Role

	runID model.RunID
	state State

	cfg    Config
	timers *timer.Manager
	send   frameSender
	log    logger.Logger

	agg     *sounding.Aggregator
	profile *sounding.AttenuationProfile

	nmk    [16]byte
	nid    [7]byte
	hasNMK bool

	// soundSeen guards against duplicated or replayed sound counters.
	soundSeen map[uint8]bool
	oos       int

	failReason string
	outTimer   timer.Name
	outState   State

	createdAt time.Time

	// event bookkeeping, owned by the registry.
	startedEmitted bool
	profileEmitted bool
	outcomeEmitted bool
}

func newSession(link model.LinkIdentity, cfg Config, timers *timer.Manager, send frameSender, log logger.Logger, now time.Time) *Session {
	return &Session{
		id:        model.NewSessionID(),
		link:      link,
		role:      cfg.Role,
		state:     StateIdle,
		cfg:       cfg,
		timers:    timers,
		send:      send,
		log:       log,
		agg:       sounding.New(),
		soundSeen: make(map[uint8]bool),
		createdAt: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() model.SessionID { return s.id }

// Link returns the link the session is bound to.
func (s *Session) Link() model.LinkIdentity { return s.link }

// RunID returns the attempt correlation token.
func (s *Session) RunID() model.RunID { return s.runID }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Profile returns the finalized attenuation profile, if computed.
func (s *Session) Profile() (sounding.AttenuationProfile, bool) {
	if s.profile == nil {
		return sounding.AttenuationProfile{}, false
	}
	return *s.profile, true
}

// NMK returns the network membership key of a matched session.
func (s *Session) NMK() ([16]byte, bool) { return s.nmk, s.hasNMK }

func (s *Session) localMAC() model.MACAddr {
	if s.role == RoleVehicle {
		return s.link.EV
	}
	return s.link.Station
}

func (s *Session) peerMAC() model.MACAddr {
	if s.role == RoleVehicle {
		return s.link.Station
	}
	return s.link.EV
}

// start opens the attempt from the local side: a fresh run identifier is
// drawn and the parameter request is sent to the peer.
func (s *Session) start(now time.Time) error {
	runID, err := model.NewRunID()
	if err != nil {
		return err
	}
	s.runID = runID
	if err := s.send(s.peerMAC(), s.localMAC(), &mme.SlacParmReq{RunID: runID}); err != nil {
		s.fail("send parameter request: " + err.Error())
		return nil
	}
	s.state = StateParmRequested
	s.timers.Arm(s.id, timer.ParmConfirm, now.Add(s.cfg.ParmConfirmTimeout))
	return nil
}

// adoptPeerRequest opens the attempt from an inbound parameter request: the
// peer's run identifier is adopted and the confirmation is sent back.
func (s *Session) adoptPeerRequest(req *mme.SlacParmReq, now time.Time) {
	s.runID = req.RunID
	cnf := &mme.SlacParmCnf{
		MSoundTarget:    s.peerMAC(),
		NumSounds:       uint8(s.cfg.ExpectedRounds),
		Timeout:         budgetCentiseconds(s.soundingWindow()),
		RespType:        1,
		ForwardingSta:   s.peerMAC(),
		ApplicationType: req.ApplicationType,
		SecurityType:    req.SecurityType,
		RunID:           req.RunID,
	}
	if err := s.send(s.peerMAC(), s.localMAC(), cnf); err != nil {
		s.fail("send parameter confirm: " + err.Error())
		return
	}
	s.state = StateParmRequested
	s.timers.Arm(s.id, timer.ParmConfirm, now.Add(s.cfg.ParmConfirmTimeout))
}

func (s *Session) soundingWindow() time.Duration {
	return time.Duration(s.cfg.ExpectedRounds) * s.cfg.PerSoundBudget
}

func budgetCentiseconds(d time.Duration) uint8 {
	// The on-wire timeout field is expressed in multiples of 100 ms.
	c := d / (100 * time.Millisecond)
	if c > 255 {
		c = 255
	}
	if c < 1 {
		c = 1
	}
	return uint8(c)
}

// handleFrame consumes one inbound frame. Frames with a stale or foreign run
// identifier are discarded without a state change; frames that make no sense
// in the current state count against the out-of-sequence tolerance.
func (s *Session) handleFrame(f mme.Frame, src model.MACAddr, now time.Time) {
	if s.state.Terminal() {
		return
	}
	switch fr := f.(type) {
	case *mme.SlacParmCnf:
		if fr.RunID != s.runID {
			s.dropForeign(fr.MMType())
			return
		}
		if s.state != StateParmRequested {
			s.outOfSequence(fr.MMType())
			return
		}
		s.confirmParameters(int(fr.NumSounds), now, true)
	case *mme.StartAttenCharInd:
		if fr.RunID != s.runID {
			s.dropForeign(fr.MMType())
			return
		}
		switch s.state {
		case StateParmRequested:
			// The responder side treats the start indication as the
			// parameter confirmation: it fixes the round count.
			s.confirmParameters(int(fr.NumSounds), now, false)
		case StateSounding:
			// The peer repeats the start indication; only one is processed.
		default:
			s.outOfSequence(fr.MMType())
		}
	case *mme.MnbcSoundInd:
		if fr.RunID != s.runID {
			s.dropForeign(fr.MMType())
			return
		}
		if s.state != StateSounding {
			s.outOfSequence(fr.MMType())
			return
		}
		if s.soundSeen[fr.Remaining] {
			s.outOfSequence(fr.MMType())
			return
		}
		s.soundSeen[fr.Remaining] = true
	case *mme.AttenProfileInd:
		if s.state != StateSounding {
			s.outOfSequence(fr.MMType())
			return
		}
		if fr.PevMac != s.peerMAC() {
			s.log.Warnf("session %s: attenuation profile from unexpected source %s", s.id, fr.PevMac)
			return
		}
		err := s.agg.AddSample(sounding.SoundSample{
			Sender:    fr.PevMac,
			RunID:     s.runID,
			NumGroups: int(fr.NumGroups),
			AAG:       fr.AAG,
		})
		if err != nil {
			s.outOfSequence(fr.MMType())
			return
		}
		if s.agg.Count() >= s.agg.Expected() {
			s.finalizeSounding(now)
		}
	case *mme.AttenCharRsp:
		if fr.RunID != s.runID {
			s.dropForeign(fr.MMType())
			return
		}
		if s.state != StateAttenCharPending {
			s.outOfSequence(fr.MMType())
			return
		}
		if fr.Result != 0 {
			s.fail("attenuation characteristic rejected by peer")
			return
		}
		s.timers.Cancel(s.id, timer.AttenChar)
		s.state = StateAttenCharConfirmed
		s.enterMatching(now)
	case *mme.SlacMatchReq:
		if fr.RunID != s.runID {
			s.dropForeign(fr.MMType())
			return
		}
		if s.role != RoleStation || s.state != StateMatching {
			s.outOfSequence(fr.MMType())
			return
		}
		s.completeStationMatch(fr, src)
	case *mme.SlacMatchCnf:
		if fr.RunID != s.runID {
			s.dropForeign(fr.MMType())
			return
		}
		if s.role != RoleVehicle || s.state != StateMatching {
			s.outOfSequence(fr.MMType())
			return
		}
		s.completeVehicleMatch(fr)
	default:
		s.outOfSequence(f.MMType())
	}
}

// confirmParameters fixes the sounding round count and starts the sounding
// phase. asInitiator selects whether the start indication is ours to send.
func (s *Session) confirmParameters(rounds int, now time.Time, asInitiator bool) {
	s.timers.Cancel(s.id, timer.ParmConfirm)
	if rounds <= 0 {
		s.fail("peer advertised zero sounding rounds")
		return
	}
	s.agg.Begin(s.runID, rounds)
	s.state = StateParmConfirmed

	if asInitiator {
		ind := &mme.StartAttenCharInd{
			NumSounds:     uint8(rounds),
			Timeout:       budgetCentiseconds(time.Duration(rounds) * s.cfg.PerSoundBudget),
			RespType:      1,
			ForwardingSta: s.localMAC(),
			RunID:         s.runID,
		}
		if err := s.send(s.peerMAC(), s.localMAC(), ind); err != nil {
			s.fail("send start attenuation: " + err.Error())
			return
		}
	}
	s.state = StateSounding
	window := time.Duration(rounds) * s.cfg.PerSoundBudget
	s.timers.Arm(s.id, timer.SoundingWindow, now.Add(window))
}

// finalizeSounding reduces the collected samples to a profile and publishes
// the attenuation characteristic. A window with zero samples fails the
// session; partial data is valid.
func (s *Session) finalizeSounding(now time.Time) {
	s.timers.Cancel(s.id, timer.SoundingWindow)
	profile, err := s.agg.Finalize()
	if err != nil {
		if errors.Is(err, sounding.ErrNoSamples) {
			s.fail("attenuation could not be characterized: no sound samples")
		} else {
			s.fail("finalize sounding: " + err.Error())
		}
		return
	}
	s.profile = &profile
	s.state = StateAttenCharPending

	ind := &mme.AttenCharInd{
		SourceAddress: s.peerMAC(),
		RunID:         s.runID,
		SourceID:      s.cfg.PevID,
		RespID:        s.cfg.StationID,
		NumSounds:     uint8(profile.Samples),
		NumGroups:     uint8(profile.NumGroups),
		AAG:           profile.Groups,
	}
	// The timer is armed before the send so a lost frame still times out.
	s.timers.Arm(s.id, timer.AttenChar, now.Add(s.cfg.AttenCharTimeout))
	if err := s.send(s.peerMAC(), s.localMAC(), ind); err != nil {
		s.fail("send attenuation characteristic: " + err.Error())
	}
}

// enterMatching opens the final exchange. The vehicle side requests the
// match; the station side waits for the peer's request.
func (s *Session) enterMatching(now time.Time) {
	s.timers.Arm(s.id, timer.Match, now.Add(s.cfg.MatchTimeout))
	s.state = StateMatching
	if s.role != RoleVehicle {
		return
	}
	req := &mme.SlacMatchReq{
		MVFLength: 0x3E,
		PevID:     s.cfg.PevID,
		PevMac:    s.localMAC(),
		EvseID:    s.cfg.StationID,
		EvseMac:   s.peerMAC(),
		RunID:     s.runID,
	}
	if err := s.send(s.peerMAC(), s.localMAC(), req); err != nil {
		s.fail("send match request: " + err.Error())
	}
}

// completeStationMatch generates the session key, distributes it in the match
// confirmation and provisions the local modem.
func (s *Session) completeStationMatch(req *mme.SlacMatchReq, src model.MACAddr) {
	nmk, err := GenerateNMK()
	if err != nil {
		s.fail("generate nmk: " + err.Error())
		return
	}
	s.nmk = nmk
	s.nid = DeriveNID(nmk)
	s.hasNMK = true

	cnf := &mme.SlacMatchCnf{
		MVFLength: 0x56,
		PevID:     req.PevID,
		PevMac:    src,
		EvseID:    s.cfg.StationID,
		EvseMac:   s.localMAC(),
		RunID:     s.runID,
		NID:       s.nid,
		NMK:       s.nmk,
	}
	if err := s.send(s.peerMAC(), s.localMAC(), cnf); err != nil {
		s.fail("send match confirm: " + err.Error())
		return
	}
	if !s.cfg.ModemMAC.IsZero() {
		setKey := &mme.SetKeyReq{
			KeyType: 0x01,
			PID:     0x04,
			NewEKS:  0x01,
			NID:     s.nid,
			NewKey:  s.nmk,
		}
		if err := s.send(s.cfg.ModemMAC, s.localMAC(), setKey); err != nil {
			s.log.Warnf("session %s: modem key provisioning failed: %v", s.id, err)
		}
	}
	s.timers.Cancel(s.id, timer.Match)
	s.state = StateMatched
}

// completeVehicleMatch validates and stores the key received from the station.
func (s *Session) completeVehicleMatch(cnf *mme.SlacMatchCnf) {
	if cnf.NMK == ([16]byte{}) {
		s.fail("match confirm carried an empty network membership key")
		return
	}
	s.nmk = cnf.NMK
	s.nid = cnf.NID
	s.hasNMK = true
	s.timers.Cancel(s.id, timer.Match)
	s.state = StateMatched
}

// handleTimer consumes one fired deadline. The sounding window firing is a
// protocol outcome, not a timeout: it closes the sampling phase.
func (s *Session) handleTimer(name timer.Name, now time.Time) {
	if s.state.Terminal() {
		return
	}
	if name == timer.SoundingWindow && s.state == StateSounding {
		s.finalizeSounding(now)
		return
	}
	s.outState = s.state
	s.outTimer = name
	s.state = StateTimedOut
	s.timers.CancelAll(s.id)
}

func (s *Session) fail(reason string) {
	s.failReason = reason
	s.state = StateFailed
	s.timers.CancelAll(s.id)
}

func (s *Session) dropForeign(mmtype uint16) {
	s.log.Debugf("session %s: dropping %s with foreign run id", s.id, mme.TypeName(mmtype))
}

func (s *Session) outOfSequence(mmtype uint16) {
	s.oos++
	s.log.Debugf("session %s: out-of-sequence %s in state %s (%d/%d)",
		s.id, mme.TypeName(mmtype), s.state, s.oos, s.cfg.OutOfSeqTolerance)
	if s.oos > s.cfg.OutOfSeqTolerance {
		s.fail("out-of-sequence tolerance exceeded")
	}
}
