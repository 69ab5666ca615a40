// Package simulator provides a scripted vehicle-side peer. It speaks the
// matching procedure over an in-memory pipe so the station side can be
// exercised end to end without powerline hardware.
package simulator

import (
	"context"
	"sync"

	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/mme"
	"github.com/kilianp07/slac/infra/logger"
	"github.com/kilianp07/slac/infra/transport"
)

// Config shapes the scripted behavior.
type Config struct {
	EVMac      model.MACAddr
	StationMac model.MACAddr
	// Rounds is the sound count advertised in the parameter confirmation.
	Rounds int
	// Attenuation is the constant per-group value reported in every profile.
	Attenuation uint8
	// DropProfiles withholds that many profile indications from the end of
	// the sounding phase, exercising the partial-data path.
	DropProfiles int
	// RefuseAttenChar rejects the attenuation characteristic.
	RefuseAttenChar bool
	// NoMatch suppresses the match request after accepting the profile.
	NoMatch bool
	// Silent ignores the parameter request entirely, exercising timeouts.
	Silent bool
}

// EV is the scripted peer. Run drives it; Matched and NMK expose the result.
type EV struct {
	cfg  Config
	pipe *transport.Pipe
	log  logger.Logger

	mu      sync.Mutex
	nmk     [16]byte
	matched bool
}

// New creates a scripted vehicle on its end of the pipe.
func New(cfg Config, pipe *transport.Pipe) *EV {
	if cfg.Rounds <= 0 {
		cfg.Rounds = 3
	}
	return &EV{cfg: cfg, pipe: pipe, log: logger.New("sim_ev")}
}

// Matched reports whether the script completed a match.
func (e *EV) Matched() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matched
}

// NMK returns the key received in the match confirmation.
func (e *EV) NMK() ([16]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nmk, e.matched
}

// Run consumes frames until the context is canceled or the pipe closes.
func (e *EV) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-e.pipe.Inbound():
			if !ok {
				return nil
			}
			if err := e.handle(d.Payload); err != nil {
				return err
			}
		}
	}
}

func (e *EV) handle(payload []byte) error {
	msg, err := mme.Decode(payload)
	if err != nil {
		e.log.Debugf("ignoring undecodable frame: %v", err)
		return nil
	}
	switch f := msg.Frame.(type) {
	case *mme.SlacParmReq:
		if e.cfg.Silent {
			return nil
		}
		return e.reply(&mme.SlacParmCnf{
			MSoundTarget:  e.cfg.StationMac,
			NumSounds:     uint8(e.cfg.Rounds),
			RespType:      1,
			ForwardingSta: e.cfg.EVMac,
			RunID:         f.RunID,
		})
	case *mme.StartAttenCharInd:
		return e.sound(f.RunID)
	case *mme.AttenCharInd:
		result := uint8(0)
		if e.cfg.RefuseAttenChar {
			result = 1
		}
		if err := e.reply(&mme.AttenCharRsp{RunID: f.RunID, Result: result}); err != nil {
			return err
		}
		if e.cfg.RefuseAttenChar || e.cfg.NoMatch {
			return nil
		}
		return e.reply(&mme.SlacMatchReq{
			MVFLength: 0x3E,
			PevMac:    e.cfg.EVMac,
			EvseMac:   e.cfg.StationMac,
			RunID:     f.RunID,
		})
	case *mme.SlacMatchCnf:
		e.mu.Lock()
		e.nmk = f.NMK
		e.matched = true
		e.mu.Unlock()
		e.log.Infof("matched, key received")
	}
	return nil
}

// sound emits the sounding rounds back to back. Each round is a sound
// indication followed by its attenuation profile, minus the configured drops.
func (e *EV) sound(runID model.RunID) error {
	for i := 0; i < e.cfg.Rounds; i++ {
		remaining := uint8(e.cfg.Rounds - 1 - i)
		if err := e.reply(&mme.MnbcSoundInd{RunID: runID, Remaining: remaining}); err != nil {
			return err
		}
		if i >= e.cfg.Rounds-e.cfg.DropProfiles {
			continue
		}
		profile := &mme.AttenProfileInd{PevMac: e.cfg.EVMac, NumGroups: mme.Groups}
		for g := range profile.AAG {
			profile.AAG[g] = e.cfg.Attenuation
		}
		if err := e.reply(profile); err != nil {
			return err
		}
	}
	return nil
}

func (e *EV) reply(f mme.Frame) error {
	buf := mme.Encode(&mme.Message{Dst: e.cfg.StationMac, Src: e.cfg.EVMac, Frame: f})
	link := model.LinkIdentity{EV: e.cfg.EVMac, Station: e.cfg.StationMac}
	return e.pipe.Send(link, buf)
}
