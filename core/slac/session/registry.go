package session

import (
	"fmt"
	"time"

	"github.com/kilianp07/slac/core/events"
	"github.com/kilianp07/slac/core/logger"
	"github.com/kilianp07/slac/core/metrics"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/mme"
	"github.com/kilianp07/slac/core/slac/timer"
	"github.com/kilianp07/slac/core/transport"
	"github.com/kilianp07/slac/internal/eventbus"
)

// recentOutcomes bounds the terminal diagnostics ring.
const recentOutcomes = 32

// TerminalRecord is a short-lived diagnostic trace of a finished session.
type TerminalRecord struct {
	SessionID model.SessionID
	Link      model.LinkIdentity
	RunID     model.RunID
	State     State
	Reason    string
	At        time.Time
}

// Registry owns the active sessions of one link domain and routes inbound
// frames and timer expiries to them. It is driven by a single scheduling
// context; it is not safe for concurrent use. Independent registries pinned
// to disjoint link sets may run in parallel, communicating only through the
// event bus.
type Registry struct {
	cfg    Config
	log    logger.Logger
	tr     transport.FrameTransport
	bus    eventbus.EventBus
	sink   metrics.SessionSink
	timers *timer.Manager

	byLink map[model.LinkIdentity]*Session
	byID   map[model.SessionID]*Session
	recent []TerminalRecord
}

// NewRegistry creates an empty registry. bus and sink may be nil.
func NewRegistry(cfg Config, tr transport.FrameTransport, bus eventbus.EventBus, sink metrics.SessionSink, log logger.Logger) *Registry {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Registry{
		cfg:    cfg,
		log:    log,
		tr:     tr,
		bus:    bus,
		sink:   sink,
		timers: timer.NewManager(),
		byLink: make(map[model.LinkIdentity]*Session),
		byID:   make(map[model.SessionID]*Session),
	}
}

// StartAttempt opens a locally initiated matching attempt on the link. An
// existing non-terminal session on the link is superseded.
func (r *Registry) StartAttempt(link model.LinkIdentity, now time.Time) (model.SessionID, error) {
	r.supersede(link, now)
	s := r.create(link, now)
	if err := s.start(now); err != nil {
		r.destroy(s, now)
		return "", fmt.Errorf("start attempt on %s: %w", link, err)
	}
	r.emitStarted(s)
	r.flush(s, now)
	return s.id, nil
}

// OnFrame routes one inbound raw frame. Decode errors are recoverable: the
// frame is dropped and the error returned for the caller to log; no session
// is affected. Frames that match no active session are dropped silently.
func (r *Registry) OnFrame(link model.LinkIdentity, payload []byte, now time.Time) error {
	msg, err := mme.Decode(payload)
	if err != nil {
		return err
	}

	switch f := msg.Frame.(type) {
	case *mme.SlacParmReq:
		// A new parameter request supersedes whatever negotiation is
		// running on the link: a link is in at most one matching
		// negotiation at a time.
		r.supersede(link, now)
		s := r.create(link, now)
		s.adoptPeerRequest(f, now)
		r.emitStarted(s)
		r.flush(s, now)
		return nil
	case *mme.SetKeyCnf:
		// Modem acknowledgement of key provisioning; bookkeeping only.
		if f.Result != 0 {
			r.log.Warnf("modem rejected key provisioning on %s (result 0x%02x)", link, f.Result)
		} else {
			r.log.Debugf("modem key provisioning confirmed on %s", link)
		}
		return nil
	}

	s, ok := r.byLink[link]
	if !ok {
		r.log.Debugf("dropping %s for %s: no active session", mme.TypeName(msg.Frame.MMType()), link)
		return nil
	}
	s.handleFrame(msg.Frame, msg.Src, now)
	r.flush(s, now)
	return nil
}

// Tick advances time: every timer whose deadline elapsed fires against its
// session, in expiry order. now must come from a monotonic clock.
func (r *Registry) Tick(now time.Time) {
	for _, exp := range r.timers.Poll(now) {
		s, ok := r.byID[exp.Session]
		if !ok {
			// Destroyed sessions cancel their timers atomically; a
			// stale expiry here would be a bug.
			r.log.Warnf("timer %s fired for unknown session %s", exp.Name, exp.Session)
			continue
		}
		s.handleTimer(exp.Name, now)
		r.flush(s, now)
	}
}

// ActiveSession returns the identifier of the non-terminal session on the
// link, if any.
func (r *Registry) ActiveSession(link model.LinkIdentity) (model.SessionID, bool) {
	if s, ok := r.byLink[link]; ok {
		return s.id, true
	}
	return "", false
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int { return len(r.byLink) }

// RecentOutcomes returns the bounded ring of terminal diagnostics records,
// oldest first.
func (r *Registry) RecentOutcomes() []TerminalRecord {
	out := make([]TerminalRecord, len(r.recent))
	copy(out, r.recent)
	return out
}

func (r *Registry) create(link model.LinkIdentity, now time.Time) *Session {
	s := newSession(link, r.cfg, r.timers, r.sendFrame, r.log, now)
	r.byLink[link] = s
	r.byID[s.id] = s
	return s
}

func (r *Registry) sendFrame(dst, src model.MACAddr, f mme.Frame) error {
	buf := mme.Encode(&mme.Message{Dst: dst, Src: src, Frame: f})
	link := model.LinkIdentity{EV: dst, Station: src}
	if r.cfg.Role == RoleVehicle {
		link = model.LinkIdentity{EV: src, Station: dst}
	}
	return r.tr.Send(link, buf)
}

// supersede fails and removes a live session on the link, if any.
func (r *Registry) supersede(link model.LinkIdentity, now time.Time) {
	s, ok := r.byLink[link]
	if !ok {
		return
	}
	r.log.Infof("superseding session %s on %s in state %s", s.id, link, s.state)
	s.fail("superseded by a new matching attempt")
	r.flush(s, now)
}

// flush publishes pending lifecycle events and destroys terminal sessions.
// Every event fires exactly once per session.
func (r *Registry) flush(s *Session, now time.Time) {
	if s.profile != nil && !s.profileEmitted {
		s.profileEmitted = true
		r.publish(events.AttenuationProfileReady{
			SessionID: s.id, Link: s.link, RunID: s.runID, Profile: *s.profile,
		})
	}
	if !s.state.Terminal() || s.outcomeEmitted {
		return
	}
	s.outcomeEmitted = true

	outcome := "failed"
	reason := s.failReason
	switch s.state {
	case StateMatched:
		outcome = "matched"
		r.publish(events.Matched{SessionID: s.id, Link: s.link, RunID: s.runID, NMK: s.nmk})
		r.log.Infof("session %s matched on %s", s.id, s.link)
	case StateTimedOut:
		outcome = "timed_out"
		reason = "timer " + s.outTimer.String() + " expired in state " + s.outState.String()
		r.publish(events.TimedOut{
			SessionID: s.id, Link: s.link, RunID: s.runID,
			AtState: s.outState.String(), Timer: s.outTimer.String(),
		})
		r.log.Warnf("session %s timed out on %s: %s", s.id, s.link, reason)
	default:
		r.publish(events.Failed{SessionID: s.id, Link: s.link, RunID: s.runID, Reason: s.failReason})
		r.log.Warnf("session %s failed on %s: %s", s.id, s.link, s.failReason)
	}

	if err := r.sink.RecordSessionOutcome(metrics.SessionOutcome{
		SessionID: string(s.id),
		Link:      s.link.String(),
		RunID:     s.runID.String(),
		Outcome:   outcome,
		AtState:   s.state.String(),
		Samples:   s.agg.Count(),
		Duration:  now.Sub(s.createdAt),
		Time:      now,
	}); err != nil {
		r.log.Errorf("record session outcome: %v", err)
	}

	r.recent = append(r.recent, TerminalRecord{
		SessionID: s.id, Link: s.link, RunID: s.runID,
		State: s.state, Reason: reason, At: now,
	})
	if len(r.recent) > recentOutcomes {
		r.recent = r.recent[len(r.recent)-recentOutcomes:]
	}
	r.destroy(s, now)
}

// destroy removes the session and cancels its timers atomically so a stale
// deadline can never fire against a reused identifier.
func (r *Registry) destroy(s *Session, now time.Time) {
	r.timers.CancelAll(s.id)
	if r.byLink[s.link] == s {
		delete(r.byLink, s.link)
	}
	delete(r.byID, s.id)
	if err := r.sink.RecordActiveSessions(len(r.byLink)); err != nil {
		r.log.Errorf("record active sessions: %v", err)
	}
}

func (r *Registry) emitStarted(s *Session) {
	if s.startedEmitted {
		return
	}
	s.startedEmitted = true
	r.publish(events.SessionStarted{SessionID: s.id, Link: s.link, RunID: s.runID})
	if err := r.sink.RecordActiveSessions(len(r.byLink)); err != nil {
		r.log.Errorf("record active sessions: %v", err)
	}
}

func (r *Registry) publish(e eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
