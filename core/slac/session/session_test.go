package session

import (
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/slac/core/events"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/mme"
	"github.com/kilianp07/slac/internal/eventbus"
)

var (
	evMac      = model.MACAddr{0x02, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e}
	stationMac = model.MACAddr{0x02, 0x01, 0x02, 0x03, 0x04, 0x05}
	modemMac   = model.MACAddr{0x00, 0xb0, 0x52, 0x00, 0x00, 0x01}
	testLink   = model.LinkIdentity{EV: evMac, Station: stationMac}
	t0         = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

type sentFrame struct {
	link model.LinkIdentity
	msg  *mme.Message
}

type captureTransport struct {
	frames []sentFrame
	fail   bool
}

func (c *captureTransport) Send(link model.LinkIdentity, buf []byte) error {
	if c.fail {
		return errors.New("transport down")
	}
	msg, err := mme.Decode(buf)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, sentFrame{link: link, msg: msg})
	return nil
}

func (c *captureTransport) last() *mme.Message {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1].msg
}

func testConfig(role Role) Config {
	return Config{
		Role:               role,
		ModemMAC:           modemMac,
		ExpectedRounds:     3,
		ParmConfirmTimeout: time.Second,
		PerSoundBudget:     100 * time.Millisecond,
		AttenCharTimeout:   time.Second,
		MatchTimeout:       2 * time.Second,
		OutOfSeqTolerance:  3,
	}
}

func drain(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func newTestRegistry(role Role) (*Registry, *captureTransport, <-chan eventbus.Event) {
	tr := &captureTransport{}
	bus := eventbus.New()
	sub := bus.Subscribe()
	r := NewRegistry(testConfig(role), tr, bus, nil, nil)
	return r, tr, sub
}

func inject(t *testing.T, r *Registry, f mme.Frame, src model.MACAddr, now time.Time) {
	t.Helper()
	buf := mme.Encode(&mme.Message{Dst: stationMac, Src: src, Frame: f})
	if err := r.OnFrame(testLink, buf, now); err != nil {
		t.Fatalf("on frame %s: %v", mme.TypeName(f.MMType()), err)
	}
}

func soundRound(t *testing.T, r *Registry, runID model.RunID, remaining uint8, atten uint8, now time.Time) {
	t.Helper()
	inject(t, r, &mme.MnbcSoundInd{RunID: runID, Remaining: remaining}, evMac, now)
	profile := &mme.AttenProfileInd{PevMac: evMac, NumGroups: mme.Groups}
	for g := range profile.AAG {
		profile.AAG[g] = atten
	}
	inject(t, r, profile, evMac, now)
}

// TestStationHappyPath walks the full station-side flow: parameter exchange,
// three sounding rounds, attenuation characteristic exchange and the final
// match with key distribution.
func TestStationHappyPath(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleStation)

	sid, err := r.StartAttempt(testLink, t0)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	req, ok := tr.last().Frame.(*mme.SlacParmReq)
	if !ok {
		t.Fatalf("expected parameter request, got %T", tr.last().Frame)
	}
	runID := req.RunID
	if got := r.byLink[testLink].State(); got != StateParmRequested {
		t.Fatalf("state after start: %s", got)
	}

	inject(t, r, &mme.SlacParmCnf{NumSounds: 3, RunID: runID}, evMac, t0.Add(10*time.Millisecond))
	if _, ok := tr.last().Frame.(*mme.StartAttenCharInd); !ok {
		t.Fatalf("expected start attenuation indication, got %T", tr.last().Frame)
	}
	if got := r.byLink[testLink].State(); got != StateSounding {
		t.Fatalf("state after confirm: %s", got)
	}

	for i, atten := range []uint8{10, 20, 31} {
		soundRound(t, r, runID, uint8(2-i), atten, t0.Add(time.Duration(20+i*10)*time.Millisecond))
	}
	ind, ok := tr.last().Frame.(*mme.AttenCharInd)
	if !ok {
		t.Fatalf("expected attenuation characteristic, got %T", tr.last().Frame)
	}
	if ind.NumSounds != 3 || ind.AAG[0] != 20 {
		t.Fatalf("profile indication wrong: sounds=%d aag0=%d", ind.NumSounds, ind.AAG[0])
	}
	if got := r.byLink[testLink].State(); got != StateAttenCharPending {
		t.Fatalf("state after rounds: %s", got)
	}

	inject(t, r, &mme.AttenCharRsp{RunID: runID}, evMac, t0.Add(60*time.Millisecond))
	if got := r.byLink[testLink].State(); got != StateMatching {
		t.Fatalf("state after rsp: %s", got)
	}

	inject(t, r, &mme.SlacMatchReq{RunID: runID, PevMac: evMac}, evMac, t0.Add(80*time.Millisecond))

	var cnf *mme.SlacMatchCnf
	var setKey *mme.SetKeyReq
	for _, f := range tr.frames {
		switch fr := f.msg.Frame.(type) {
		case *mme.SlacMatchCnf:
			cnf = fr
		case *mme.SetKeyReq:
			setKey = fr
		}
	}
	if cnf == nil {
		t.Fatalf("no match confirm sent")
	}
	if cnf.NMK == ([16]byte{}) {
		t.Fatalf("match confirm carries empty nmk")
	}
	if setKey == nil || setKey.NewKey != cnf.NMK || setKey.NID != cnf.NID {
		t.Fatalf("modem provisioning missing or inconsistent")
	}
	if DeriveNID(cnf.NMK) != cnf.NID {
		t.Fatalf("nid not derived from nmk")
	}

	if _, ok := r.ActiveSession(testLink); ok {
		t.Fatalf("terminal session still active")
	}

	var started, profileReady, matched int
	var matchedNMK [16]byte
	for _, e := range drain(sub) {
		switch ev := e.(type) {
		case events.SessionStarted:
			started++
			if ev.SessionID != sid || ev.RunID != runID {
				t.Fatalf("started event mismatch: %+v", ev)
			}
		case events.AttenuationProfileReady:
			profileReady++
			if ev.Profile.Samples != 3 || ev.Profile.Groups[0] != 20 {
				t.Fatalf("profile event wrong: %+v", ev.Profile)
			}
		case events.Matched:
			matched++
			matchedNMK = ev.NMK
		case events.Failed, events.TimedOut:
			t.Fatalf("unexpected terminal event: %+v", e)
		}
	}
	if started != 1 || profileReady != 1 || matched != 1 {
		t.Fatalf("event counts: started=%d profile=%d matched=%d", started, profileReady, matched)
	}
	if matchedNMK != cnf.NMK {
		t.Fatalf("matched event nmk differs from distributed key")
	}

	recs := r.RecentOutcomes()
	if len(recs) != 1 || recs[0].State != StateMatched {
		t.Fatalf("recent outcomes: %+v", recs)
	}
}

// TestVehicleHappyPath checks the vehicle side of the match step: the match
// request is ours to send and the received key is stored.
func TestVehicleHappyPath(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleVehicle)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	runID := tr.last().Frame.(*mme.SlacParmReq).RunID

	// The vehicle-side registry sends toward the station.
	inject(t, r, &mme.SlacParmCnf{NumSounds: 1, RunID: runID}, stationMac, t0)
	profile := &mme.AttenProfileInd{PevMac: stationMac, NumGroups: 10}
	inject(t, r, profile, stationMac, t0)
	inject(t, r, &mme.AttenCharRsp{RunID: runID}, stationMac, t0)

	if _, ok := tr.last().Frame.(*mme.SlacMatchReq); !ok {
		t.Fatalf("vehicle must send the match request, got %T", tr.last().Frame)
	}

	nmk := [16]byte{1, 2, 3, 4}
	inject(t, r, &mme.SlacMatchCnf{RunID: runID, NMK: nmk, NID: DeriveNID(nmk)}, stationMac, t0)

	var matchedEv *events.Matched
	for _, e := range drain(sub) {
		if m, ok := e.(events.Matched); ok {
			ev := m
			matchedEv = &ev
		}
	}
	if matchedEv == nil || matchedEv.NMK != nmk {
		t.Fatalf("vehicle did not store the distributed key")
	}
}

// TestPartialSoundingStillMatches covers the window expiring with only one of
// three rounds received: partial data is valid, not an error.
func TestPartialSoundingStillMatches(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleStation)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	runID := tr.last().Frame.(*mme.SlacParmReq).RunID
	inject(t, r, &mme.SlacParmCnf{NumSounds: 3, RunID: runID}, evMac, t0)

	soundRound(t, r, runID, 2, 42, t0.Add(50*time.Millisecond))

	// Window is 3 rounds x 100ms; fire it.
	r.Tick(t0.Add(400 * time.Millisecond))

	ind, ok := tr.last().Frame.(*mme.AttenCharInd)
	if !ok {
		t.Fatalf("expected attenuation characteristic after window, got %T", tr.last().Frame)
	}
	if ind.NumSounds != 1 || ind.AAG[0] != 42 {
		t.Fatalf("partial profile wrong: %+v", ind)
	}
	if got := r.byLink[testLink].State(); got != StateAttenCharPending {
		t.Fatalf("state after window: %s", got)
	}
	for _, e := range drain(sub) {
		switch e.(type) {
		case events.Failed, events.TimedOut:
			t.Fatalf("partial sounding must not terminate the session: %+v", e)
		}
	}
}

// TestNoSamplesFails covers the window expiring with zero samples: the
// session fails rather than producing a silent zero profile.
func TestNoSamplesFails(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleStation)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	runID := tr.last().Frame.(*mme.SlacParmReq).RunID
	inject(t, r, &mme.SlacParmCnf{NumSounds: 3, RunID: runID}, evMac, t0)

	r.Tick(t0.Add(time.Second))

	var failed int
	for _, e := range drain(sub) {
		if f, ok := e.(events.Failed); ok {
			failed++
			if f.Reason == "" {
				t.Fatalf("failure without reason")
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed events: %d", failed)
	}
	if _, ok := r.ActiveSession(testLink); ok {
		t.Fatalf("failed session still active")
	}
}

// TestSupersession covers a second parameter request arriving mid-attempt:
// the old session is failed and removed, the new one starts fresh.
func TestSupersession(t *testing.T) {
	r, _, sub := newTestRegistry(RoleStation)

	r1 := model.RunID{1, 1, 1, 1, 1, 1, 1, 1}
	inject(t, r, &mme.SlacParmReq{RunID: r1}, evMac, t0)
	firstID, ok := r.ActiveSession(testLink)
	if !ok {
		t.Fatalf("no session after parameter request")
	}
	if got := r.byLink[testLink].RunID(); got != r1 {
		t.Fatalf("run id not adopted: %s", got)
	}

	r2 := model.RunID{2, 2, 2, 2, 2, 2, 2, 2}
	inject(t, r, &mme.SlacParmReq{RunID: r2}, evMac, t0.Add(time.Millisecond))
	secondID, ok := r.ActiveSession(testLink)
	if !ok {
		t.Fatalf("no session after superseding request")
	}
	if secondID == firstID {
		t.Fatalf("session not replaced")
	}
	s := r.byLink[testLink]
	if s.RunID() != r2 || s.State() != StateParmRequested {
		t.Fatalf("new session wrong: run=%s state=%s", s.RunID(), s.State())
	}

	var failed int
	for _, e := range drain(sub) {
		if f, ok := e.(events.Failed); ok {
			failed++
			if f.SessionID != firstID {
				t.Fatalf("failed event for wrong session: %+v", f)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed events: %d", failed)
	}
	if r.timers.Len() != 1 {
		t.Fatalf("stale timers after supersession: %d", r.timers.Len())
	}
}

// TestParmConfirmTimeout covers the parameter confirmation never arriving.
func TestParmConfirmTimeout(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleStation)

	sid, err := r.StartAttempt(testLink, t0)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	runID := tr.last().Frame.(*mme.SlacParmReq).RunID

	r.Tick(t0.Add(2 * time.Second))

	var timedOut int
	for _, e := range drain(sub) {
		if to, ok := e.(events.TimedOut); ok {
			timedOut++
			if to.SessionID != sid || to.AtState != "parm-requested" {
				t.Fatalf("timeout event wrong: %+v", to)
			}
		}
	}
	if timedOut != 1 {
		t.Fatalf("timed out events: %d", timedOut)
	}

	// Late frames for the dead attempt are dropped without effect.
	inject(t, r, &mme.SlacParmCnf{NumSounds: 3, RunID: runID}, evMac, t0.Add(3*time.Second))
	if n := len(drain(sub)); n != 0 {
		t.Fatalf("late frame produced %d events", n)
	}
	if _, ok := r.ActiveSession(testLink); ok {
		t.Fatalf("timed-out session still active")
	}
}

// TestForeignRunIDIsNoOp checks that frames of another attempt never move
// the state machine.
func TestForeignRunIDIsNoOp(t *testing.T) {
	r, tr, _ := newTestRegistry(RoleStation)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	runID := tr.last().Frame.(*mme.SlacParmReq).RunID
	inject(t, r, &mme.SlacParmCnf{NumSounds: 3, RunID: runID}, evMac, t0)

	foreign := model.RunID{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA, 0x99, 0x88}
	inject(t, r, &mme.MnbcSoundInd{RunID: foreign, Remaining: 2}, evMac, t0)
	inject(t, r, &mme.AttenCharRsp{RunID: foreign}, evMac, t0)

	s := r.byLink[testLink]
	if s.State() != StateSounding {
		t.Fatalf("foreign frames moved state to %s", s.State())
	}
	if s.oos != 0 {
		t.Fatalf("foreign run id counted against tolerance")
	}
}

// TestOutOfSequenceTolerance checks that repeatedly nonsensical frames fail
// the session.
func TestOutOfSequenceTolerance(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleStation)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	runID := tr.last().Frame.(*mme.SlacParmReq).RunID

	// The match confirm is never legal in parm-requested.
	for i := 0; i < 4; i++ {
		inject(t, r, &mme.SlacMatchCnf{RunID: runID}, evMac, t0)
	}

	var failed int
	for _, e := range drain(sub) {
		if _, ok := e.(events.Failed); ok {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("failed events: %d", failed)
	}
}

// TestDecodeErrorHasNoSessionImpact checks the error taxonomy: malformed
// input is reported and dropped, the session is untouched.
func TestDecodeErrorHasNoSessionImpact(t *testing.T) {
	r, _, _ := newTestRegistry(RoleStation)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if err := r.OnFrame(testLink, []byte{1, 2, 3}, t0); !errors.Is(err, mme.ErrMalformed) {
		t.Fatalf("got %v want ErrMalformed", err)
	}
	if got := r.byLink[testLink].State(); got != StateParmRequested {
		t.Fatalf("malformed frame moved state to %s", got)
	}
}

// TestRearmOnRestartedAttempt checks that a new attempt on the same link gets
// its own timers and the old ones never fire against it.
func TestRearmOnRestartedAttempt(t *testing.T) {
	r, _, sub := newTestRegistry(RoleStation)

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := r.StartAttempt(testLink, t0.Add(10*time.Millisecond)); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	drain(sub)

	// Polling at the first attempt's deadline must not kill the second
	// attempt, whose timer is 10ms later.
	r.Tick(t0.Add(time.Second))
	second := r.byLink[testLink]
	if second != nil && second.State() != StateParmRequested {
		t.Fatalf("unexpected state %v", second.State())
	}
}

// TestSendFailureFailsAttempt checks that a transport refusing the opening
// frame yields a clean Failed outcome instead of a stuck session.
func TestSendFailureFailsAttempt(t *testing.T) {
	r, tr, sub := newTestRegistry(RoleStation)
	tr.fail = true

	if _, err := r.StartAttempt(testLink, t0); err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, active := r.ActiveSession(testLink); active {
		t.Fatal("failed attempt left an active session")
	}

	var sawFailed bool
	for _, e := range drain(sub) {
		if f, ok := e.(events.Failed); ok {
			sawFailed = true
			if f.Reason == "" {
				t.Fatal("failure without reason")
			}
		}
	}
	if !sawFailed {
		t.Fatal("no Failed event published")
	}
	if recs := r.RecentOutcomes(); len(recs) != 1 || recs[0].State != StateFailed {
		t.Fatalf("outcomes: %+v", recs)
	}
}
