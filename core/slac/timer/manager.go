// Package timer tracks the named per-session deadlines of the matching
// procedure. The manager never reads the clock; callers drive it with
// monotonic timestamps, which keeps timer behavior fully replayable.
package timer

import (
	"container/heap"
	"time"

	"github.com/kilianp07/slac/core/model"
)

// Name identifies one of the fixed per-session deadlines.
type Name uint8

const (
	// ParmConfirm bounds the wait for the parameter confirmation.
	ParmConfirm Name = iota
	// SoundingWindow bounds the whole sounding phase.
	SoundingWindow
	// AttenChar bounds the wait for the attenuation characteristic response.
	AttenChar
	// Match bounds the final match exchange.
	Match
)

func (n Name) String() string {
	switch n {
	case ParmConfirm:
		return "parm-confirm"
	case SoundingWindow:
		return "sounding-window"
	case AttenChar:
		return "atten-char"
	case Match:
		return "match"
	}
	return "unknown"
}

// Expiry is one fired timer, reported exactly once by Poll.
type Expiry struct {
	Session  model.SessionID
	Name     Name
	Deadline time.Time
}

type key struct {
	session model.SessionID
	name    Name
}

type entry struct {
	key      key
	deadline time.Time
	index    int
	dead     bool // cancelled or superseded; skipped by Poll
}

// Manager owns the armed timers of one registry. Exactly one timer per
// (session, name) pair is active at a time; re-arming replaces the deadline.
// Not safe for concurrent use; it is owned by a single scheduling context.
type Manager struct {
	queue  entryHeap
	active map[key]*entry
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{active: make(map[key]*entry)}
}

// Arm sets the named timer for the session to the given absolute deadline,
// replacing any previous deadline for the same name.
func (m *Manager) Arm(session model.SessionID, name Name, deadline time.Time) {
	k := key{session: session, name: name}
	if old, ok := m.active[k]; ok {
		old.dead = true
	}
	e := &entry{key: k, deadline: deadline}
	m.active[k] = e
	heap.Push(&m.queue, e)
}

// Cancel disarms the named timer. Canceling a timer that is not armed, or
// that already fired, is a no-op.
func (m *Manager) Cancel(session model.SessionID, name Name) {
	k := key{session: session, name: name}
	if e, ok := m.active[k]; ok {
		e.dead = true
		delete(m.active, k)
	}
}

// CancelAll disarms every timer owned by the session. Used when a session is
// destroyed so a stale deadline can never fire against a reused identifier.
func (m *Manager) CancelAll(session model.SessionID) {
	for k, e := range m.active {
		if k.session == session {
			e.dead = true
			delete(m.active, k)
		}
	}
}

// Armed reports whether the named timer is currently armed.
func (m *Manager) Armed(session model.SessionID, name Name) bool {
	_, ok := m.active[key{session: session, name: name}]
	return ok
}

// Len returns the number of armed timers.
func (m *Manager) Len() int { return len(m.active) }

// Poll returns every timer whose deadline is at or before now, in expiry
// order, each exactly once. A fired timer is disarmed; firing takes
// precedence over a later Cancel.
func (m *Manager) Poll(now time.Time) []Expiry {
	var fired []Expiry
	for m.queue.Len() > 0 {
		e := m.queue[0]
		if e.dead {
			heap.Pop(&m.queue)
			continue
		}
		if e.deadline.After(now) {
			break
		}
		heap.Pop(&m.queue)
		delete(m.active, e.key)
		fired = append(fired, Expiry{Session: e.key.session, Name: e.key.name, Deadline: e.deadline})
	}
	return fired
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
