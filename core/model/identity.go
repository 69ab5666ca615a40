// Package model defines the shared identity types of the matching domain.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/google/uuid"
)

// MACAddr is a 48-bit Ethernet hardware address.
type MACAddr [6]byte

// ParseMAC parses a textual hardware address in any form net.ParseMAC
// accepts, rejecting addresses that are not 48 bits wide.
func ParseMAC(s string) (MACAddr, error) {
	var m MACAddr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, fmt.Errorf("parse mac %q: %w", s, err)
	}
	if len(hw) != 6 {
		return m, fmt.Errorf("parse mac %q: not a 48-bit address", s)
	}
	copy(m[:], hw)
	return m, nil
}

func (m MACAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether the address is all zeroes.
func (m MACAddr) IsZero() bool { return m == MACAddr{} }

// LinkIdentity names one physical pairing of a vehicle and a station. It is
// the key under which at most one non-terminal session exists.
type LinkIdentity struct {
	EV      MACAddr
	Station MACAddr
}

func (l LinkIdentity) String() string {
	return l.EV.String() + "<->" + l.Station.String()
}

// RunID is the 8-byte correlation token of one matching attempt, carried in
// every frame of the attempt.
type RunID [8]byte

// NewRunID draws a fresh random run identifier.
func NewRunID() (RunID, error) {
	var r RunID
	if _, err := rand.Read(r[:]); err != nil {
		return r, fmt.Errorf("generate run id: %w", err)
	}
	return r, nil
}

func (r RunID) String() string { return hex.EncodeToString(r[:]) }

// SessionID identifies one session across its whole lifecycle, including in
// events published after the session is gone.
type SessionID string

// NewSessionID returns a unique session identifier.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }
