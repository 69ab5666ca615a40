package session

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// GenerateNMK draws a fresh 16-byte network membership key. A new key is
// generated for every successful session and never reused.
func GenerateNMK() ([16]byte, error) {
	var nmk [16]byte
	if _, err := rand.Read(nmk[:]); err != nil {
		return nmk, fmt.Errorf("generate nmk: %w", err)
	}
	return nmk, nil
}

// DeriveNID derives the 7-byte network identifier from a membership key.
// The two most significant bits of the identifier are reserved and cleared.
func DeriveNID(nmk [16]byte) [7]byte {
	sum := sha256.Sum256(nmk[:])
	var nid [7]byte
	copy(nid[:], sum[:7])
	nid[6] &= 0x3F
	return nid
}
