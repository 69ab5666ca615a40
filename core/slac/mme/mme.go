// Package mme implements the codec for the HomePlug green-PHY management
// message entries (MMEs) exchanged during signal level attenuation
// characterization: parameter request/confirm, start attenuation, sound and
// attenuation profile indications, attenuation characteristic exchange, match
// request/confirm and the network key provisioning pair.
//
// Frames are a fixed byte layout: a 14-byte Ethernet header, a 5-byte
// management header (version, little-endian type, fragmentation) and a
// per-variant payload, padded to the 60-byte Ethernet minimum on encode.
package mme

import "github.com/kilianp07/slac/core/model"

// EtherTypeHPAV is the EtherType of HomePlug AV management frames.
const EtherTypeHPAV = 0x88E1

// MMV is the management message version used by the SLAC message set.
const MMV = 0x01

const (
	ethHeaderLen  = 14
	mmeHeaderLen  = 5
	headerLen     = ethHeaderLen + mmeHeaderLen
	minFrameLen   = 60
	runIDLen      = 8
	stationIDLen  = 17
	senderIDLen   = 17
	soundRandLen  = 16
	nmkLen        = 16
	nidLen        = 7
	reservedBlock = 8
)

// Groups is the number of carrier groups in an attenuation profile.
const Groups = 58

// Base management message type codes. The two least significant bits select
// the variant: REQ, CNF, IND or RSP.
const (
	CMSetKey         = 0x6008
	CMSlacParm       = 0x6064
	CMStartAttenChar = 0x6068
	CMAttenChar      = 0x606C
	CMMnbcSound      = 0x6074
	CMSlacMatch      = 0x607C
	CMAttenProfile   = 0x6084
)

// Variant selectors within a message type.
const (
	VariantReq = 0x0000
	VariantCnf = 0x0001
	VariantInd = 0x0002
	VariantRsp = 0x0003
)

// MMType values for every frame the codec understands.
const (
	TypeSlacParmReq       = CMSlacParm | VariantReq
	TypeSlacParmCnf       = CMSlacParm | VariantCnf
	TypeStartAttenCharInd = CMStartAttenChar | VariantInd
	TypeMnbcSoundInd      = CMMnbcSound | VariantInd
	TypeAttenProfileInd   = CMAttenProfile | VariantInd
	TypeAttenCharInd      = CMAttenChar | VariantInd
	TypeAttenCharRsp      = CMAttenChar | VariantRsp
	TypeSlacMatchReq      = CMSlacMatch | VariantReq
	TypeSlacMatchCnf      = CMSlacMatch | VariantCnf
	TypeSetKeyReq         = CMSetKey | VariantReq
	TypeSetKeyCnf         = CMSetKey | VariantCnf
)

// Frame is one management message payload. The set of implementations is
// closed; Decode returns ErrUnknownType for anything else.
type Frame interface {
	// MMType returns the full management message type including the variant.
	MMType() uint16

	payloadLen() int
	encodePayload(b []byte)
	decodePayload(b []byte) error
}

// Message is a decoded frame together with its link addressing.
type Message struct {
	Dst   model.MACAddr
	Src   model.MACAddr
	Frame Frame
}

// TypeName returns a short human-readable name for an MMType value.
func TypeName(mmtype uint16) string {
	switch mmtype {
	case TypeSlacParmReq:
		return "CM_SLAC_PARM.REQ"
	case TypeSlacParmCnf:
		return "CM_SLAC_PARM.CNF"
	case TypeStartAttenCharInd:
		return "CM_START_ATTEN_CHAR.IND"
	case TypeMnbcSoundInd:
		return "CM_MNBC_SOUND.IND"
	case TypeAttenProfileInd:
		return "CM_ATTEN_PROFILE.IND"
	case TypeAttenCharInd:
		return "CM_ATTEN_CHAR.IND"
	case TypeAttenCharRsp:
		return "CM_ATTEN_CHAR.RSP"
	case TypeSlacMatchReq:
		return "CM_SLAC_MATCH.REQ"
	case TypeSlacMatchCnf:
		return "CM_SLAC_MATCH.CNF"
	case TypeSetKeyReq:
		return "CM_SET_KEY.REQ"
	case TypeSetKeyCnf:
		return "CM_SET_KEY.CNF"
	}
	return "UNKNOWN"
}
