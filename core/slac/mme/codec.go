package mme

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kilianp07/slac/core/model"
)

// ErrMalformed reports a frame that is too short, carries the wrong
// EtherType or version, or whose payload does not match its declared type.
var ErrMalformed = errors.New("malformed management frame")

// ErrUnknownType reports a well-formed header with a management message type
// outside the closed set this codec understands.
var ErrUnknownType = errors.New("unknown management message type")

// Decode parses a raw Ethernet frame into a Message. Truncated, oversized or
// otherwise malformed input yields an error; Decode never panics regardless
// of input.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: frame of %d bytes shorter than header", ErrMalformed, len(buf))
	}
	var msg Message
	copy(msg.Dst[:], buf[0:6])
	copy(msg.Src[:], buf[6:12])
	if et := binary.BigEndian.Uint16(buf[12:14]); et != EtherTypeHPAV {
		return nil, fmt.Errorf("%w: ethertype 0x%04x", ErrMalformed, et)
	}
	if buf[14] != MMV {
		return nil, fmt.Errorf("%w: management version 0x%02x", ErrMalformed, buf[14])
	}
	mmtype := binary.LittleEndian.Uint16(buf[15:17])
	// buf[17:19] are the fragmentation fields; SLAC MMEs are never fragmented.
	frame := newFrame(mmtype)
	if frame == nil {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownType, mmtype)
	}
	payload := buf[headerLen:]
	if len(payload) < frame.payloadLen() {
		return nil, fmt.Errorf("%w: %s payload %d bytes, need %d",
			ErrMalformed, TypeName(mmtype), len(payload), frame.payloadLen())
	}
	if err := frame.decodePayload(payload[:frame.payloadLen()]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, TypeName(mmtype), err)
	}
	msg.Frame = frame
	return &msg, nil
}

// Encode serializes a Message into a raw Ethernet frame, padding to the
// 60-byte minimum. Encoding a valid Message cannot fail.
func Encode(msg *Message) []byte {
	n := headerLen + msg.Frame.payloadLen()
	if n < minFrameLen {
		n = minFrameLen
	}
	buf := make([]byte, n)
	copy(buf[0:6], msg.Dst[:])
	copy(buf[6:12], msg.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], EtherTypeHPAV)
	buf[14] = MMV
	binary.LittleEndian.PutUint16(buf[15:17], msg.Frame.MMType())
	msg.Frame.encodePayload(buf[headerLen : headerLen+msg.Frame.payloadLen()])
	return buf
}

// Addresses extracts the link addressing of a frame without decoding the
// payload. Used by transports to demultiplex before full decoding.
func Addresses(buf []byte) (dst, src model.MACAddr, err error) {
	if len(buf) < ethHeaderLen {
		return dst, src, fmt.Errorf("%w: frame of %d bytes shorter than ethernet header", ErrMalformed, len(buf))
	}
	copy(dst[:], buf[0:6])
	copy(src[:], buf[6:12])
	return dst, src, nil
}

func newFrame(mmtype uint16) Frame {
	switch mmtype {
	case TypeSlacParmReq:
		return &SlacParmReq{}
	case TypeSlacParmCnf:
		return &SlacParmCnf{}
	case TypeStartAttenCharInd:
		return &StartAttenCharInd{}
	case TypeMnbcSoundInd:
		return &MnbcSoundInd{}
	case TypeAttenProfileInd:
		return &AttenProfileInd{}
	case TypeAttenCharInd:
		return &AttenCharInd{}
	case TypeAttenCharRsp:
		return &AttenCharRsp{}
	case TypeSlacMatchReq:
		return &SlacMatchReq{}
	case TypeSlacMatchCnf:
		return &SlacMatchCnf{}
	case TypeSetKeyReq:
		return &SetKeyReq{}
	case TypeSetKeyCnf:
		return &SetKeyCnf{}
	}
	return nil
}
