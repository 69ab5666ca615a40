package mme

import (
	"encoding/binary"

	"github.com/kilianp07/slac/core/model"
)

// SlacParmReq opens a matching attempt. Sent by the initiating controller
// with a fresh run identifier.
type SlacParmReq struct {
	ApplicationType uint8
	SecurityType    uint8
	RunID           model.RunID
}

func (f *SlacParmReq) MMType() uint16  { return TypeSlacParmReq }
func (f *SlacParmReq) payloadLen() int { return 2 + runIDLen }

func (f *SlacParmReq) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	copy(b[2:], f.RunID[:])
}

func (f *SlacParmReq) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	copy(f.RunID[:], b[2:])
	return nil
}

// SlacParmCnf answers a parameter request. NumSounds advertises how many
// sounding rounds the peer should expect, Timeout the per-attempt sounding
// budget in multiples of 100 ms.
type SlacParmCnf struct {
	MSoundTarget    model.MACAddr
	NumSounds       uint8
	Timeout         uint8
	RespType        uint8
	ForwardingSta   model.MACAddr
	ApplicationType uint8
	SecurityType    uint8
	RunID           model.RunID
}

func (f *SlacParmCnf) MMType() uint16  { return TypeSlacParmCnf }
func (f *SlacParmCnf) payloadLen() int { return 6 + 3 + 6 + 2 + runIDLen }

func (f *SlacParmCnf) encodePayload(b []byte) {
	copy(b[0:6], f.MSoundTarget[:])
	b[6] = f.NumSounds
	b[7] = f.Timeout
	b[8] = f.RespType
	copy(b[9:15], f.ForwardingSta[:])
	b[15] = f.ApplicationType
	b[16] = f.SecurityType
	copy(b[17:], f.RunID[:])
}

func (f *SlacParmCnf) decodePayload(b []byte) error {
	copy(f.MSoundTarget[:], b[0:6])
	f.NumSounds = b[6]
	f.Timeout = b[7]
	f.RespType = b[8]
	copy(f.ForwardingSta[:], b[9:15])
	f.ApplicationType = b[15]
	f.SecurityType = b[16]
	copy(f.RunID[:], b[17:])
	return nil
}

// StartAttenCharInd announces the beginning of the sounding phase.
type StartAttenCharInd struct {
	ApplicationType uint8
	SecurityType    uint8
	NumSounds       uint8
	Timeout         uint8
	RespType        uint8
	ForwardingSta   model.MACAddr
	RunID           model.RunID
}

func (f *StartAttenCharInd) MMType() uint16  { return TypeStartAttenCharInd }
func (f *StartAttenCharInd) payloadLen() int { return 5 + 6 + runIDLen }

func (f *StartAttenCharInd) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	b[2] = f.NumSounds
	b[3] = f.Timeout
	b[4] = f.RespType
	copy(b[5:11], f.ForwardingSta[:])
	copy(b[11:], f.RunID[:])
}

func (f *StartAttenCharInd) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	f.NumSounds = b[2]
	f.Timeout = b[3]
	f.RespType = b[4]
	copy(f.ForwardingSta[:], b[5:11])
	copy(f.RunID[:], b[11:])
	return nil
}

// MnbcSoundInd is one broadcast probe of the sounding phase. Remaining counts
// down from the advertised number of sounds.
type MnbcSoundInd struct {
	ApplicationType uint8
	SecurityType    uint8
	SenderID        [senderIDLen]byte
	Remaining       uint8
	RunID           model.RunID
	Reserved        [reservedBlock]byte
	Random          [soundRandLen]byte
}

func (f *MnbcSoundInd) MMType() uint16 { return TypeMnbcSoundInd }
func (f *MnbcSoundInd) payloadLen() int {
	return 2 + senderIDLen + 1 + runIDLen + reservedBlock + soundRandLen
}

func (f *MnbcSoundInd) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	copy(b[2:19], f.SenderID[:])
	b[19] = f.Remaining
	copy(b[20:28], f.RunID[:])
	copy(b[28:36], f.Reserved[:])
	copy(b[36:], f.Random[:])
}

func (f *MnbcSoundInd) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	copy(f.SenderID[:], b[2:19])
	f.Remaining = b[19]
	copy(f.RunID[:], b[20:28])
	copy(f.Reserved[:], b[28:36])
	copy(f.Random[:], b[36:])
	return nil
}

// AttenProfileInd carries one round of per-carrier-group attenuation readings
// measured for a sound emitted by PevMac.
type AttenProfileInd struct {
	PevMac    model.MACAddr
	NumGroups uint8
	Reserved  uint8
	AAG       [Groups]uint8
}

func (f *AttenProfileInd) MMType() uint16  { return TypeAttenProfileInd }
func (f *AttenProfileInd) payloadLen() int { return 6 + 2 + Groups }

func (f *AttenProfileInd) encodePayload(b []byte) {
	copy(b[0:6], f.PevMac[:])
	b[6] = f.NumGroups
	b[7] = f.Reserved
	copy(b[8:], f.AAG[:])
}

func (f *AttenProfileInd) decodePayload(b []byte) error {
	copy(f.PevMac[:], b[0:6])
	f.NumGroups = b[6]
	f.Reserved = b[7]
	copy(f.AAG[:], b[8:])
	return nil
}

// AttenCharInd publishes the finalized attenuation profile of an attempt.
type AttenCharInd struct {
	ApplicationType uint8
	SecurityType    uint8
	SourceAddress   model.MACAddr
	RunID           model.RunID
	SourceID        [stationIDLen]byte
	RespID          [stationIDLen]byte
	NumSounds       uint8
	NumGroups       uint8
	AAG             [Groups]uint8
}

func (f *AttenCharInd) MMType() uint16 { return TypeAttenCharInd }
func (f *AttenCharInd) payloadLen() int {
	return 2 + 6 + runIDLen + 2*stationIDLen + 2 + Groups
}

func (f *AttenCharInd) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	copy(b[2:8], f.SourceAddress[:])
	copy(b[8:16], f.RunID[:])
	copy(b[16:33], f.SourceID[:])
	copy(b[33:50], f.RespID[:])
	b[50] = f.NumSounds
	b[51] = f.NumGroups
	copy(b[52:], f.AAG[:])
}

func (f *AttenCharInd) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	copy(f.SourceAddress[:], b[2:8])
	copy(f.RunID[:], b[8:16])
	copy(f.SourceID[:], b[16:33])
	copy(f.RespID[:], b[33:50])
	f.NumSounds = b[50]
	f.NumGroups = b[51]
	copy(f.AAG[:], b[52:])
	return nil
}

// AttenCharRsp acknowledges an attenuation characteristic indication.
// A Result of zero means the profile was accepted.
type AttenCharRsp struct {
	ApplicationType uint8
	SecurityType    uint8
	SourceAddress   model.MACAddr
	RunID           model.RunID
	SourceID        [stationIDLen]byte
	RespID          [stationIDLen]byte
	Result          uint8
}

func (f *AttenCharRsp) MMType() uint16 { return TypeAttenCharRsp }
func (f *AttenCharRsp) payloadLen() int {
	return 2 + 6 + runIDLen + 2*stationIDLen + 1
}

func (f *AttenCharRsp) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	copy(b[2:8], f.SourceAddress[:])
	copy(b[8:16], f.RunID[:])
	copy(b[16:33], f.SourceID[:])
	copy(b[33:50], f.RespID[:])
	b[50] = f.Result
}

func (f *AttenCharRsp) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	copy(f.SourceAddress[:], b[2:8])
	copy(f.RunID[:], b[8:16])
	copy(f.SourceID[:], b[16:33])
	copy(f.RespID[:], b[33:50])
	f.Result = b[50]
	return nil
}

// SlacMatchReq asks the station to admit the vehicle to its network.
type SlacMatchReq struct {
	ApplicationType uint8
	SecurityType    uint8
	MVFLength       uint16
	PevID           [stationIDLen]byte
	PevMac          model.MACAddr
	EvseID          [stationIDLen]byte
	EvseMac         model.MACAddr
	RunID           model.RunID
	Reserved        [reservedBlock]byte
}

func (f *SlacMatchReq) MMType() uint16 { return TypeSlacMatchReq }
func (f *SlacMatchReq) payloadLen() int {
	return 4 + 2*stationIDLen + 2*6 + runIDLen + reservedBlock
}

func (f *SlacMatchReq) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	binary.LittleEndian.PutUint16(b[2:4], f.MVFLength)
	copy(b[4:21], f.PevID[:])
	copy(b[21:27], f.PevMac[:])
	copy(b[27:44], f.EvseID[:])
	copy(b[44:50], f.EvseMac[:])
	copy(b[50:58], f.RunID[:])
	copy(b[58:], f.Reserved[:])
}

func (f *SlacMatchReq) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	f.MVFLength = binary.LittleEndian.Uint16(b[2:4])
	copy(f.PevID[:], b[4:21])
	copy(f.PevMac[:], b[21:27])
	copy(f.EvseID[:], b[27:44])
	copy(f.EvseMac[:], b[44:50])
	copy(f.RunID[:], b[50:58])
	copy(f.Reserved[:], b[58:])
	return nil
}

// SlacMatchCnf concludes the match and distributes the network membership key
// and the derived network identifier.
type SlacMatchCnf struct {
	ApplicationType uint8
	SecurityType    uint8
	MVFLength       uint16
	PevID           [stationIDLen]byte
	PevMac          model.MACAddr
	EvseID          [stationIDLen]byte
	EvseMac         model.MACAddr
	RunID           model.RunID
	Reserved        [reservedBlock]byte
	NID             [nidLen]byte
	Reserved2       uint8
	NMK             [nmkLen]byte
}

func (f *SlacMatchCnf) MMType() uint16 { return TypeSlacMatchCnf }
func (f *SlacMatchCnf) payloadLen() int {
	return 4 + 2*stationIDLen + 2*6 + runIDLen + reservedBlock + nidLen + 1 + nmkLen
}

func (f *SlacMatchCnf) encodePayload(b []byte) {
	b[0] = f.ApplicationType
	b[1] = f.SecurityType
	binary.LittleEndian.PutUint16(b[2:4], f.MVFLength)
	copy(b[4:21], f.PevID[:])
	copy(b[21:27], f.PevMac[:])
	copy(b[27:44], f.EvseID[:])
	copy(b[44:50], f.EvseMac[:])
	copy(b[50:58], f.RunID[:])
	copy(b[58:66], f.Reserved[:])
	copy(b[66:73], f.NID[:])
	b[73] = f.Reserved2
	copy(b[74:], f.NMK[:])
}

func (f *SlacMatchCnf) decodePayload(b []byte) error {
	f.ApplicationType = b[0]
	f.SecurityType = b[1]
	f.MVFLength = binary.LittleEndian.Uint16(b[2:4])
	copy(f.PevID[:], b[4:21])
	copy(f.PevMac[:], b[21:27])
	copy(f.EvseID[:], b[27:44])
	copy(f.EvseMac[:], b[44:50])
	copy(f.RunID[:], b[50:58])
	copy(f.Reserved[:], b[58:66])
	copy(f.NID[:], b[66:73])
	f.Reserved2 = b[73]
	copy(f.NMK[:], b[74:])
	return nil
}

// SetKeyReq provisions the powerline modem with a new network membership key
// and network identifier after a successful match.
type SetKeyReq struct {
	KeyType   uint8
	MyNonce   [4]byte
	YourNonce [4]byte
	PID       uint8
	PRN       uint16
	PMN       uint8
	CCoCap    uint8
	NID       [nidLen]byte
	NewEKS    uint8
	NewKey    [nmkLen]byte
}

func (f *SetKeyReq) MMType() uint16  { return TypeSetKeyReq }
func (f *SetKeyReq) payloadLen() int { return 1 + 4 + 4 + 1 + 2 + 1 + 1 + nidLen + 1 + nmkLen }

func (f *SetKeyReq) encodePayload(b []byte) {
	b[0] = f.KeyType
	copy(b[1:5], f.MyNonce[:])
	copy(b[5:9], f.YourNonce[:])
	b[9] = f.PID
	binary.LittleEndian.PutUint16(b[10:12], f.PRN)
	b[12] = f.PMN
	b[13] = f.CCoCap
	copy(b[14:21], f.NID[:])
	b[21] = f.NewEKS
	copy(b[22:], f.NewKey[:])
}

func (f *SetKeyReq) decodePayload(b []byte) error {
	f.KeyType = b[0]
	copy(f.MyNonce[:], b[1:5])
	copy(f.YourNonce[:], b[5:9])
	f.PID = b[9]
	f.PRN = binary.LittleEndian.Uint16(b[10:12])
	f.PMN = b[12]
	f.CCoCap = b[13]
	copy(f.NID[:], b[14:21])
	f.NewEKS = b[21]
	copy(f.NewKey[:], b[22:])
	return nil
}

// SetKeyCnf acknowledges a key provisioning request. Result zero is success.
type SetKeyCnf struct {
	Result    uint8
	MyNonce   [4]byte
	YourNonce [4]byte
	PID       uint8
	PRN       uint16
	PMN       uint8
	CCoCap    uint8
}

func (f *SetKeyCnf) MMType() uint16  { return TypeSetKeyCnf }
func (f *SetKeyCnf) payloadLen() int { return 1 + 4 + 4 + 1 + 2 + 1 + 1 }

func (f *SetKeyCnf) encodePayload(b []byte) {
	b[0] = f.Result
	copy(b[1:5], f.MyNonce[:])
	copy(b[5:9], f.YourNonce[:])
	b[9] = f.PID
	binary.LittleEndian.PutUint16(b[10:12], f.PRN)
	b[12] = f.PMN
	b[13] = f.CCoCap
}

func (f *SetKeyCnf) decodePayload(b []byte) error {
	f.Result = b[0]
	copy(f.MyNonce[:], b[1:5])
	copy(f.YourNonce[:], b[5:9])
	f.PID = b[9]
	f.PRN = binary.LittleEndian.Uint16(b[10:12])
	f.PMN = b[12]
	f.CCoCap = b[13]
	return nil
}
