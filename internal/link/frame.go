// Package link implements the bit-packed LoRa link layer: the 40-bit signed
// frame header, the AskId/AssignId enrollment exchange and the gateway-side
// id table.
//
// Header layout, big-endian bit order:
//
//	action(1) | reserved(1) | sensor id(4) | signature(34)
//
// The payload follows byte-aligned. There is no extra framing: the radio is
// expected to deliver whole frames.
package link

import (
	"errors"
	"fmt"

	"github.com/MisterPeModder/SensorSensei/internal/metrics"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
)

// Action selects the frame kind.
type Action uint8

const (
	// ActionData carries application-layer stream bytes.
	ActionData Action = 0
	// ActionHandshake carries an AskId request or AssignId reply.
	ActionHandshake Action = 1
)

func (a Action) String() string {
	if a == ActionHandshake {
		return "handshake"
	}
	return "data"
}

const (
	// HeaderLen is the fixed link header size in bytes.
	HeaderLen = 5
	// MaxID is the highest assignable sensor id; 0 is reserved for
	// unenrolled clients during handshake.
	MaxID = 15
)

// ErrMalformed is returned when a buffer is too short to hold a link header.
var ErrMalformed = errors.New("link: malformed frame")

// Frame is the on-wire unit of the link layer. Sig holds the truncated
// 34-bit signature right-aligned.
type Frame struct {
	Action  Action
	ID      uint8
	Sig     uint64
	Payload []byte
}

// AppendTo packs the 40-bit header followed by the payload onto dst.
// The reserved bit is always emitted as zero.
func (f Frame) AppendTo(dst []byte) []byte {
	hdr := uint64(f.Action&1)<<39 | uint64(f.ID&MaxID)<<34 | f.Sig&sign.TagMask
	dst = append(dst,
		byte(hdr>>32),
		byte(hdr>>24),
		byte(hdr>>16),
		byte(hdr>>8),
		byte(hdr),
	)
	return append(dst, f.Payload...)
}

// Encode returns the wire representation of the frame.
func (f Frame) Encode() []byte {
	return f.AppendTo(make([]byte, 0, HeaderLen+len(f.Payload)))
}

// Decode unpacks one whole frame from buf. The payload aliases buf; callers
// that retain it across buffer reuse must copy. Decode does not validate the
// signature: the message to sign depends on the frame kind and side, see the
// Tag helpers below.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		metrics.IncMalformed()
		return Frame{}, fmt.Errorf("%w: %d bytes, need %d", ErrMalformed, len(buf), HeaderLen)
	}
	hdr := uint64(buf[0])<<32 | uint64(buf[1])<<24 | uint64(buf[2])<<16 | uint64(buf[3])<<8 | uint64(buf[4])
	return Frame{
		Action:  Action(hdr >> 39 & 1), // reserved bit (38) ignored
		ID:      uint8(hdr >> 34 & MaxID),
		Sig:     hdr & sign.TagMask,
		Payload: buf[HeaderLen:],
	}, nil
}

// AskIDTag computes the signature of a client enrollment request: the
// fingerprint alone.
func AskIDTag(s sign.Signer, fingerprint []byte) uint64 {
	return s.Tag34(fingerprint)
}

// AssignIDTag computes the signature of a gateway enrollment reply: the
// fingerprint followed by the assigned id byte.
func AssignIDTag(s sign.Signer, fingerprint []byte, id uint8) uint64 {
	return s.Tag34(fingerprint, []byte{id})
}

// DataTag computes the signature of a data frame: the payload alone.
func DataTag(s sign.Signer, payload []byte) uint64 {
	return s.Tag34(payload)
}

// VerifyAskID checks an inbound enrollment request frame.
func VerifyAskID(s sign.Signer, f Frame) bool {
	return s.Verify(f.Sig, f.Payload)
}

// VerifyAssignID checks an inbound enrollment reply against the fingerprint
// the client sent.
func VerifyAssignID(s sign.Signer, f Frame, fingerprint []byte) bool {
	return s.Verify(f.Sig, fingerprint, []byte{f.ID})
}

// VerifyData checks an inbound data frame.
func VerifyData(s sign.Signer, f Frame) bool {
	return s.Verify(f.Sig, f.Payload)
}
