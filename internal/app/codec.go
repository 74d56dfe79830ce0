package app

import (
	"errors"
	"fmt"

	"github.com/MisterPeModder/SensorSensei/internal/varint"
)

// Decode failure modes. ErrTruncated means the buffer may simply be
// incomplete; callers wait for more bytes. The others mean the prefix is
// structurally invalid and must be discarded.
var (
	ErrTruncated       = errors.New("app: truncated packet")
	ErrUnknownType     = errors.New("app: unknown packet type")
	ErrFieldOutOfRange = errors.New("app: field out of range")
)

// Hard ceilings on variable-length fields. A radio peer cannot make the
// receiver wait forever on an absurd declared length.
const (
	maxTailLen  = 4096
	maxValueLen = 1024
)

// Encode serializes p, discriminant byte first.
func Encode(p Packet) []byte {
	return p.appendTo(nil)
}

// AppendPacket serializes p onto dst.
func AppendPacket(dst []byte, p Packet) []byte {
	return p.appendTo(dst)
}

func (h HandshakeStart) appendTo(dst []byte) []byte {
	dst = append(dst, byte(KindHandshakeStart), h.Major, h.Minor)
	dst = varint.AppendUint(dst, uint64(len(h.Tail)))
	return append(dst, h.Tail...)
}

func (h HandshakeEnd) appendTo(dst []byte) []byte {
	epoch := varint.AppendUint(nil, h.Epoch)
	dst = append(dst, byte(KindHandshakeEnd), h.Major, h.Minor)
	dst = varint.AppendUint(dst, uint64(len(epoch)))
	return append(dst, epoch...)
}

func (Ack) appendTo(dst []byte) []byte { return append(dst, byte(KindAck)) }

func (s SensorData) appendTo(dst []byte) []byte {
	n := len(s.Values)
	if n > 255 {
		n = 255
	}
	dst = append(dst, byte(KindSensorData), byte(n))
	for _, v := range s.Values[:n] {
		dst = varint.AppendInt(dst, v.TimeOffset)
		dst = varint.AppendUint(dst, uint64(v.Type))
		dst = varint.AppendUint(dst, uint64(len(v.Raw)))
		dst = append(dst, v.Raw...)
	}
	return dst
}

func (ResetConnection) appendTo(dst []byte) []byte { return append(dst, byte(KindReset)) }

// Decode parses one packet from the front of buf, returning the packet and
// the number of bytes consumed. Field contents are copied, never aliased.
// Malformed input yields a typed error, never a panic.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrTruncated
	}
	kind := Kind(buf[0])
	cur := buf[1:]
	var (
		pkt Packet
		err error
	)
	switch kind {
	case KindHandshakeStart:
		pkt, err = decodeHandshakeStart(&cur)
	case KindHandshakeEnd:
		pkt, err = decodeHandshakeEnd(&cur)
	case KindAck:
		pkt = Ack{}
	case KindSensorData:
		pkt, err = decodeSensorData(&cur)
	case KindReset:
		pkt = ResetConnection{}
	default:
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownType, buf[0])
	}
	if err != nil {
		return nil, 0, err
	}
	return pkt, len(buf) - len(cur), nil
}

func decodeHandshakeStart(cur *[]byte) (Packet, error) {
	major, minor, err := decodeVersion(cur)
	if err != nil {
		return nil, err
	}
	tailLen, err := varint.Uint32(cur)
	if err != nil {
		return nil, mapVarintErr(err)
	}
	if tailLen > maxTailLen {
		return nil, fmt.Errorf("%w: handshake tail %d bytes", ErrFieldOutOfRange, tailLen)
	}
	// The tail is reserved but must be consumed in full to stay aligned with
	// future senders.
	if uint32(len(*cur)) < tailLen {
		return nil, ErrTruncated
	}
	tail := make([]byte, tailLen)
	copy(tail, (*cur)[:tailLen])
	*cur = (*cur)[tailLen:]
	return HandshakeStart{Major: major, Minor: minor, Tail: tail}, nil
}

func decodeHandshakeEnd(cur *[]byte) (Packet, error) {
	major, minor, err := decodeVersion(cur)
	if err != nil {
		return nil, err
	}
	tailLen, err := varint.Uint32(cur)
	if err != nil {
		return nil, mapVarintErr(err)
	}
	if tailLen < 1 || tailLen > varint.MaxLen64 {
		return nil, fmt.Errorf("%w: handshake end tail %d bytes", ErrFieldOutOfRange, tailLen)
	}
	if uint32(len(*cur)) < tailLen {
		return nil, ErrTruncated
	}
	tail := (*cur)[:tailLen]
	epoch, err := varint.Uint(&tail)
	if err != nil || len(tail) != 0 {
		// The epoch varint must fill the tail exactly.
		return nil, fmt.Errorf("%w: handshake end epoch encoding", ErrFieldOutOfRange)
	}
	*cur = (*cur)[tailLen:]
	return HandshakeEnd{Major: major, Minor: minor, Epoch: epoch}, nil
}

func decodeSensorData(cur *[]byte) (Packet, error) {
	if len(*cur) < 1 {
		return nil, ErrTruncated
	}
	count := (*cur)[0]
	*cur = (*cur)[1:]
	if count == 0 {
		return nil, fmt.Errorf("%w: sensor data with zero values", ErrFieldOutOfRange)
	}
	values := make([]Value, 0, count)
	for i := 0; i < int(count); i++ {
		off, err := varint.Int(cur)
		if err != nil {
			return nil, mapVarintErr(err)
		}
		vt, err := varint.Uint32(cur)
		if err != nil {
			return nil, mapVarintErr(err)
		}
		vlen, err := varint.Uint32(cur)
		if err != nil {
			return nil, mapVarintErr(err)
		}
		typ := ValueType(vt)
		if typ.Known() && vlen != knownValueLen {
			return nil, fmt.Errorf("%w: %s value of %d bytes", ErrFieldOutOfRange, typ, vlen)
		}
		if vlen > maxValueLen {
			return nil, fmt.Errorf("%w: value of %d bytes", ErrFieldOutOfRange, vlen)
		}
		if uint32(len(*cur)) < vlen {
			return nil, ErrTruncated
		}
		raw := make([]byte, vlen)
		copy(raw, (*cur)[:vlen])
		*cur = (*cur)[vlen:]
		values = append(values, Value{TimeOffset: off, Type: typ, Raw: raw})
	}
	return SensorData{Values: values}, nil
}

func decodeVersion(cur *[]byte) (major, minor uint8, err error) {
	if len(*cur) < 2 {
		return 0, 0, ErrTruncated
	}
	major, minor = (*cur)[0], (*cur)[1]
	*cur = (*cur)[2:]
	return major, minor, nil
}

// mapVarintErr folds varint decode errors into the app taxonomy: a truncated
// varint may complete later, an overflowing one never becomes valid.
func mapVarintErr(err error) error {
	if errors.Is(err, varint.ErrTruncated) {
		return ErrTruncated
	}
	return fmt.Errorf("%w: %v", ErrFieldOutOfRange, err)
}
