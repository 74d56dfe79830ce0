// Package app implements the byte-oriented application layer carried inside
// link data frames: version handshake, acknowledgements, timestamped sensor
// readings and connection resets.
//
// All multi-byte integers are LEB128 varints except where a field is
// declared u8. Fixed-width raw values (f32, u32) are little-endian, matching
// the deployed sensor firmware; both ends of a deployment must agree on this.
package app

import "time"

// Kind is the one-byte packet discriminant.
type Kind uint8

const (
	KindHandshakeStart Kind = 0
	KindHandshakeEnd   Kind = 1
	KindAck            Kind = 2
	KindSensorData     Kind = 3
	KindReset          Kind = 4

	maxKind = KindReset
)

func (k Kind) String() string {
	switch k {
	case KindHandshakeStart:
		return "handshake_start"
	case KindHandshakeEnd:
		return "handshake_end"
	case KindAck:
		return "ack"
	case KindSensorData:
		return "sensor_data"
	case KindReset:
		return "reset_connection"
	default:
		return "unknown"
	}
}

// Protocol version spoken by this implementation. Peers with a different
// major are incompatible; the lower of the two minors wins.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
)

// Packet is the tagged union of application packet variants.
type Packet interface {
	Kind() Kind
	appendTo(dst []byte) []byte
}

// HandshakeStart opens version negotiation. Tail is reserved trailing data:
// empty today, but decoded to its declared length so newer senders stay
// stream-aligned with older receivers.
type HandshakeStart struct {
	Major uint8
	Minor uint8
	Tail  []byte
}

func (HandshakeStart) Kind() Kind { return KindHandshakeStart }

// HandshakeEnd accepts a version handshake and communicates the session
// epoch (milliseconds, gateway-chosen). On the wire the epoch varint is
// carried as the handshake tail, so its length prefix is 1..10.
type HandshakeEnd struct {
	Major uint8
	Minor uint8
	Epoch uint64
}

func (HandshakeEnd) Kind() Kind { return KindHandshakeEnd }

// Ack acknowledges a SensorData packet. No fields.
type Ack struct{}

func (Ack) Kind() Kind { return KindAck }

// SensorData carries 1..255 readings.
type SensorData struct {
	Values []Value
}

func (SensorData) Kind() Kind { return KindSensorData }

// ResetConnection tells the receiver to drop application state and restart a
// full link handshake. No fields.
type ResetConnection struct{}

func (ResetConnection) Kind() Kind { return KindReset }

// ValueType tags the interpretation of a reading's raw bytes.
type ValueType uint32

const (
	ValueTemperature ValueType = 0 // f32, degrees Celsius
	ValuePressure    ValueType = 1 // u32, Pascals
	ValueAltitude    ValueType = 2 // f32, meters
	ValueAirQuality  ValueType = 3 // f32, index
)

func (vt ValueType) String() string {
	switch vt {
	case ValueTemperature:
		return "temperature"
	case ValuePressure:
		return "pressure"
	case ValueAltitude:
		return "altitude"
	case ValueAirQuality:
		return "air_quality"
	default:
		return "unknown"
	}
}

// Known reports whether the raw encoding of this type is defined.
func (vt ValueType) Known() bool { return vt <= ValueAirQuality }

// Value is one reading inside a SensorData packet. TimeOffset is seconds
// since the session epoch, rounded toward positive infinity. Raw holds the
// 4 little-endian bytes of an f32/u32 for known types, opaque bytes
// otherwise.
type Value struct {
	TimeOffset int64
	Type       ValueType
	Raw        []byte
}

// Offset returns the wire encoding of t relative to the epoch instant:
// whole seconds, with sub-second remainders rounded toward positive
// infinity.
func Offset(epochAt, t time.Time) int64 {
	d := t.Sub(epochAt).Milliseconds()
	q := d / 1000
	if d%1000 > 0 {
		q++
	}
	return q
}
