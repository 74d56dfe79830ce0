package app

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestEncodeGolden(t *testing.T) {
	cases := []struct {
		name string
		pkt  Packet
		want []byte
	}{
		{
			"handshake_start",
			HandshakeStart{Major: 1, Minor: 0x15},
			[]byte{0x00, 0x01, 0x15, 0x00},
		},
		{
			"handshake_end",
			HandshakeEnd{Major: 1, Minor: 0x15, Epoch: 1744854025},
			[]byte{0x01, 0x01, 0x15, 0x05, 0x89, 0xb8, 0x81, 0xc0, 0x06},
		},
		{
			"ack",
			Ack{},
			[]byte{0x02},
		},
		{
			"reset",
			ResetConnection{},
			[]byte{0x04},
		},
		{
			"sensor_data",
			SensorData{Values: []Value{
				FloatValue(ValueTemperature, -35, 22.3),
				FloatValue(ValueAltitude, 3, 0.9),
				UnknownValue(999, 9, []byte{0xca, 0xfe}),
			}},
			[]byte{
				0x03, 0x03,
				0x5d, 0x00, 0x04, 0x66, 0x66, 0xb2, 0x41,
				0x03, 0x02, 0x04, 0x66, 0x66, 0x66, 0x3f,
				0x09, 0xe7, 0x07, 0x02, 0xca, 0xfe,
			},
		},
	}
	for _, c := range cases {
		if got := Encode(c.pkt); !bytes.Equal(got, c.want) {
			t.Errorf("%s: got % X, want % X", c.name, got, c.want)
		}
	}
}

func TestRoundTripAllVariants(t *testing.T) {
	pkts := []Packet{
		HandshakeStart{Major: 1, Minor: 2, Tail: []byte{}},
		HandshakeStart{Major: 1, Minor: 2, Tail: []byte{0xAA, 0xBB, 0xCC}},
		HandshakeEnd{Major: 1, Minor: 1, Epoch: 0},
		HandshakeEnd{Major: 1, Minor: 1, Epoch: 1<<64 - 1},
		Ack{},
		ResetConnection{},
		SensorData{Values: []Value{FloatValue(ValueTemperature, 1, 20.5)}},
		SensorData{Values: []Value{
			PressureValue(-3, 101325),
			FloatValue(ValueAirQuality, 120, 42.0),
			UnknownValue(77, 0, []byte{1, 2, 3, 4, 5}),
		}},
	}
	for _, p := range pkts {
		wire := Encode(p)
		got, n, err := Decode(wire)
		if err != nil {
			t.Fatalf("%T: Decode: %v", p, err)
		}
		if n != len(wire) {
			t.Fatalf("%T: consumed %d of %d", p, n, len(wire))
		}
		if !packetsEqual(p, got) {
			t.Fatalf("%T: round trip mismatch\nin:  %+v\nout: %+v", p, p, got)
		}
	}
}

func TestRoundTripSensorData255Values(t *testing.T) {
	var values []Value
	for i := 0; i < 255; i++ {
		values = append(values, FloatValue(ValueTemperature, int64(i-100), float32(i)))
	}
	wire := Encode(SensorData{Values: values})
	got, n, err := Decode(wire)
	if err != nil || n != len(wire) {
		t.Fatalf("Decode: n=%d err=%v", n, err)
	}
	sd, ok := got.(SensorData)
	if !ok || len(sd.Values) != 255 {
		t.Fatalf("got %T with %d values", got, len(sd.Values))
	}
	if f, ok := sd.Values[254].Float(); !ok || f != 254 {
		t.Fatalf("value 254 = %v (%v)", f, ok)
	}
}

func TestDecodeConsumesOnlyOnePacket(t *testing.T) {
	wire := Encode(Ack{})
	wire = AppendPacket(wire, ResetConnection{})
	p1, n1, err := Decode(wire)
	if err != nil || p1.Kind() != KindAck || n1 != 1 {
		t.Fatalf("first: %v %d %v", p1, n1, err)
	}
	p2, n2, err := Decode(wire[n1:])
	if err != nil || p2.Kind() != KindReset || n2 != 1 {
		t.Fatalf("second: %v %d %v", p2, n2, err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	for _, b := range []byte{5, 0x7F, 0xFF} {
		if _, _, err := Decode([]byte{b}); !errors.Is(err, ErrUnknownType) {
			t.Fatalf("discriminant %d: got %v", b, err)
		}
	}
}

func TestDecodeTruncatedHandshakeTail(t *testing.T) {
	// tail_len=3 but only 1 tail byte present.
	wire := []byte{0x00, 0x01, 0x02, 0x03, 0xAA}
	if _, _, err := Decode(wire); !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v", err)
	}
	// Completing the tail makes it parse.
	wire = append(wire, 0xBB, 0xCC)
	pkt, n, err := Decode(wire)
	if err != nil || n != len(wire) {
		t.Fatalf("completed: n=%d err=%v", n, err)
	}
	hs := pkt.(HandshakeStart)
	if !bytes.Equal(hs.Tail, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("tail = % X", hs.Tail)
	}
}

func TestDecodeTruncatedEverywhere(t *testing.T) {
	full := Encode(SensorData{Values: []Value{
		FloatValue(ValueTemperature, -35, 22.3),
		PressureValue(70000, 99000),
	}})
	for n := 0; n < len(full); n++ {
		_, _, err := Decode(full[:n])
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("prefix %d/%d: got %v", n, len(full), err)
		}
	}
}

func TestDecodeFieldOutOfRange(t *testing.T) {
	// SensorData with count == 0.
	if _, _, err := Decode([]byte{0x03, 0x00}); !errors.Is(err, ErrFieldOutOfRange) {
		t.Fatalf("zero count: got %v", err)
	}
	// Known value type with a 2-byte raw value.
	bad := []byte{0x03, 0x01, 0x00, 0x00, 0x02, 0xAA, 0xBB}
	if _, _, err := Decode(bad); !errors.Is(err, ErrFieldOutOfRange) {
		t.Fatalf("short known value: got %v", err)
	}
	// HandshakeEnd tail_len outside 1..10.
	if _, _, err := Decode([]byte{0x01, 0x01, 0x01, 0x00}); !errors.Is(err, ErrFieldOutOfRange) {
		t.Fatalf("zero epoch tail: got %v", err)
	}
	if _, _, err := Decode(append([]byte{0x01, 0x01, 0x01, 0x0B}, make([]byte, 11)...)); !errors.Is(err, ErrFieldOutOfRange) {
		t.Fatalf("oversized epoch tail: got %v", err)
	}
	// HandshakeEnd whose epoch varint does not fill the declared tail.
	if _, _, err := Decode([]byte{0x01, 0x01, 0x01, 0x02, 0x05, 0x00}); !errors.Is(err, ErrFieldOutOfRange) {
		t.Fatalf("loose epoch tail: got %v", err)
	}
}

func TestDecodeNeverPanicsOnGarbage(t *testing.T) {
	garbage := [][]byte{
		{},
		{0x03},
		{0x03, 0xFF},
		{0x00, 0x01, 0x02, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0x03, 0x01, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01},
		bytes.Repeat([]byte{0xFF}, 64),
	}
	for i, g := range garbage {
		if _, _, err := Decode(g); err == nil {
			t.Fatalf("garbage %d: expected error", i)
		}
	}
}

func TestOffsetCeiling(t *testing.T) {
	epochAt := time.Unix(1000, 0)
	cases := []struct {
		at   time.Time
		want int64
	}{
		{epochAt, 0},
		{epochAt.Add(1500 * time.Millisecond), 2},
		{epochAt.Add(2 * time.Second), 2},
		{epochAt.Add(-1500 * time.Millisecond), -1},
		{epochAt.Add(-2 * time.Second), -2},
		{epochAt.Add(time.Millisecond), 1},
	}
	for _, c := range cases {
		if got := Offset(epochAt, c.at); got != c.want {
			t.Errorf("Offset(%v) = %d, want %d", c.at.Sub(epochAt), got, c.want)
		}
	}
}

func TestValueAccessors(t *testing.T) {
	if f, ok := FloatValue(ValueTemperature, 0, 22.3).Float(); !ok || f != 22.3 {
		t.Fatalf("Float = %v (%v)", f, ok)
	}
	if p, ok := PressureValue(0, 101325).Pressure(); !ok || p != 101325 {
		t.Fatalf("Pressure = %v (%v)", p, ok)
	}
	if _, ok := PressureValue(0, 1).Float(); ok {
		t.Fatalf("pressure interpreted as float")
	}
	if _, ok := UnknownValue(99, 0, []byte{1, 2}).Float(); ok {
		t.Fatalf("unknown interpreted as float")
	}
}

func packetsEqual(a, b Packet) bool {
	// Normalize nil vs empty slices before deep comparison.
	norm := func(p Packet) Packet {
		switch v := p.(type) {
		case HandshakeStart:
			if len(v.Tail) == 0 {
				v.Tail = nil
			}
			return v
		case SensorData:
			for i := range v.Values {
				if len(v.Values[i].Raw) == 0 {
					v.Values[i].Raw = nil
				}
			}
			return v
		default:
			return p
		}
	}
	return reflect.DeepEqual(norm(a), norm(b))
}

func BenchmarkEncodeSensorData(b *testing.B) {
	pkt := SensorData{Values: []Value{
		FloatValue(ValueTemperature, -35, 22.3),
		PressureValue(2, 101325),
		FloatValue(ValueAltitude, 3, 0.9),
	}}
	var buf []byte
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf = AppendPacket(buf[:0], pkt)
	}
}

func BenchmarkDecodeSensorData(b *testing.B) {
	wire := Encode(SensorData{Values: []Value{
		FloatValue(ValueTemperature, -35, 22.3),
		PressureValue(2, 101325),
		FloatValue(ValueAltitude, 3, 0.9),
	}})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := Decode(wire); err != nil {
			b.Fatal(err)
		}
	}
}
