package app

import (
	"encoding/binary"
	"math"
)

// knownValueLen is the raw length of every known value type.
const knownValueLen = 4

// FloatValue builds a reading for an f32-typed value (temperature, altitude,
// air quality).
func FloatValue(vt ValueType, offset int64, v float32) Value {
	var raw [knownValueLen]byte
	binary.LittleEndian.PutUint32(raw[:], math.Float32bits(v))
	return Value{TimeOffset: offset, Type: vt, Raw: raw[:]}
}

// PressureValue builds a pressure reading (u32 Pascals).
func PressureValue(offset int64, pascals uint32) Value {
	var raw [knownValueLen]byte
	binary.LittleEndian.PutUint32(raw[:], pascals)
	return Value{TimeOffset: offset, Type: ValuePressure, Raw: raw[:]}
}

// UnknownValue builds a reading with an uninterpreted tag. The raw bytes
// survive round trips unchanged.
func UnknownValue(vt ValueType, offset int64, raw []byte) Value {
	return Value{TimeOffset: offset, Type: vt, Raw: raw}
}

// Float interprets the raw bytes as an f32. ok is false for pressure and
// unknown types or malformed lengths.
func (v Value) Float() (f float32, ok bool) {
	switch v.Type {
	case ValueTemperature, ValueAltitude, ValueAirQuality:
		if len(v.Raw) != knownValueLen {
			return 0, false
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(v.Raw)), true
	default:
		return 0, false
	}
}

// Pressure interprets the raw bytes as a u32 Pascal count.
func (v Value) Pressure() (p uint32, ok bool) {
	if v.Type != ValuePressure || len(v.Raw) != knownValueLen {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v.Raw), true
}
