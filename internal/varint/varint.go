// Package varint implements the LEB128 variable-length integer encoding used
// by the application layer. Encoders append to a caller-owned slice; decoders
// consume from a cursor slice that is advanced past the bytes read.
package varint

import "errors"

var (
	// ErrTruncated is returned when the cursor runs out before a terminating
	// byte (continuation bit clear) is found. Recoverable: wait for more data.
	ErrTruncated = errors.New("varint: truncated")
	// ErrOverflow is returned when the decoded value does not fit the target
	// integer width.
	ErrOverflow = errors.New("varint: overflow")
)

// MaxLen64 is the maximum encoded length of a 64-bit value.
const MaxLen64 = 10

// AppendUint appends the unsigned LEB128 encoding of v to dst.
func AppendUint(dst []byte, v uint64) []byte {
	for v > 0x7f {
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendInt appends the signed LEB128 encoding of v to dst. Encoding stops
// once the remaining bits are redundant sign bits, so small magnitudes of
// either sign stay short.
func AppendInt(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// Uint decodes an unsigned LEB128 value from *data, advancing the slice past
// the consumed bytes. The cursor is not advanced on error.
func Uint(data *[]byte) (uint64, error) {
	var v uint64
	var shift uint
	buf := *data
	for i, b := range buf {
		if shift == 63 && b > 1 {
			return 0, ErrOverflow
		} else if shift > 63 {
			return 0, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			*data = buf[i+1:]
			return v, nil
		}
		shift += 7
	}
	return 0, ErrTruncated
}

// Int decodes a signed LEB128 value from *data, advancing the slice past the
// consumed bytes. The cursor is not advanced on error.
func Int(data *[]byte) (int64, error) {
	var v int64
	var shift uint
	buf := *data
	for i, b := range buf {
		if shift == 63 && b != 0 && b != 0x7f {
			return 0, ErrOverflow
		} else if shift > 63 {
			return 0, ErrOverflow
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift // sign extend
			}
			*data = buf[i+1:]
			return v, nil
		}
	}
	return 0, ErrTruncated
}

// Uint32 decodes an unsigned LEB128 value and checks it fits 32 bits.
func Uint32(data *[]byte) (uint32, error) {
	cur := *data
	v, err := Uint(&cur)
	if err != nil {
		return 0, err
	}
	if v > 0xffffffff {
		return 0, ErrOverflow
	}
	*data = cur
	return uint32(v), nil
}
