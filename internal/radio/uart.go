package radio

import (
	"bytes"

	"github.com/MisterPeModder/SensorSensei/internal/link"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// Codec frames link bytes for a UART-attached LoRa modem:
//
//	[0xC4, 0x5A, len+1, frame..., checksum]
//
// checksum = 0xC4 + (len+1) + sum(frame bytes), mod 256. The modem is a
// transparent byte pipe, so the preamble and checksum let the receiver
// realign after noise or a partial read.
type Codec struct{}

const (
	pre0 = 0xC4
	pre1 = 0x5A

	// ln counts the frame bytes plus the checksum.
	minLn = link.HeaderLen + 1
	maxLn = MaxFrameLen + 1
)

// compactBuffer reclaims consumed prefix capacity when the accumulator
// grows large relative to its unread bytes. Returns true if it compacted.
func compactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode wraps one link frame for the wire. Frames over MaxFrameLen are
// rejected by Send before reaching here.
func (Codec) Encode(frame []byte) []byte {
	n := len(frame)
	out := make([]byte, n+4)
	out[0] = pre0
	out[1] = pre1
	out[2] = byte(n + 1)
	sum := byte(pre0) + out[2]
	for i, b := range frame {
		out[3+i] = b
		sum += b
	}
	out[3+n] = sum
	return out
}

// DecodeStream drains complete frames from in and emits each via out. It
// leaves any trailing partial frame buffered for the next call. Garbage
// between frames is skipped one byte at a time until the preamble realigns;
// each failed alignment counts as a malformed frame.
func (Codec) DecodeStream(in *bytes.Buffer, out func(frame []byte)) {
	header := []byte{pre0, pre1}

	for {
		data := in.Bytes()
		_ = compactBuffer(in)
		if len(data) < 3 { // preamble + len
			return
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// Keep the last byte in case the next read starts with the
			// preamble's second half.
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		if len(data) < 4 {
			return
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := 3 + ln
		if len(data) < req {
			return
		}

		sum := byte(pre0) + data[2]
		for _, b := range data[3 : req-1] {
			sum += b
		}
		if sum != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		frame := make([]byte, ln-1)
		copy(frame, data[3:req-1])
		out(frame)
		in.Next(req)
	}
}
