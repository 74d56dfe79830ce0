// Package stream bridges the byte-oriented application layer onto fixed-size
// link frames: a FIFO send queue that fragments outgoing packet bytes into
// link-sized chunks, and a per-peer reassembler that turns in-order frame
// payloads back into application packets.
//
// Fragmentation never reorders or duplicates bytes. Reassembly assumes
// in-order delivery; lost or reordered frames are out of scope for this
// layer (the link provides no retransmission).
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// ErrQueueFull is returned when a push would exceed the queue's memory
// budget.
var ErrQueueFull = errors.New("stream: send queue full")

// reclaimThreshold is the buffer capacity above which a fully drained
// accumulator is reallocated, so bursts do not pin large backing arrays.
const reclaimThreshold = 16 * 1024

// SendQueue accumulates serialized application packets and slices them into
// link payload chunks, front first. Safe for one producer and one consumer
// running concurrently.
type SendQueue struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

// NewSendQueue creates a queue bounded to limit bytes (0 = unbounded).
func NewSendQueue(limit int) *SendQueue {
	return &SendQueue{limit: limit}
}

// Push appends one packet's bytes to the back of the queue.
func (q *SendQueue) Push(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && q.buf.Len()+len(p) > q.limit {
		return fmt.Errorf("%w: %d+%d > %d", ErrQueueFull, q.buf.Len(), len(p), q.limit)
	}
	_, _ = q.buf.Write(p)
	return nil
}

// PushPacket serializes pkt and appends it.
func (q *SendQueue) PushPacket(pkt app.Packet) error {
	return q.Push(app.Encode(pkt))
}

// NextChunk removes up to max bytes from the front of the queue and returns
// them as one link payload. It returns nil when the queue is empty.
func (q *SendQueue) NextChunk(max int) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf.Len() == 0 || max <= 0 {
		return nil
	}
	n := q.buf.Len()
	if n > max {
		n = max
	}
	chunk := make([]byte, n)
	_, _ = q.buf.Read(chunk)
	if q.buf.Len() == 0 && q.buf.Cap() > reclaimThreshold {
		q.buf = bytes.Buffer{}
	}
	return chunk
}

// Len returns the queued byte count.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

// Reset drops all queued bytes.
func (q *SendQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.Reset()
}

// Reassembler rebuilds application packets from the payloads of successive
// data frames of a single peer. Not safe for concurrent use; the gateway
// keeps one per enrolled id.
type Reassembler struct {
	buf bytes.Buffer
}

// Append adds the payload of one data frame to the back of the receive
// buffer.
func (r *Reassembler) Append(p []byte) {
	_, _ = r.buf.Write(p)
}

// Next parses one packet off the front of the buffer.
//
// It returns (nil, nil) when more bytes are needed: either the buffer is
// empty or it holds a truncated prefix that a later frame may complete. A
// structurally invalid prefix is discarded byte by byte until a plausible
// discriminant leads the buffer; the malformed-frame metric records each
// resync. The scan is bounded by the buffer length, so it cannot deadlock.
func (r *Reassembler) Next() (app.Packet, error) {
	for {
		data := r.buf.Bytes()
		if len(data) == 0 {
			r.reclaim()
			return nil, nil
		}
		pkt, n, err := app.Decode(data)
		if err == nil {
			r.buf.Next(n)
			return pkt, nil
		}
		if errors.Is(err, app.ErrTruncated) {
			return nil, nil
		}
		// Hard decode error: resynchronize.
		metrics.IncMalformed()
		r.buf.Next(1)
		for {
			rest := r.buf.Bytes()
			if len(rest) == 0 || app.Kind(rest[0]) <= app.KindReset {
				break
			}
			r.buf.Next(1)
		}
	}
}

// Len returns the buffered byte count.
func (r *Reassembler) Len() int { return r.buf.Len() }

// Reset drops all buffered bytes, e.g. on ResetConnection.
func (r *Reassembler) Reset() {
	r.buf.Reset()
}

func (r *Reassembler) reclaim() {
	if r.buf.Cap() > reclaimThreshold {
		r.buf = bytes.Buffer{}
	}
}
