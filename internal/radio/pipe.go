package radio

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory transports. Frames written to one
// side arrive at the other, in order and unmodified. Used in tests to run a
// node and a gateway against each other without hardware.
func Pipe(buf int) (*PipeEnd, *PipeEnd) {
	a2b := make(chan []byte, buf)
	b2a := make(chan []byte, buf)
	done := make(chan struct{})
	var once sync.Once
	closeFn := func() { once.Do(func() { close(done) }) }
	a := &PipeEnd{tx: a2b, rx: b2a, done: done, close: closeFn}
	b := &PipeEnd{tx: b2a, rx: a2b, done: done, close: closeFn}
	return a, b
}

// PipeEnd is one side of an in-memory frame pipe. Closing either end closes
// both directions.
type PipeEnd struct {
	tx    chan []byte
	rx    chan []byte
	done  chan struct{}
	close func()

	// Drop, when set, is consulted per outgoing frame; returning true
	// discards the frame, simulating radio loss.
	Drop func(frame []byte) bool
	// Corrupt, when set, may return a mutated copy of an outgoing frame.
	Corrupt func(frame []byte) []byte
}

func (p *PipeEnd) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameLen {
		return ErrFrameTooBig
	}
	if p.Drop != nil && p.Drop(frame) {
		return nil
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	if p.Corrupt != nil {
		out = p.Corrupt(out)
	}
	select {
	case p.tx <- out:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.rx:
		return frame, nil
	case <-p.done:
		// Drain frames already in flight before reporting closed.
		select {
		case frame := <-p.rx:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipeEnd) Close() error {
	p.close()
	return nil
}
