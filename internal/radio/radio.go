// Package radio moves opaque link frames between a sensor node and its
// gateway. Backends share one Transport interface: a framed UART modem
// (tarm/serial), a UDP datagram bridge for bench setups, and an in-memory
// pipe for tests.
package radio

import (
	"context"
	"errors"
)

// MaxFrameLen bounds a single link frame (header plus payload) so every
// backend can carry it in one unit. The UART length byte leaves room for
// the trailing checksum.
const MaxFrameLen = 245

var (
	// ErrClosed is returned once a transport has been shut down.
	ErrClosed = errors.New("radio: transport closed")
	// ErrFrameTooBig is returned for frames exceeding MaxFrameLen.
	ErrFrameTooBig = errors.New("radio: frame too big")
	// ErrTxOverflow is returned when the transmit queue is full.
	ErrTxOverflow = errors.New("radio: tx overflow")
)

// Transport is a half-duplex frame channel. Send queues one frame for
// transmission; Receive blocks until a complete frame arrives, the context
// is done, or the transport closes.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
