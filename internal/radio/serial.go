package radio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// sleepFn allows tests to intercept read-error backoff sleeps.
var sleepFn = time.Sleep

const (
	serialReadBufSize = 512
	rxBackoffMin      = 50 * time.Millisecond
	rxBackoffMax      = 2 * time.Second

	largeBufferReclaimThreshold = 64 * 1024
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a UART device for the LoRa modem.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// Serial is a Transport over a UART-attached LoRa modem. A single reader
// goroutine accumulates modem bytes and emits deframed link frames; writes
// funnel through an AsyncTx so the half-duplex air interface never sees
// interleaved transmissions.
type Serial struct {
	port   Port
	codec  Codec
	tx     *AsyncTx
	rx     chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSerial wraps an open port. txBuf and rxBuf size the transmit queue and
// the receive frame channel.
func NewSerial(parent context.Context, port Port, txBuf, rxBuf int) *Serial {
	ctx, cancel := context.WithCancel(parent)
	s := &Serial{
		port:   port,
		rx:     make(chan []byte, rxBuf),
		cancel: cancel,
	}
	hooks := Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrRadioWrite)
			logging.L().Error("radio_write_error", "error", err)
		},
		OnAfter: metrics.IncLinkTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrRadioOver)
			return ErrTxOverflow
		},
	}
	s.tx = NewAsyncTx(ctx, txBuf, func(b []byte) error {
		_, err := port.Write(b)
		return err
	}, hooks)
	s.wg.Add(1)
	go s.readLoop(ctx)
	return s
}

func (s *Serial) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.rx)
	defer logging.L().Info("radio_rx_end")
	buf := make([]byte, serialReadBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := s.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			s.codec.DecodeStream(acc, func(frame []byte) {
				metrics.IncLinkRx()
				select {
				case s.rx <- frame:
				default:
					// Receiver is not keeping up; shed the oldest frame.
					select {
					case <-s.rx:
					default:
					}
					s.rx <- frame
				}
			})
			if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil { // shutting down
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout on an idle line
			}
			metrics.IncError(metrics.ErrRadioRead)
			logging.L().Warn("radio_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}

// Send queues one link frame for transmission.
func (s *Serial) Send(_ context.Context, frame []byte) error {
	if len(frame) > MaxFrameLen {
		return ErrFrameTooBig
	}
	return s.tx.SendFrame(s.codec.Encode(frame))
}

// Receive blocks until a frame arrives, ctx is done, or the transport
// closes.
func (s *Serial) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.rx:
		if !ok {
			return nil, ErrClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down both directions and waits for the reader to exit.
func (s *Serial) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.port.Close() // unblocks a pending Read
		s.tx.Close()
		s.wg.Wait()
	})
	return nil
}
