package radio

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// ErrNoPeer is returned by a listening UDP transport before any node has
// sent a datagram.
var ErrNoPeer = errors.New("radio: no peer yet")

// UDP carries one link frame per datagram. Datagram boundaries replace the
// UART framing, so frames travel raw. A dialed transport (node side) talks
// to a fixed gateway address; a listening transport (gateway bench setups)
// replies to the most recent sender.
type UDP struct {
	conn   *net.UDPConn
	dialed bool

	mu   sync.Mutex
	peer *net.UDPAddr

	rx     chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// DialUDP connects to a gateway at addr (host:port).
func DialUDP(parent context.Context, addr string, rxBuf int) (*UDP, error) {
	ra, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, ra)
	if err != nil {
		return nil, err
	}
	return newUDP(parent, conn, true, rxBuf), nil
}

// ListenUDP binds addr and serves whichever node transmitted last.
func ListenUDP(parent context.Context, addr string, rxBuf int) (*UDP, error) {
	la, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, err
	}
	return newUDP(parent, conn, false, rxBuf), nil
}

func newUDP(parent context.Context, conn *net.UDPConn, dialed bool, rxBuf int) *UDP {
	ctx, cancel := context.WithCancel(parent)
	u := &UDP{
		conn:   conn,
		dialed: dialed,
		rx:     make(chan []byte, rxBuf),
		cancel: cancel,
	}
	u.wg.Add(1)
	go u.readLoop(ctx)
	return u
}

// LocalAddr reports the bound address, useful when listening on port 0.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *UDP) readLoop(ctx context.Context) {
	defer u.wg.Done()
	defer close(u.rx)
	buf := make([]byte, 2048)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			metrics.IncError(metrics.ErrRadioRead)
			logging.L().Warn("radio_read_error", "error", err)
			continue
		}
		if n == 0 || n > MaxFrameLen {
			metrics.IncMalformed()
			continue
		}
		if !u.dialed {
			u.mu.Lock()
			u.peer = from
			u.mu.Unlock()
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		metrics.IncLinkRx()
		select {
		case u.rx <- frame:
		default:
			select {
			case <-u.rx:
			default:
			}
			u.rx <- frame
		}
	}
}

// Send transmits one frame as a single datagram.
func (u *UDP) Send(_ context.Context, frame []byte) error {
	if len(frame) > MaxFrameLen {
		return ErrFrameTooBig
	}
	var err error
	if u.dialed {
		_, err = u.conn.Write(frame)
	} else {
		u.mu.Lock()
		peer := u.peer
		u.mu.Unlock()
		if peer == nil {
			return ErrNoPeer
		}
		_, err = u.conn.WriteToUDP(frame, peer)
	}
	if err != nil {
		metrics.IncError(metrics.ErrRadioWrite)
		return err
	}
	metrics.IncLinkTx()
	return nil
}

// Receive blocks until a datagram arrives, ctx is done, or the transport
// closes.
func (u *UDP) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-u.rx:
		if !ok {
			return nil, ErrClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the socket and waits for the reader to exit.
func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		u.cancel()
		err = u.conn.Close()
		u.wg.Wait()
	})
	return err
}
