// Package node implements the sensor-side protocol driver: link enrollment,
// session handshake, and acknowledged sensor data reporting over a radio
// transport.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/link"
	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
	"github.com/MisterPeModder/SensorSensei/internal/radio"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
	"github.com/MisterPeModder/SensorSensei/internal/stream"
)

// sleepFn allows tests to intercept enrollment backoff sleeps.
var sleepFn = time.Sleep

// nowFn allows tests to pin the reading clock.
var nowFn = time.Now

var (
	// ErrTimedOut is returned when the gateway does not answer in time.
	ErrTimedOut = errors.New("node: timed out waiting for gateway")
	// ErrReset is returned when the gateway asks for a new handshake. The
	// caller should Connect again before reporting more data.
	ErrReset = errors.New("node: connection reset by gateway")
	// ErrIncompatible is returned when the gateway speaks another major
	// version.
	ErrIncompatible = errors.New("node: incompatible protocol version")
	// ErrNotConnected is returned by Report before a successful Connect.
	ErrNotConnected = errors.New("node: not connected")
)

const (
	defaultMaxPayload = 64
	defaultAckTimeout = 10 * time.Second
	defaultAskTimeout = 5 * time.Second
)

// Config assembles a Node.
type Config struct {
	Signer      sign.Signer
	Transport   radio.Transport
	Fingerprint []byte
	MaxPayload  int
	AckTimeout  time.Duration // wait for HandshakeEnd and Ack replies
	AskTimeout  time.Duration // wait for an AssignId reply per attempt
}

// Node is a single sensor's view of the protocol. Not safe for concurrent
// use; boards drive it from one task.
type Node struct {
	signer     sign.Signer
	trans      radio.Transport
	client     *link.Client
	maxPayload int
	ackTimeout time.Duration
	askTimeout time.Duration

	rx      stream.Reassembler
	pending []app.Packet

	established bool
	minor       uint8
	epoch       uint64
	epochAt     time.Time
}

// New builds a Node; call Connect before Report.
func New(cfg Config) *Node {
	maxPayload := cfg.MaxPayload
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayload
	}
	if maxPayload > radio.MaxFrameLen-link.HeaderLen {
		maxPayload = radio.MaxFrameLen - link.HeaderLen
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	askTimeout := cfg.AskTimeout
	if askTimeout <= 0 {
		askTimeout = defaultAskTimeout
	}
	return &Node{
		signer:     cfg.Signer,
		trans:      cfg.Transport,
		client:     link.NewClient(cfg.Signer, cfg.Fingerprint),
		maxPayload: maxPayload,
		ackTimeout: ackTimeout,
		askTimeout: askTimeout,
	}
}

// ID returns the gateway-assigned sensor id, valid after Connect.
func (n *Node) ID() uint8 { return n.client.ID() }

// Established reports whether a session handshake has completed.
func (n *Node) Established() bool { return n.established }

// Offset converts a reading timestamp to seconds relative to the session
// epoch.
func (n *Node) Offset(t time.Time) int64 { return app.Offset(n.epochAt, t) }

// Connect enrolls with the gateway and performs the version handshake. It
// retries enrollment with randomized backoff until ctx is done.
func (n *Node) Connect(ctx context.Context) error {
	n.established = false
	n.rx.Reset()
	n.pending = n.pending[:0]
	if err := n.enroll(ctx); err != nil {
		return err
	}
	return n.handshake(ctx)
}

// enroll runs AskId attempts until an AssignId reply verifies.
func (n *Node) enroll(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ask := n.client.AskID()
		if err := n.trans.Send(ctx, ask.Encode()); err != nil {
			return fmt.Errorf("send askid: %w", err)
		}
		logging.L().Debug("askid_sent")

		reply, err := n.awaitHandshakeFrame(ctx, n.askTimeout)
		if err != nil {
			if errors.Is(err, ErrTimedOut) {
				d := n.client.OnTimeout()
				logging.L().Debug("askid_timeout", "backoff", d)
				sleepFn(d)
				continue
			}
			return err
		}
		if err := n.client.OnReply(reply); err != nil {
			// Forged or foreign reply; keep waiting out this attempt.
			logging.L().Warn("askid_bad_reply", "error", err)
			d := n.client.OnTimeout()
			sleepFn(d)
			continue
		}
		logging.L().Info("enrolled", "id", n.client.ID())
		return nil
	}
}

// handshake negotiates the session version and epoch.
func (n *Node) handshake(ctx context.Context) error {
	start := app.HandshakeStart{Major: app.VersionMajor, Minor: app.VersionMinor}
	if err := n.sendPacket(ctx, start); err != nil {
		return err
	}
	pkt, err := n.awaitPacket(ctx, n.ackTimeout)
	if err != nil {
		return err
	}
	end, ok := pkt.(app.HandshakeEnd)
	if !ok {
		metrics.IncError(metrics.ErrHandshake)
		return fmt.Errorf("%w: got %s", ErrReset, pkt.Kind())
	}
	if end.Major != app.VersionMajor {
		metrics.IncError(metrics.ErrHandshake)
		return fmt.Errorf("%w: gateway speaks %d.%d", ErrIncompatible, end.Major, end.Minor)
	}
	n.minor = end.Minor
	if app.VersionMinor < n.minor {
		n.minor = app.VersionMinor
	}
	n.epoch = end.Epoch
	n.epochAt = nowFn()
	n.established = true
	logging.L().Info("session_established", "id", n.client.ID(), "minor", n.minor, "epoch_ms", n.epoch)
	return nil
}

// Report sends a batch of readings and waits for the gateway's Ack.
func (n *Node) Report(ctx context.Context, values []app.Value) error {
	if !n.established {
		return ErrNotConnected
	}
	if err := n.sendPacket(ctx, app.SensorData{Values: values}); err != nil {
		return err
	}
	pkt, err := n.awaitPacket(ctx, n.ackTimeout)
	if err != nil {
		return err
	}
	switch pkt.(type) {
	case app.Ack:
		metrics.AddSensorValues(len(values))
		return nil
	case app.ResetConnection:
		n.established = false
		n.client.Reset()
		return ErrReset
	default:
		logging.L().Warn("unexpected_packet", "kind", pkt.Kind().String())
		return fmt.Errorf("%w: got %s", ErrReset, pkt.Kind())
	}
}

// sendPacket fragments one packet into signed data frames.
func (n *Node) sendPacket(ctx context.Context, pkt app.Packet) error {
	q := stream.NewSendQueue(0)
	if err := q.PushPacket(pkt); err != nil {
		return err
	}
	for {
		chunk := q.NextChunk(n.maxPayload)
		if chunk == nil {
			break
		}
		f := link.Frame{
			Action:  link.ActionData,
			ID:      n.client.ID(),
			Sig:     link.DataTag(n.signer, chunk),
			Payload: chunk,
		}
		if err := n.trans.Send(ctx, f.Encode()); err != nil {
			return fmt.Errorf("send data frame: %w", err)
		}
	}
	metrics.IncAppTx()
	return nil
}

// awaitHandshakeFrame waits for a verified handshake-action frame.
func (n *Node) awaitHandshakeFrame(ctx context.Context, timeout time.Duration) (link.Frame, error) {
	deadline := nowFn().Add(timeout)
	for {
		f, err := n.receiveFrame(ctx, deadline)
		if err != nil {
			return link.Frame{}, err
		}
		if f.Action == link.ActionHandshake {
			return f, nil
		}
		// Stale data frame from a previous session; ignore.
	}
}

// awaitPacket waits for the next application packet addressed to this node.
func (n *Node) awaitPacket(ctx context.Context, timeout time.Duration) (app.Packet, error) {
	if len(n.pending) > 0 {
		pkt := n.pending[0]
		n.pending = n.pending[1:]
		return pkt, nil
	}
	deadline := nowFn().Add(timeout)
	for {
		f, err := n.receiveFrame(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if f.Action != link.ActionData || f.ID != n.client.ID() {
			continue
		}
		if !link.VerifyData(n.signer, f) {
			metrics.IncSigMismatch()
			continue
		}
		n.rx.Append(f.Payload)
		for {
			pkt, err := n.rx.Next()
			if err != nil {
				metrics.IncError(metrics.ErrAppDecode)
				logging.L().Warn("app_decode_error", "error", err)
				break
			}
			if pkt == nil {
				break
			}
			metrics.IncAppRx()
			n.pending = append(n.pending, pkt)
		}
		if len(n.pending) > 0 {
			pkt := n.pending[0]
			n.pending = n.pending[1:]
			return pkt, nil
		}
	}
}

// receiveFrame reads and decodes one link frame before the deadline.
func (n *Node) receiveFrame(ctx context.Context, deadline time.Time) (link.Frame, error) {
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return link.Frame{}, ErrTimedOut
		}
		rctx, cancel := context.WithTimeout(ctx, remain)
		raw, err := n.trans.Receive(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return link.Frame{}, ErrTimedOut
			}
			return link.Frame{}, err
		}
		f, err := link.Decode(raw)
		if err != nil {
			logging.L().Debug("malformed_frame", "len", len(raw))
			continue
		}
		return f, nil
	}
}
