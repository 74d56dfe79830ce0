// Package gateway runs the LoRa-side server: it enrolls sensors, negotiates
// application sessions, reassembles their sensor data, and publishes
// resolved readings to the hub.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/hub"
	"github.com/MisterPeModder/SensorSensei/internal/link"
	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
	"github.com/MisterPeModder/SensorSensei/internal/radio"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
	"github.com/MisterPeModder/SensorSensei/internal/stream"
)

// nowFn allows tests to pin the session clock.
var nowFn = time.Now

const (
	// defaultMaxPayload bounds the application bytes per data frame.
	defaultMaxPayload = 64
	// sendQueueLimit bounds buffered outbound bytes per session.
	sendQueueLimit = 16 * 1024
	// txQueueSize sizes the async transmit funnel.
	txQueueSize = 64
)

// Config assembles a Gateway.
type Config struct {
	Signer     sign.Signer
	Transport  radio.Transport
	Table      *link.Table
	Hub        *hub.Hub
	MaxPayload int
}

// Gateway owns the receive loop and one session per enrolled id.
type Gateway struct {
	signer     sign.Signer
	trans      radio.Transport
	table      *link.Table
	hub        *hub.Hub
	tx         *radio.AsyncTx
	maxPayload int
	start      time.Time
	sessions   map[uint8]*session
}

// session tracks the application-layer state of one enrolled sensor.
type session struct {
	id          uint8
	rx          stream.Reassembler
	txq         *stream.SendQueue
	established bool
	minor       uint8
	epoch       uint64    // milliseconds, as sent in HandshakeEnd
	epochAt     time.Time // wall-clock instant matching epoch
}

// New builds a Gateway; call Run to start serving.
func New(ctx context.Context, cfg Config) *Gateway {
	maxPayload := cfg.MaxPayload
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayload
	}
	if maxPayload > radio.MaxFrameLen-link.HeaderLen {
		maxPayload = radio.MaxFrameLen - link.HeaderLen
	}
	g := &Gateway{
		signer:     cfg.Signer,
		trans:      cfg.Transport,
		table:      cfg.Table,
		hub:        cfg.Hub,
		maxPayload: maxPayload,
		start:      nowFn(),
		sessions:   make(map[uint8]*session),
	}
	hooks := radio.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrRadioWrite)
			logging.L().Error("gateway_tx_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrRadioOver)
			return radio.ErrTxOverflow
		},
	}
	g.tx = radio.NewAsyncTx(ctx, txQueueSize, func(frame []byte) error {
		return g.trans.Send(ctx, frame)
	}, hooks)
	return g
}

// Run serves frames until ctx is done or the transport closes.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.tx.Close()
	for {
		raw, err := g.trans.Receive(ctx)
		if err != nil {
			if errors.Is(err, radio.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			metrics.IncError(metrics.ErrRadioRead)
			return err
		}
		g.handleFrame(raw)
	}
}

func (g *Gateway) handleFrame(raw []byte) {
	f, err := link.Decode(raw)
	if err != nil {
		logging.L().Debug("gateway_malformed_frame", "len", len(raw))
		return
	}
	switch f.Action {
	case link.ActionHandshake:
		g.handleAskID(f)
	case link.ActionData:
		g.handleData(f)
	}
}

// handleAskID serves an enrollment request. The requesting sensor has no id
// yet, so the frame carries id 0 and the fingerprint as payload.
func (g *Gateway) handleAskID(f link.Frame) {
	if !link.VerifyAskID(g.signer, f) {
		metrics.IncSigMismatch()
		logging.L().Warn("askid_bad_signature", "id", f.ID)
		return
	}
	if len(f.Payload) == 0 {
		logging.L().Warn("askid_empty_fingerprint")
		return
	}
	fingerprint := append([]byte(nil), f.Payload...)
	id, evicted := g.table.Resolve(fingerprint)
	metrics.IncEnrollment()
	if evicted {
		// The previous holder finds out when its data frames go
		// unanswered and re-enrolls.
		delete(g.sessions, id)
		logging.L().Warn("enrollment_evicted_previous", "id", id)
	}
	g.sessions[id] = g.newSession(id)
	logging.L().Info("sensor_enrolled", "id", id)

	reply := link.Frame{
		Action:  link.ActionHandshake,
		ID:      id,
		Sig:     link.AssignIDTag(g.signer, fingerprint, id),
		Payload: fingerprint,
	}
	g.transmit(reply.Encode())
}

// handleData feeds a data frame into its session's reassembler and services
// any completed packets.
func (g *Gateway) handleData(f link.Frame) {
	if !link.VerifyData(g.signer, f) {
		metrics.IncSigMismatch()
		logging.L().Warn("data_bad_signature", "id", f.ID)
		return
	}
	s, ok := g.sessions[f.ID]
	if !ok {
		if _, known := g.table.Lookup(f.ID); !known {
			logging.L().Debug("data_from_unenrolled", "id", f.ID)
			return
		}
		// Enrolled in a previous gateway run; rebuild the session and let
		// the handshake re-establish the epoch.
		s = g.newSession(f.ID)
		g.sessions[f.ID] = s
	}
	s.rx.Append(f.Payload)
	for {
		pkt, err := s.rx.Next()
		if err != nil {
			metrics.IncError(metrics.ErrAppDecode)
			logging.L().Warn("app_decode_error", "id", f.ID, "error", err)
			return
		}
		if pkt == nil {
			break
		}
		metrics.IncAppRx()
		g.handlePacket(s, pkt)
	}
	g.flush(s)
}

func (g *Gateway) handlePacket(s *session, pkt app.Packet) {
	switch p := pkt.(type) {
	case app.HandshakeStart:
		g.handleHandshakeStart(s, p)
	case app.SensorData:
		g.handleSensorData(s, p)
	case app.ResetConnection:
		logging.L().Info("session_reset_by_peer", "id", s.id)
		*s = *g.newSession(s.id)
	case app.HandshakeEnd, app.Ack:
		// Only the gateway emits these.
		logging.L().Warn("unexpected_packet", "id", s.id, "kind", pkt.Kind().String())
	}
}

func (g *Gateway) handleHandshakeStart(s *session, p app.HandshakeStart) {
	if p.Major != app.VersionMajor {
		// Incompatible peer: stay silent, nothing we send would parse.
		metrics.IncError(metrics.ErrHandshake)
		logging.L().Warn("handshake_version_mismatch", "id", s.id, "major", p.Major, "minor", p.Minor)
		return
	}
	minor := app.VersionMinor
	if p.Minor < minor {
		minor = p.Minor
	}
	now := nowFn()
	s.established = true
	s.minor = minor
	s.epoch = uint64(now.Sub(g.start).Milliseconds())
	s.epochAt = now
	logging.L().Info("session_established", "id", s.id, "minor", minor, "epoch_ms", s.epoch)

	g.queue(s, app.HandshakeEnd{Major: app.VersionMajor, Minor: minor, Epoch: s.epoch})
}

func (g *Gateway) handleSensorData(s *session, p app.SensorData) {
	if !s.established {
		logging.L().Warn("sensor_data_before_handshake", "id", s.id)
		g.queue(s, app.ResetConnection{})
		return
	}
	for _, v := range p.Values {
		at := s.epochAt.Add(time.Duration(v.TimeOffset) * time.Second)
		g.hub.Broadcast(hub.Point{
			SensorID: s.id,
			Type:     v.Type,
			Raw:      v.Raw,
			Time:     at,
		})
	}
	metrics.AddSensorValues(len(p.Values))
	logging.L().Debug("sensor_data", "id", s.id, "values", len(p.Values))
	g.queue(s, app.Ack{})
}

func (g *Gateway) newSession(id uint8) *session {
	return &session{id: id, txq: stream.NewSendQueue(sendQueueLimit)}
}

// queue serializes a packet onto the session's send queue.
func (g *Gateway) queue(s *session, pkt app.Packet) {
	if err := s.txq.PushPacket(pkt); err != nil {
		metrics.IncError(metrics.ErrRadioOver)
		logging.L().Warn("send_queue_full", "id", s.id, "error", err)
		return
	}
	metrics.IncAppTx()
}

// flush drains the session's send queue into signed data frames.
func (g *Gateway) flush(s *session) {
	for {
		chunk := s.txq.NextChunk(g.maxPayload)
		if chunk == nil {
			return
		}
		f := link.Frame{
			Action:  link.ActionData,
			ID:      s.id,
			Sig:     link.DataTag(g.signer, chunk),
			Payload: chunk,
		}
		g.transmit(f.Encode())
	}
}

func (g *Gateway) transmit(frame []byte) {
	if err := g.tx.SendFrame(frame); err != nil {
		logging.L().Warn("gateway_tx_drop", "error", err)
	}
}
