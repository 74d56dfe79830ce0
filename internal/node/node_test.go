package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/link"
	"github.com/MisterPeModder/SensorSensei/internal/radio"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
)

var testKey = []byte("node test key")

// fakeGateway services enrollment and application packets over a pipe end,
// scripted per test.
type fakeGateway struct {
	t      *testing.T
	end    *radio.PipeEnd
	signer sign.Signer

	// ignoreAsks drops the first n AskId requests to force retries.
	ignoreAsks int
	// onPacket decides the reply to each application packet.
	onPacket func(pkt app.Packet) app.Packet
}

func (fg *fakeGateway) run(ctx context.Context) {
	var assigned uint8
	for {
		raw, err := fg.end.Receive(ctx)
		if err != nil {
			return
		}
		f, err := link.Decode(raw)
		if err != nil {
			continue
		}
		switch f.Action {
		case link.ActionHandshake:
			if fg.ignoreAsks > 0 {
				fg.ignoreAsks--
				continue
			}
			if !link.VerifyAskID(fg.signer, f) {
				continue
			}
			assigned = 7
			reply := link.Frame{
				Action:  link.ActionHandshake,
				ID:      assigned,
				Sig:     link.AssignIDTag(fg.signer, f.Payload, assigned),
				Payload: f.Payload,
			}
			_ = fg.end.Send(ctx, reply.Encode())
		case link.ActionData:
			if !link.VerifyData(fg.signer, f) || f.ID != assigned {
				continue
			}
			pkt, _, err := app.Decode(f.Payload)
			if err != nil {
				continue
			}
			var reply app.Packet
			if fg.onPacket != nil {
				reply = fg.onPacket(pkt)
			}
			if reply == nil {
				continue
			}
			payload := app.Encode(reply)
			rf := link.Frame{
				Action:  link.ActionData,
				ID:      assigned,
				Sig:     link.DataTag(fg.signer, payload),
				Payload: payload,
			}
			_ = fg.end.Send(ctx, rf.Encode())
		}
	}
}

func defaultHandshake(pkt app.Packet) app.Packet {
	switch pkt.(type) {
	case app.HandshakeStart:
		return app.HandshakeEnd{Major: app.VersionMajor, Minor: app.VersionMinor, Epoch: 12345}
	case app.SensorData:
		return app.Ack{}
	default:
		return nil
	}
}

func startFake(t *testing.T, fg *fakeGateway) (*Node, context.Context) {
	t.Helper()
	gwEnd, nodeEnd := radio.Pipe(16)
	fg.t = t
	fg.end = gwEnd
	fg.signer = sign.New(testKey)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	go fg.run(ctx)
	t.Cleanup(func() { _ = gwEnd.Close() })
	n := New(Config{
		Signer:      sign.New(testKey),
		Transport:   nodeEnd,
		Fingerprint: []byte("fp-test-node"),
		AckTimeout:  time.Second,
		AskTimeout:  100 * time.Millisecond,
	})
	return n, ctx
}

func TestConnectAndReport(t *testing.T) {
	n, ctx := startFake(t, &fakeGateway{onPacket: defaultHandshake})
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if n.ID() != 7 {
		t.Fatalf("ID = %d, want 7", n.ID())
	}
	if err := n.Report(ctx, []app.Value{app.FloatValue(app.ValueTemperature, 0, 20)}); err != nil {
		t.Fatalf("Report: %v", err)
	}
}

func TestEnrollRetriesWithBackoff(t *testing.T) {
	var slept []time.Duration
	oldSleep := sleepFn
	sleepFn = func(d time.Duration) { slept = append(slept, d) }
	defer func() { sleepFn = oldSleep }()

	n, ctx := startFake(t, &fakeGateway{ignoreAsks: 2, onPacket: defaultHandshake})
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	for i, d := range slept {
		if d <= 0 {
			t.Fatalf("sleep %d = %s", i, d)
		}
	}
}

func TestReportBeforeConnect(t *testing.T) {
	n, ctx := startFake(t, &fakeGateway{onPacket: defaultHandshake})
	if err := n.Report(ctx, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v", err)
	}
}

func TestIncompatibleGatewayVersion(t *testing.T) {
	n, ctx := startFake(t, &fakeGateway{onPacket: func(pkt app.Packet) app.Packet {
		if _, ok := pkt.(app.HandshakeStart); ok {
			return app.HandshakeEnd{Major: app.VersionMajor + 1, Epoch: 1}
		}
		return nil
	}})
	if err := n.Connect(ctx); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("got %v", err)
	}
	if n.Established() {
		t.Fatalf("session established despite version mismatch")
	}
}

func TestResetDuringReport(t *testing.T) {
	n, ctx := startFake(t, &fakeGateway{onPacket: func(pkt app.Packet) app.Packet {
		switch pkt.(type) {
		case app.HandshakeStart:
			return app.HandshakeEnd{Major: app.VersionMajor, Minor: 0, Epoch: 1}
		case app.SensorData:
			return app.ResetConnection{}
		default:
			return nil
		}
	}})
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := n.Report(ctx, []app.Value{app.FloatValue(app.ValueTemperature, 0, 20)})
	if !errors.Is(err, ErrReset) {
		t.Fatalf("got %v, want ErrReset", err)
	}
	if n.Established() {
		t.Fatalf("still established after reset")
	}
	if err := n.Report(ctx, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v after reset", err)
	}
}

func TestReportTimesOutWithoutAck(t *testing.T) {
	n, ctx := startFake(t, &fakeGateway{onPacket: func(pkt app.Packet) app.Packet {
		if _, ok := pkt.(app.HandshakeStart); ok {
			return app.HandshakeEnd{Major: app.VersionMajor, Minor: 0, Epoch: 1}
		}
		return nil // never ack
	}})
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := n.Report(ctx, []app.Value{app.FloatValue(app.ValueTemperature, 0, 20)}); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("got %v, want ErrTimedOut", err)
	}
}

func TestOffsetUsesSessionEpoch(t *testing.T) {
	n, ctx := startFake(t, &fakeGateway{onPacket: defaultHandshake})
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if off := n.Offset(time.Now().Add(10 * time.Second)); off < 9 || off > 11 {
		t.Fatalf("Offset = %d", off)
	}
	if off := n.Offset(time.Now().Add(-10 * time.Second)); off > -9 || off < -11 {
		t.Fatalf("negative Offset = %d", off)
	}
}
