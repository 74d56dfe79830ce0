package radio

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func udpPair(t *testing.T) (node, gw *UDP) {
	t.Helper()
	ctx := context.Background()
	gw, err := ListenUDP(ctx, "127.0.0.1:0", 4)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	node, err = DialUDP(ctx, gw.LocalAddr().String(), 4)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = node.Close() })
	return node, gw
}

func TestUDPRoundTrip(t *testing.T) {
	node, gw := udpPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	if err := node.Send(ctx, out); err != nil {
		t.Fatalf("node send: %v", err)
	}
	got, err := gw.Receive(ctx)
	if err != nil {
		t.Fatalf("gw receive: %v", err)
	}
	if !bytes.Equal(got, out) {
		t.Fatalf("frame mismatch: %x != %x", got, out)
	}

	// The listener learned the node address and can reply now.
	reply := []byte{0xA1, 0xB2}
	if err := gw.Send(ctx, reply); err != nil {
		t.Fatalf("gw send: %v", err)
	}
	got, err = node.Receive(ctx)
	if err != nil {
		t.Fatalf("node receive: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("reply mismatch: %x != %x", got, reply)
	}
}

func TestUDPListenerHasNoPeerInitially(t *testing.T) {
	_, gw := udpPair(t)
	if err := gw.Send(context.Background(), []byte{0x01}); err != ErrNoPeer {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
}

func TestUDPRejectsOversizedFrame(t *testing.T) {
	node, _ := udpPair(t)
	big := make([]byte, MaxFrameLen+1)
	if err := node.Send(context.Background(), big); err != ErrFrameTooBig {
		t.Fatalf("expected ErrFrameTooBig, got %v", err)
	}
}

func TestUDPReceiveAfterClose(t *testing.T) {
	node, _ := udpPair(t)
	_ = node.Close()
	if _, err := node.Receive(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
