package hub

import (
	"testing"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
)

func point(id uint8) Point {
	return Point{SensorID: id, Type: app.ValueTemperature, Raw: []byte{0, 0, 0, 0}, Time: time.Now()}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan Point, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate a slow consumer.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(point(1))
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan Point, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan Point, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	// Fill slow buffer.
	h.Broadcast(point(1))

	for i := 0; i < 10; i++ {
		h.Broadcast(point(2))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 { // at least some got through
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any points while slow was backpressured")
	}
}

func TestHub_KickPolicyClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan Point, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(point(1)) // fills the buffer
	h.Broadcast(point(2)) // overflows, client kicked

	select {
	case <-slow.Closed:
	default:
		t.Fatalf("slow client not closed under kick policy")
	}
}

func TestHub_SubscribeRemove(t *testing.T) {
	h := New()
	c := h.Subscribe()
	if h.Count() != 1 {
		t.Fatalf("Count = %d, want 1", h.Count())
	}
	h.Broadcast(point(3))
	select {
	case p := <-c.Out:
		if p.SensorID != 3 {
			t.Fatalf("SensorID = %d", p.SensorID)
		}
	default:
		t.Fatalf("subscribed client missed broadcast")
	}
	h.Remove(c)
	h.Remove(c) // idempotent
	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0", h.Count())
	}
}

func TestPointAccessors(t *testing.T) {
	p := Point{Type: app.ValuePressure, Raw: []byte{0xCD, 0x8B, 0x01, 0x00}}
	if pa, ok := p.Pressure(); !ok || pa != 101325 {
		t.Fatalf("Pressure = %d, %v", pa, ok)
	}
	if _, ok := p.Float(); ok {
		t.Fatalf("Float ok for pressure point")
	}
	f := Point{Type: app.ValueAltitude, Raw: []byte{0x00, 0x00, 0x20, 0x41}}
	if v, ok := f.Float(); !ok || v != 10.0 {
		t.Fatalf("Float = %v, %v", v, ok)
	}
}
