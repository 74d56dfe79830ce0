package link

import (
	"errors"
	"testing"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/sign"
)

var testKey = []byte("test link key")

func TestClientEnrollment(t *testing.T) {
	s := sign.New(testKey)
	fp := []byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	c := NewClient(s, fp)
	if c.State() != StateUnenrolled {
		t.Fatalf("initial state %v", c.State())
	}

	ask := c.AskID()
	if c.State() != StateAwaitingAssignment {
		t.Fatalf("state after AskID: %v", c.State())
	}
	if ask.Action != ActionHandshake || ask.ID != 0 {
		t.Fatalf("AskID frame %+v", ask)
	}
	if !VerifyAskID(s, ask) {
		t.Fatalf("AskID frame fails self verification")
	}

	reply := Frame{Action: ActionHandshake, ID: 7, Sig: AssignIDTag(s, fp, 7), Payload: fp}
	if err := c.OnReply(reply); err != nil {
		t.Fatalf("OnReply: %v", err)
	}
	if c.State() != StateEnrolled || c.ID() != 7 {
		t.Fatalf("state=%v id=%d", c.State(), c.ID())
	}
}

func TestClientRejectsBadSignature(t *testing.T) {
	s := sign.New(testKey)
	fp := []byte{1, 2, 3, 4, 5, 6}
	c := NewClient(s, fp)
	c.AskID()

	reply := Frame{Action: ActionHandshake, ID: 3, Sig: AssignIDTag(s, fp, 3) ^ 1, Payload: fp}
	if err := c.OnReply(reply); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("got %v", err)
	}
	// A bad reply is discarded; the client keeps waiting for a valid one.
	if c.State() != StateAwaitingAssignment {
		t.Fatalf("state after bad reply: %v", c.State())
	}
	good := Frame{Action: ActionHandshake, ID: 3, Sig: AssignIDTag(s, fp, 3), Payload: fp}
	if err := c.OnReply(good); err != nil {
		t.Fatalf("good reply after bad: %v", err)
	}
}

func TestClientRejectsForeignFingerprintEcho(t *testing.T) {
	s := sign.New(testKey)
	fp := []byte{1, 2, 3, 4, 5, 6}
	other := []byte{9, 9, 9, 9, 9, 9}
	c := NewClient(s, fp)
	c.AskID()
	reply := Frame{Action: ActionHandshake, ID: 3, Sig: AssignIDTag(s, other, 3), Payload: other}
	if err := c.OnReply(reply); !errors.Is(err, ErrBadSignature) && !errors.Is(err, ErrBadEcho) {
		t.Fatalf("got %v", err)
	}
}

func TestClientRejectsReservedID(t *testing.T) {
	s := sign.New(testKey)
	fp := []byte{1, 2, 3}
	c := NewClient(s, fp)
	c.AskID()
	reply := Frame{Action: ActionHandshake, ID: 0, Sig: AssignIDTag(s, fp, 0), Payload: fp}
	if err := c.OnReply(reply); !errors.Is(err, ErrZeroID) {
		t.Fatalf("got %v", err)
	}
}

func TestClientReplyWithoutAsk(t *testing.T) {
	s := sign.New(testKey)
	c := NewClient(s, []byte{1})
	if err := c.OnReply(Frame{Action: ActionHandshake, ID: 1}); !errors.Is(err, ErrNotAwaiting) {
		t.Fatalf("got %v", err)
	}
}

func TestClientTimeoutBackoffGrowsAndJitters(t *testing.T) {
	s := sign.New(testKey)
	c := NewClient(s, []byte{1, 2, 3})

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		c.AskID()
		d := c.OnTimeout()
		if c.State() != StateUnenrolled {
			t.Fatalf("state after timeout: %v", c.State())
		}
		if d <= 0 {
			t.Fatalf("delay %d: %v", i, d)
		}
		delays = append(delays, d)
	}
	// Capped randomized exponential: the later samples must be larger on
	// average than the first, and nothing may exceed the configured maximum
	// (plus jitter headroom).
	if delays[4] < delays[0] && delays[5] < delays[0] {
		t.Fatalf("backoff never grew: %v", delays)
	}
	for i, d := range delays {
		if d > 90*time.Second {
			t.Fatalf("delay %d exceeds cap: %v", i, d)
		}
	}
	// Delays must not be a deterministic fixed schedule.
	allEqual := true
	for _, d := range delays[1:] {
		if d != delays[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		t.Fatalf("backoff is deterministic: %v", delays)
	}
}

func TestClientReset(t *testing.T) {
	s := sign.New(testKey)
	fp := []byte{1, 2, 3}
	c := NewClient(s, fp)
	c.AskID()
	reply := Frame{Action: ActionHandshake, ID: 2, Sig: AssignIDTag(s, fp, 2), Payload: fp}
	if err := c.OnReply(reply); err != nil {
		t.Fatalf("OnReply: %v", err)
	}
	c.Reset()
	if c.State() != StateUnenrolled || c.ID() != 0 {
		t.Fatalf("Reset left state=%v id=%d", c.State(), c.ID())
	}
}
