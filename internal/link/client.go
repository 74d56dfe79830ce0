package link

import (
	"bytes"
	"errors"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/metrics"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
	"github.com/cenkalti/backoff"
)

// ClientState tracks the enrollment progress of a sensor client.
type ClientState int

const (
	StateUnenrolled ClientState = iota
	StateAwaitingAssignment
	StateEnrolled
)

func (s ClientState) String() string {
	switch s {
	case StateAwaitingAssignment:
		return "awaiting_assignment"
	case StateEnrolled:
		return "enrolled"
	default:
		return "unenrolled"
	}
}

// Client enrollment errors.
var (
	ErrNotAwaiting  = errors.New("link: reply while not awaiting assignment")
	ErrBadSignature = errors.New("link: enrollment reply signature mismatch")
	ErrBadEcho      = errors.New("link: enrollment reply fingerprint mismatch")
	ErrZeroID       = errors.New("link: enrollment reply carries reserved id 0")
)

// Client is the sensor-side enrollment state machine. It is a pure event
// machine: the caller transmits the frames it builds, feeds it replies and
// timeout events, and sleeps for the delays it returns. It is not safe for
// concurrent use.
type Client struct {
	signer      sign.Signer
	fingerprint []byte
	state       ClientState
	id          uint8
	retry       backoff.BackOff
}

// NewClient creates an enrollment machine for the given fingerprint. Retry
// delays grow exponentially with randomized jitter so a fleet of clients
// booting together does not produce synchronized retry storms.
func NewClient(signer sign.Signer, fingerprint []byte) *Client {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // retry forever; the link may come back any time
	return &Client{
		signer:      signer,
		fingerprint: append([]byte(nil), fingerprint...),
		retry:       bo,
	}
}

// State returns the current enrollment state.
func (c *Client) State() ClientState { return c.state }

// ID returns the gateway-assigned id; valid only once Enrolled.
func (c *Client) ID() uint8 { return c.id }

// Fingerprint returns the client's opaque identifier.
func (c *Client) Fingerprint() []byte { return c.fingerprint }

// AskID builds the enrollment request frame (id 0, signed fingerprint) and
// arms the AwaitingAssignment state. The caller must transmit the frame and
// then either deliver a reply via OnReply or report expiry via OnTimeout.
func (c *Client) AskID() Frame {
	c.state = StateAwaitingAssignment
	return Frame{
		Action:  ActionHandshake,
		ID:      0,
		Sig:     AskIDTag(c.signer, c.fingerprint),
		Payload: c.fingerprint,
	}
}

// OnReply consumes a handshake-action frame received before the timeout. On
// success the client is Enrolled under the gateway-assigned id. A frame that
// fails verification is discarded and the client keeps waiting.
func (c *Client) OnReply(f Frame) error {
	if c.state != StateAwaitingAssignment {
		return ErrNotAwaiting
	}
	if f.ID == 0 {
		return ErrZeroID
	}
	if !VerifyAssignID(c.signer, f, c.fingerprint) {
		metrics.IncSigMismatch()
		return ErrBadSignature
	}
	if !bytes.Equal(f.Payload, c.fingerprint) {
		return ErrBadEcho
	}
	c.state = StateEnrolled
	c.id = f.ID
	c.retry.Reset()
	return nil
}

// OnTimeout records an expired handshake attempt and returns how long to
// wait before retrying. The client drops back to Unenrolled.
func (c *Client) OnTimeout() time.Duration {
	c.state = StateUnenrolled
	return c.retry.NextBackOff()
}

// Reset forgets the assignment, e.g. after a ResetConnection packet.
func (c *Client) Reset() {
	c.state = StateUnenrolled
	c.id = 0
	c.retry.Reset()
}
