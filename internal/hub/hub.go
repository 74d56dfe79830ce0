// Package hub fans decoded sensor readings out to local consumers (the HTTP
// exporter, metrics logger, or anything else that subscribes). Producers
// never block: a slow consumer either loses points or is kicked, per the
// configured policy.
package hub

import (
	"sync"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/app"
	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// Point is one timestamped reading from an enrolled sensor, resolved to
// absolute time by the gateway.
type Point struct {
	SensorID uint8
	Type     app.ValueType
	Raw      []byte
	Time     time.Time
}

// Float interprets the raw bytes for f32-typed points.
func (p Point) Float() (float32, bool) {
	return app.Value{Type: p.Type, Raw: p.Raw}.Float()
}

// Pressure interprets the raw bytes for pressure points.
func (p Point) Pressure() (uint32, bool) {
	return app.Value{Type: p.Type, Raw: p.Raw}.Pressure()
}

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

type Client struct {
	Out       chan Point
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Subscribe registers and returns a new client. Callers must Remove it when
// done.
func (h *Hub) Subscribe() *Client {
	buf := h.OutBufSize
	if buf <= 0 {
		buf = 64
	}
	c := &Client{Out: make(chan Point, buf), Closed: make(chan struct{})}
	h.Add(c)
	return c
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("consumers_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("consumers_last_disconnected")
	}
}

// Broadcast delivers a point to all clients honoring the backpressure
// policy.
func (h *Hub) Broadcast(p Point) {
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- p:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // signal the consumer to exit; it removes itself
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
