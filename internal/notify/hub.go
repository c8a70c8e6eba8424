// Package notify fans task events out to connected WebSocket subscribers.
package notify

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/auth"
)

// DefaultQueueSize is the outbound buffer of each subscriber.
const DefaultQueueSize = 64

// Message is the frame delivered for every broadcast event.
type Message struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Client is one connected subscriber.
type Client struct {
	ID        string
	Principal *auth.Principal
	send      chan []byte
}

// enqueue queues a frame without blocking and reports whether it fit.
func (c *Client) enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// HubStats contains summary statistics for the hub.
type HubStats struct {
	Clients   int    `json:"clients"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Hub is the set of connected subscribers.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	queueSize int
	now       func() time.Time

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a Hub whose subscribers buffer queueSize frames.
func NewHub(queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		clients:   make(map[string]*Client),
		queueSize: queueSize,
		now:       time.Now,
	}
}

// Register adds a subscriber for p.
func (h *Hub) Register(p *auth.Principal) *Client {
	c := &Client{
		ID:        uuid.NewString(),
		Principal: p,
		send:      make(chan []byte, h.queueSize),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	return c
}

// Unregister removes c and closes its queue. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
}

// Broadcast encodes the event once and queues it for every subscriber. A
// subscriber whose queue is full misses the event.
func (h *Hub) Broadcast(event string, data any) {
	b, err := json.Marshal(Message{Event: event, Timestamp: h.now().UTC(), Data: data})
	if err != nil {
		log.Printf("[ws] encode %s: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.enqueue(b) {
			h.delivered.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
}

// Send queues a frame for a single subscriber. It reports false when the
// queue is full or c is no longer registered.
func (h *Hub) Send(c *Client, b []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	return c.enqueue(b)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// Stats returns summary statistics for the hub.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return HubStats{
		Clients:   n,
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}
