// Package registry implements the process-wide agent registry (§4.C): a
// concurrency-safe map from subscriber identity to a live outbound channel.
// It is intentionally wire-format agnostic — it moves pre-encoded JSON
// bytes, not a parsed message type — so both internal/tunnel (producer,
// registers/unregisters connections) and internal/delivery (consumer, looks
// connections up to push signals) can depend on it without depending on
// each other.
package registry

import (
	"sync"
	"time"
)

// outboundCapacity is the bounded size of a connection's outbound channel.
// A full channel means the agent is unhealthy; callers MUST use TrySend,
// never a blocking send, or a slow agent would stall every delivery worker
// sharing the registry.
const outboundCapacity = 64

// Connection is a live tunnel session registered against a subscriber.
type Connection struct {
	ConnectionID string
	SubscriberID string
	ConnectedAt  time.Time

	outbound chan []byte
}

// NewConnection allocates a Connection with its bounded outbound channel.
// The caller (internal/tunnel) owns draining Outbound() in its writer loop.
func NewConnection(connectionID, subscriberID string) *Connection {
	return &Connection{
		ConnectionID: connectionID,
		SubscriberID: subscriberID,
		ConnectedAt:  time.Now(),
		outbound:     make(chan []byte, outboundCapacity),
	}
}

// Outbound returns the channel the owning tunnel session drains to deliver
// frames to the client.
func (c *Connection) Outbound() <-chan []byte {
	return c.outbound
}

// Close releases the outbound channel, signalling the writer loop draining
// it to terminate.
func (c *Connection) Close() {
	close(c.outbound)
}

// TrySend attempts a non-blocking push of payload onto the connection's
// outbound channel. It reports false if the channel is full or closed,
// which callers must treat as a delivery failure — never block.
func TrySend(c *Connection, payload []byte) (ok bool) {
	defer func() {
		// sending on a closed channel panics; a connection that is
		// mid-teardown is indistinguishable from a full one to the caller.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.outbound <- payload:
		return true
	default:
		return false
	}
}

// Registry is the process-wide subscriber_id -> Connection map.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Connection
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*Connection)}
}

// Register inserts conn, replacing any prior connection registered for the
// same subscriber (last-writer-wins). The displaced connection is not
// proactively closed here; it discovers the replacement the next time its
// own outbound send fails or its own I/O loop errors, matching the tunnel's
// reconnect semantics (§5).
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[conn.SubscriberID] = conn
}

// Unregister removes the connection registered for subscriberID, if any.
// Removing an unknown or already-removed id is a no-op, never an error.
func (r *Registry) Unregister(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, subscriberID)
}

// Get returns the live connection for subscriberID, if one is registered.
func (r *Registry) Get(subscriberID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[subscriberID]
	return c, ok
}

// UnregisterConn removes conn only if it is still the currently registered
// connection for its subscriber. A tunnel session's teardown path should
// prefer this over Unregister, so a stale session's cleanup can never evict
// a newer connection that has since displaced it.
func (r *Registry) UnregisterConn(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.agents[conn.SubscriberID]; ok && current == conn {
		delete(r.agents, conn.SubscriberID)
	}
}
