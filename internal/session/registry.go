// internal/session/registry.go
package session

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Conn is a single user's live push channel. Messages are queued on OutChan
// and drained by the WS write pump; Cancel kills the connection's read loop.
type Conn struct {
	ID      uuid.UUID
	UserID  int64
	Cancel  context.CancelFunc
	OutChan chan map[string]interface{}
}

// Write pushes a message onto the connection's OutChan non-blockingly.
// Delivery is best-effort: if the channel is full or closed the message is
// dropped and logged.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("session: OutChan for user %d full or closed, dropped message type '%s'", c.UserID, msgType)
	}
}

// WriteError is a convenience to send a typed error event.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// DisconnectFunc is invoked after a user's last connection is unregistered.
type DisconnectFunc func(userID int64)

// Registry maps a user id to its currently-connected push channel. It holds
// no business logic; every other component pushes through it.
type Registry struct {
	mu    sync.Mutex
	conns map[int64]*Conn

	// OnDisconnect, if set, is called (in its own goroutine) when a user's
	// live connection goes away without being replaced.
	OnDisconnect DisconnectFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[int64]*Conn),
	}
}

// Register installs conn as the user's live channel. A newer connection for
// the same user supersedes the older one: the old OutChan is closed and its
// read loop cancelled.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	old, hadOld := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	r.mu.Unlock()

	if hadOld && old.ID != conn.ID {
		log.Printf("session: user %d reconnected, superseding connection %s", conn.UserID, old.ID)
		go func(c *Conn) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("session: recovered closing superseded conn for user %d: %v", c.UserID, rec)
				}
			}()
			close(c.OutChan)
			if c.Cancel != nil {
				c.Cancel()
			}
		}(old)
	}
}

// Unregister removes the user's connection if it is still the one identified
// by connID. A stale unregister (the user already reconnected) is a no-op.
// Returns true if the user is now fully disconnected.
func (r *Registry) Unregister(userID int64, connID uuid.UUID) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur.ID != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	onDisc := r.OnDisconnect
	r.mu.Unlock()

	if onDisc != nil {
		go onDisc(userID)
	}
	return true
}

// IsConnected reports whether the user currently has a live channel.
func (r *Registry) IsConnected(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// SendToUser delivers msg to the user's live channel, if any. A missing
// target is silently dropped (at-most-once, never retried).
func (r *Registry) SendToUser(userID int64, msg map[string]interface{}) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	conn.Write(msg)
}

// SendError delivers a typed error event to a single user.
func (r *Registry) SendError(userID int64, message string) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	conn.WriteError(message)
}

// BroadcastToAll delivers msg to every connected user.
func (r *Registry) BroadcastToAll(msg map[string]interface{}) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Write(msg)
	}
}
