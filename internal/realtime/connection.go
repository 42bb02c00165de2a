package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Principal identifies the authenticated owner of a connection.
type Principal struct {
	UserID  string
	TokenID string
	Roles   []string
	Scopes  []string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Connection is one authenticated WebSocket session. Its subscription state
// is owned exclusively by the ConnectionManager of this process; outbound
// frames go through a bounded queue drained by the transport's write loop.
type Connection struct {
	ID     string
	UserID string

	send chan []byte
	done chan struct{}

	mu       sync.RWMutex
	channels map[string]struct{}

	closed       atomic.Bool
	lastActivity atomic.Int64
	dropped      atomic.Int64
}

func newConnection(userID string, queueSize int) *Connection {
	c := &Connection{
		ID:       uuid.New().String(),
		UserID:   userID,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	c.Touch()
	return c
}

// Outbound is the frame stream the transport write loop drains.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed when the connection is disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Channels returns a copy of the connection's current subscriptions.
func (c *Connection) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Connection) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *Connection) addChannel(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeChannel(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// LastActivity is the time of the last inbound frame or ping.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Touch records inbound activity, pushing back the idle timeout.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Dropped counts frames discarded because the send queue was full.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// Closed reports whether the connection has been disconnected.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}
