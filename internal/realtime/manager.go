package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	// ErrChannelForbidden is returned when the permission collaborator denies
	// a subscription. The connection stays open.
	ErrChannelForbidden = errors.New("realtime: channel forbidden")
	// ErrInvalidChannel is returned for malformed or unknown channel names.
	ErrInvalidChannel = errors.New("realtime: invalid channel")
	// ErrConnectionClosed is returned when operating on a disconnected
	// connection.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// Authorizer decides whether a principal may subscribe to a channel. It is an
// external collaborator; the manager only consumes the contract.
type Authorizer interface {
	CanSubscribe(ctx context.Context, principal Principal, channel string) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, principal Principal, channel string) bool

func (f AuthorizerFunc) CanSubscribe(ctx context.Context, principal Principal, channel string) bool {
	return f(ctx, principal, channel)
}

// ManagerMetrics tracks connection manager statistics.
type ManagerMetrics struct {
	Connections    int64
	Disconnects    int64
	Subscriptions  int64
	FramesSent     int64
	FramesDropped  int64
	DeniedChannels int64
}

// ConnectionManager tracks the WebSocket connections of this process, their
// channel subscriptions, and per-user fan-out. No other process reads or
// mutates this state; cross-instance delivery goes through the broadcaster.
type ConnectionManager struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	byUser    map[string]map[*Connection]struct{}
	byChannel map[string]map[*Connection]struct{}

	authz     Authorizer
	queueSize int
	logger    *logrus.Logger
	metrics   ManagerMetrics
}

func NewConnectionManager(authz Authorizer, queueSize int, logger *logrus.Logger) *ConnectionManager {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &ConnectionManager{
		conns:     make(map[string]*Connection),
		byUser:    make(map[string]map[*Connection]struct{}),
		byChannel: make(map[string]map[*Connection]struct{}),
		authz:     authz,
		queueSize: queueSize,
		logger:    logger,
	}
}

// Register creates a Connection for an authenticated principal. A user may
// hold many simultaneous connections.
func (m *ConnectionManager) Register(principal Principal) *Connection {
	conn := newConnection(principal.UserID, m.queueSize)

	m.mu.Lock()
	m.conns[conn.ID] = conn
	if m.byUser[conn.UserID] == nil {
		m.byUser[conn.UserID] = make(map[*Connection]struct{})
	}
	m.byUser[conn.UserID][conn] = struct{}{}
	m.mu.Unlock()

	atomic.AddInt64(&m.metrics.Connections, 1)
	m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
	}).Debug("Connection registered")
	return conn
}

// Subscribe adds the connection to a channel after the permission check. A
// denial refuses only this subscription; the connection stays open.
func (m *ConnectionManager) Subscribe(ctx context.Context, conn *Connection, principal Principal, channel string) error {
	if conn.Closed() {
		return ErrConnectionClosed
	}
	if !ValidChannel(channel) {
		return ErrInvalidChannel
	}
	if m.authz != nil && !m.authz.CanSubscribe(ctx, principal, channel) {
		atomic.AddInt64(&m.metrics.DeniedChannels, 1)
		return ErrChannelForbidden
	}

	m.mu.Lock()
	if m.byChannel[channel] == nil {
		m.byChannel[channel] = make(map[*Connection]struct{})
	}
	m.byChannel[channel][conn] = struct{}{}
	m.mu.Unlock()
	conn.addChannel(channel)

	atomic.AddInt64(&m.metrics.Subscriptions, 1)
	return nil
}

// Unsubscribe removes the connection from a channel.
func (m *ConnectionManager) Unsubscribe(conn *Connection, channel string) {
	conn.removeChannel(channel)

	m.mu.Lock()
	if set, ok := m.byChannel[channel]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(m.byChannel, channel)
		}
	}
	m.mu.Unlock()
}

// Send queues a frame for one connection, fire and forget: a closed
// connection is a no-op, a full queue drops the frame and counts it rather
// than blocking the caller.
func (m *ConnectionManager) Send(conn *Connection, frame []byte) {
	if conn.Closed() {
		return
	}
	select {
	case conn.send <- frame:
		atomic.AddInt64(&m.metrics.FramesSent, 1)
	default:
		conn.dropped.Add(1)
		atomic.AddInt64(&m.metrics.FramesDropped, 1)
		m.logger.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"user_id":       conn.UserID,
		}).Warn("Send queue full, dropping frame")
	}
}

// Broadcast delivers a frame to every local connection subscribed to the
// channel and returns how many were targeted.
func (m *ConnectionManager) Broadcast(channel string, frame []byte) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byChannel[channel]))
	for conn := range m.byChannel[channel] {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		m.Send(conn, frame)
	}
	return len(targets)
}

// SendToUser delivers a frame to every connection of one user.
func (m *ConnectionManager) SendToUser(userID string, frame []byte) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byUser[userID]))
	for conn := range m.byUser[userID] {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		m.Send(conn, frame)
	}
	return len(targets)
}

// Disconnect releases every subscription and removes the connection from the
// indexes. Idempotent: the second call is a no-op.
func (m *ConnectionManager) Disconnect(conn *Connection) {
	if !conn.closed.CompareAndSwap(false, true) {
		return
	}
	close(conn.done)

	m.mu.Lock()
	delete(m.conns, conn.ID)
	if set, ok := m.byUser[conn.UserID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(m.byUser, conn.UserID)
		}
	}
	for _, channel := range conn.Channels() {
		if set, ok := m.byChannel[channel]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(m.byChannel, channel)
			}
		}
	}
	m.mu.Unlock()

	atomic.AddInt64(&m.metrics.Disconnects, 1)
	m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
	}).Debug("Connection closed")
}

// DisconnectUser forcibly closes every connection of a user, used for
// administrative session revocation.
func (m *ConnectionManager) DisconnectUser(userID string) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byUser[userID]))
	for conn := range m.byUser[userID] {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		m.Disconnect(conn)
	}
	return len(targets)
}

// ConnectionCount returns the number of live connections.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ChannelSubscribers returns the number of local connections on a channel.
func (m *ConnectionManager) ChannelSubscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byChannel[channel])
}

// UserConnections returns the number of live connections for a user.
func (m *ConnectionManager) UserConnections(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

// Metrics returns a snapshot of the manager counters.
func (m *ConnectionManager) Metrics() ManagerMetrics {
	return ManagerMetrics{
		Connections:    atomic.LoadInt64(&m.metrics.Connections),
		Disconnects:    atomic.LoadInt64(&m.metrics.Disconnects),
		Subscriptions:  atomic.LoadInt64(&m.metrics.Subscriptions),
		FramesSent:     atomic.LoadInt64(&m.metrics.FramesSent),
		FramesDropped:  atomic.LoadInt64(&m.metrics.FramesDropped),
		DeniedChannels: atomic.LoadInt64(&m.metrics.DeniedChannels),
	}
}

// CloseAll disconnects every connection, used during graceful shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		m.Disconnect(conn)
	}
}
