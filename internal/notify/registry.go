package notify

import (
	"sync"
	"time"

	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

// DefaultIdleTimeout matches the emitter lifetime used by the alarm
// subscription endpoint.
const DefaultIdleTimeout = time.Hour

// ConnectionRegistry is the single source of truth for which users are
// currently reachable. It holds at most one StreamConnection per user;
// registering over an existing entry atomically replaces it and completes
// the old connection. The map is the only shared mutable state in the
// delivery core and every critical section is a few map operations —
// no transport I/O happens under the lock.
type ConnectionRegistry struct {
	log         *logger.Logger
	idleTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*StreamConnection
}

func NewConnectionRegistry(log *logger.Logger, idleTimeout time.Duration) *ConnectionRegistry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &ConnectionRegistry{
		log:         log.With("component", "ConnectionRegistry"),
		idleTimeout: idleTimeout,
		conns:       make(map[string]*StreamConnection),
	}
}

// Register installs a new ACTIVE connection for userID over the given
// transport and returns it. Any previously installed connection is closed
// as COMPLETED after the new one is visible; its terminal callback cannot
// evict the replacement because removal compares instances.
func (r *ConnectionRegistry) Register(userID string, t Transport) *StreamConnection {
	conn := newStreamConnection(userID, t, r.idleTimeout, r.log, r.onTerminal)

	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = conn
	size := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		r.log.Info("replacing existing stream connection", "user_id", userID)
		old.Close()
	}
	r.log.Info("stream connection registered", "user_id", userID, "connections", size)
	return conn
}

// Lookup returns the current connection for userID, if any.
func (r *ConnectionRegistry) Lookup(userID string) (*StreamConnection, bool) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	return conn, ok
}

// Remove deletes the entry for userID only if it still holds conn
// (compare-and-remove). Stale callbacks from a replaced connection are
// silently ignored; removing an absent key is a no-op.
func (r *ConnectionRegistry) Remove(userID string, conn *StreamConnection) {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if ok && cur == conn {
		delete(r.conns, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.log.Debug("stream connection removed", "user_id", userID, "state", conn.State().String())
	}
}

// Len reports the number of live entries.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}

// CloseAll completes every registered connection. Called on shutdown so
// clients see a clean stream termination instead of a silent drop.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.RLock()
	conns := make([]*StreamConnection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	if len(conns) > 0 {
		r.log.Info("closed all stream connections", "count", len(conns))
	}
}

func (r *ConnectionRegistry) onTerminal(c *StreamConnection, s State) {
	r.Remove(c.UserID(), c)
}
