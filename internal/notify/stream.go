package notify

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

// State is the lifecycle state of a StreamConnection. Every state other
// than StateActive is terminal: once left, StateActive is never re-entered.
type State int32

const (
	StateActive State = iota
	StateCompleted
	StateTimedOut
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

func (s State) Terminal() bool { return s != StateActive }

// Transport is the long-lived outbound channel behind a StreamConnection.
// Send must be safe for concurrent callers and must return an error once
// the peer is gone. Close ends the channel; it is called at most once.
type Transport interface {
	Send(event string, data []byte) error
	Close() error
}

var errNotActive = errors.New("stream connection is not active")

// DeliveryError reports a failed Send. The caller owns the consequences:
// Send never tears the connection down on its own.
type DeliveryError struct {
	UserID string
	State  State
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %q failed (state=%s): %v", e.UserID, e.State, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StreamConnection is one addressable delivery target. Its only shared
// mutable state is the lifecycle word, advanced by a single CAS in
// transition, so concurrent close/timeout/error triggers collapse to
// exactly one terminal effect.
type StreamConnection struct {
	userID      string
	transport   Transport
	createdAt   time.Time
	idleTimeout time.Duration
	log         *logger.Logger

	state      atomic.Int32
	done       chan struct{}
	onTerminal func(c *StreamConnection, s State)

	timerMu sync.Mutex
	timer   *time.Timer
}

func newStreamConnection(userID string, t Transport, idleTimeout time.Duration, log *logger.Logger, onTerminal func(*StreamConnection, State)) *StreamConnection {
	c := &StreamConnection{
		userID:      userID,
		transport:   t,
		createdAt:   time.Now(),
		idleTimeout: idleTimeout,
		log:         log,
		done:        make(chan struct{}),
		onTerminal:  onTerminal,
	}
	c.timer = time.AfterFunc(idleTimeout, c.expire)
	return c
}

func (c *StreamConnection) UserID() string       { return c.userID }
func (c *StreamConnection) CreatedAt() time.Time { return c.createdAt }
func (c *StreamConnection) State() State         { return State(c.state.Load()) }

// Done is closed when the connection reaches a terminal state.
func (c *StreamConnection) Done() <-chan struct{} { return c.done }

// Send writes one named frame to the transport. A successful send resets
// the idle timer. On failure the connection is left as-is; the caller must
// transition it and remove it from the registry.
func (c *StreamConnection) Send(event string, data []byte) error {
	if s := c.State(); s != StateActive {
		return &DeliveryError{UserID: c.userID, State: s, Err: errNotActive}
	}
	if err := c.transport.Send(event, data); err != nil {
		return &DeliveryError{UserID: c.userID, State: c.State(), Err: err}
	}
	c.timerMu.Lock()
	if c.State() == StateActive {
		c.timer.Reset(c.idleTimeout)
	}
	c.timerMu.Unlock()
	return nil
}

// Close completes the connection normally. No-op if already terminal.
func (c *StreamConnection) Close() {
	c.transition(StateCompleted, nil)
}

// CloseWithError marks the connection errored. No-op if already terminal.
func (c *StreamConnection) CloseWithError(err error) {
	c.transition(StateErrored, err)
}

func (c *StreamConnection) expire() {
	if c.transition(StateTimedOut, nil) {
		c.log.Warn("stream connection timed out", "user_id", c.userID, "age", time.Since(c.createdAt).String())
	}
}

// transition is the single gate out of StateActive. Exactly one caller
// wins the CAS; that caller stops the idle timer, deregisters, closes the
// transport and releases anyone parked on Done.
func (c *StreamConnection) transition(to State, cause error) bool {
	if !c.state.CompareAndSwap(int32(StateActive), int32(to)) {
		return false
	}
	c.timerMu.Lock()
	c.timer.Stop()
	c.timerMu.Unlock()

	if c.onTerminal != nil {
		c.onTerminal(c, to)
	}
	if err := c.transport.Close(); err != nil {
		c.log.Debug("transport close failed", "user_id", c.userID, "error", err)
	}
	close(c.done)

	if cause != nil {
		c.log.Debug("stream connection closed", "user_id", c.userID, "state", to.String(), "cause", cause.Error())
	} else {
		c.log.Debug("stream connection closed", "user_id", c.userID, "state", to.String())
	}
	return true
}
