package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// fakeTransport records frames and can be told to fail sends.
type fakeTransport struct {
	mu      sync.Mutex
	frames  []sentFrame
	sendErr error
	closed  int
}

type sentFrame struct {
	event string
	data  string
}

func (f *fakeTransport) Send(event string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, sentFrame{event: event, data: string(data)})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func waitDone(t *testing.T, c *StreamConnection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection did not reach a terminal state in time")
	}
}

func TestStreamConnection_SendWhileActive(t *testing.T) {
	tr := &fakeTransport{}
	c := newStreamConnection("u1", tr, time.Hour, testLogger(), nil)
	defer c.Close()

	if err := c.Send("alarm", []byte(`{"title":"hi"}`)); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	frames := tr.sent()
	if len(frames) != 1 || frames[0].event != "alarm" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("expected ACTIVE, got %s", got)
	}
}

func TestStreamConnection_CloseIsTerminalAndIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	c := newStreamConnection("u1", tr, time.Hour, testLogger(), nil)

	c.Close()
	c.Close()
	c.CloseWithError(errors.New("late"))
	waitDone(t, c)

	if got := c.State(); got != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if n := tr.closeCount(); n != 1 {
		t.Fatalf("transport closed %d times, want 1", n)
	}
}

func TestStreamConnection_SendAfterTerminalFails(t *testing.T) {
	tr := &fakeTransport{}
	c := newStreamConnection("u1", tr, time.Hour, testLogger(), nil)
	c.Close()
	waitDone(t, c)

	err := c.Send("alarm", []byte(`{}`))
	if err == nil {
		t.Fatalf("expected error on send after close")
	}
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %T", err)
	}
	if de.State != StateCompleted {
		t.Fatalf("expected state COMPLETED in error, got %s", de.State)
	}
	if len(tr.sent()) != 0 {
		t.Fatalf("no frames should reach the transport after close")
	}
}

func TestStreamConnection_SendFailureDoesNotTransition(t *testing.T) {
	tr := &fakeTransport{}
	tr.failWith(errors.New("broken pipe"))
	c := newStreamConnection("u1", tr, time.Hour, testLogger(), nil)
	defer c.Close()

	if err := c.Send("alarm", []byte(`{}`)); err == nil {
		t.Fatalf("expected send error")
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("send failure must not change state, got %s", got)
	}
}

func TestStreamConnection_IdleTimeout(t *testing.T) {
	tr := &fakeTransport{}
	c := newStreamConnection("u1", tr, 30*time.Millisecond, testLogger(), nil)

	waitDone(t, c)
	if got := c.State(); got != StateTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", got)
	}
	if n := tr.closeCount(); n != 1 {
		t.Fatalf("transport closed %d times, want 1", n)
	}
}

func TestStreamConnection_SendResetsIdleTimer(t *testing.T) {
	tr := &fakeTransport{}
	c := newStreamConnection("u1", tr, 120*time.Millisecond, testLogger(), nil)
	defer c.Close()

	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		if err := c.Send("keepalive", []byte(`{}`)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("connection expired despite traffic, state %s", got)
	}
}

func TestStreamConnection_ConcurrentTerminationCollapses(t *testing.T) {
	tr := &fakeTransport{}
	var terminalCalls int32
	var mu sync.Mutex
	c := newStreamConnection("u1", tr, time.Hour, testLogger(), func(_ *StreamConnection, _ State) {
		mu.Lock()
		terminalCalls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.Close()
			} else {
				c.CloseWithError(errors.New("remote hung up"))
			}
		}(i)
	}
	wg.Wait()
	waitDone(t, c)

	mu.Lock()
	calls := terminalCalls
	mu.Unlock()
	if calls != 1 {
		t.Fatalf("terminal callback ran %d times, want 1", calls)
	}
	if n := tr.closeCount(); n != 1 {
		t.Fatalf("transport closed %d times, want 1", n)
	}
	if got := c.State(); got != StateCompleted && got != StateErrored {
		t.Fatalf("unexpected terminal state %s", got)
	}
}
