package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), time.Hour)
	tr := &fakeTransport{}

	conn := r.Register("u1", tr)
	defer conn.Close()

	got, ok := r.Lookup("u1")
	if !ok || got != conn {
		t.Fatalf("lookup returned %v ok=%v, want registered connection", got, ok)
	}
	if _, ok := r.Lookup("u2"); ok {
		t.Fatalf("lookup of unknown user must miss")
	}
	if n := r.Len(); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), time.Hour)

	first := r.Register("u1", &fakeTransport{})
	second := r.Register("u1", &fakeTransport{})
	defer second.Close()

	waitDone(t, first)
	if got := first.State(); got != StateCompleted {
		t.Fatalf("displaced connection should be COMPLETED, got %s", got)
	}

	got, ok := r.Lookup("u1")
	if !ok || got != second {
		t.Fatalf("registry should hold the replacement")
	}
	if n := r.Len(); n != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", n)
	}
}

func TestRegistry_TerminalConnectionDeregistersItself(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), time.Hour)
	conn := r.Register("u1", &fakeTransport{})

	conn.Close()
	waitDone(t, conn)

	if _, ok := r.Lookup("u1"); ok {
		t.Fatalf("closed connection must not remain registered")
	}
	if n := r.Len(); n != 0 {
		t.Fatalf("expected empty registry, got %d", n)
	}
}

func TestRegistry_TimeoutDeregisters(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), 30*time.Millisecond)
	conn := r.Register("u1", &fakeTransport{})

	waitDone(t, conn)
	if got := conn.State(); got != StateTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", got)
	}
	if _, ok := r.Lookup("u1"); ok {
		t.Fatalf("timed-out connection must not remain registered")
	}
}

func TestRegistry_RemoveComparesInstances(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), time.Hour)

	first := r.Register("u1", &fakeTransport{})
	second := r.Register("u1", &fakeTransport{})
	defer second.Close()
	waitDone(t, first)

	// Stale remove for the displaced instance must not evict the new one.
	r.Remove("u1", first)
	if got, ok := r.Lookup("u1"); !ok || got != second {
		t.Fatalf("stale remove evicted the replacement")
	}

	r.Remove("u1", second)
	if _, ok := r.Lookup("u1"); ok {
		t.Fatalf("matching remove should evict")
	}
	// Removing again is a no-op.
	r.Remove("u1", second)
	r.Remove("missing", second)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), time.Hour)
	conns := make([]*StreamConnection, 0, 5)
	for i := 0; i < 5; i++ {
		conns = append(conns, r.Register(fmt.Sprintf("u%d", i), &fakeTransport{}))
	}

	r.CloseAll()
	for _, c := range conns {
		waitDone(t, c)
		if got := c.State(); got != StateCompleted {
			t.Fatalf("expected COMPLETED after CloseAll, got %s", got)
		}
	}
	if n := r.Len(); n != 0 {
		t.Fatalf("expected empty registry after CloseAll, got %d", n)
	}
}

func TestRegistry_ConcurrentRegisterKeepsOneConnection(t *testing.T) {
	r := NewConnectionRegistry(testLogger(), time.Hour)

	const workers = 4
	const perWorker = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	all := make([]*StreamConnection, 0, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c := r.Register("u1", &fakeTransport{})
				mu.Lock()
				all = append(all, c)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if n := r.Len(); n != 1 {
		t.Fatalf("expected exactly one live entry, got %d", n)
	}
	survivor, ok := r.Lookup("u1")
	if !ok {
		t.Fatalf("no surviving connection")
	}

	terminal := 0
	for _, c := range all {
		if c == survivor {
			continue
		}
		waitDone(t, c)
		if c.State().Terminal() {
			terminal++
		}
	}
	if terminal != workers*perWorker-1 {
		t.Fatalf("expected %d terminal connections, got %d", workers*perWorker-1, terminal)
	}
	if got := survivor.State(); got != StateActive {
		t.Fatalf("survivor must stay ACTIVE, got %s", got)
	}
	survivor.Close()
}
