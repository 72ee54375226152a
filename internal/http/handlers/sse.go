package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

var errTransportClosed = errors.New("sse transport closed")

// sseTransport writes named server-sent-event frames to one HTTP response.
// Writes from dispatch goroutines and the owning handler are serialized by
// the transport's own mutex; nothing above it holds a lock across a write,
// so one slow client cannot stall deliveries to others.
type sseTransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSSETransport(w http.ResponseWriter) (*sseTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	return &sseTransport{w: w, flusher: flusher}, nil
}

// writeSSEHeaders sets the event-stream response headers before the first
// frame. X-Accel-Buffering disables proxy buffering in front of the
// gateway.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func (t *sseTransport) Send(event string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close marks the transport dead. The response itself ends when the
// subscribe handler returns.
func (t *sseTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
