package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AutoEver-4Ever/ever-gateway/internal/clients/alarm"
	"github.com/AutoEver-4Ever/ever-gateway/internal/notify"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
	"github.com/AutoEver-4Ever/ever-gateway/internal/requestdata"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func authedContext(t *testing.T, w *httptest.ResponseRecorder, method, target string, userID string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		req = req.WithContext(requestdata.WithRequestData(req.Context(), &requestdata.RequestData{UserID: userID}))
	}
	c.Request = req
	return c
}

func newAlarmBackend(t *testing.T, handler http.HandlerFunc) *alarm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := alarm.NewClient(testLogger(), srv.URL)
	if err != nil {
		t.Fatalf("alarm client: %v", err)
	}
	return client
}

func TestList_ProxiesToAlarmServer(t *testing.T) {
	var gotPath string
	client := newAlarmBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"items":[{"id":"n1"}]}`))
	})
	h := NewAlarmHandler(testLogger(), notify.NewConnectionRegistry(testLogger(), time.Hour), client)

	w := httptest.NewRecorder()
	c := authedContext(t, w, http.MethodGet, "/api/alarm/notifications/list?order=asc&source=pp&page=1&size=10", "user-1")
	h.List(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if gotPath != "/notifications/list/user-1" {
		t.Fatalf("unexpected downstream path %q", gotPath)
	}
	if got := w.Body.String(); got != `{"items":[{"id":"n1"}]}` {
		t.Fatalf("body must pass through verbatim, got %q", got)
	}
}

func TestList_ValidatesQuery(t *testing.T) {
	backendHit := false
	client := newAlarmBackend(t, func(w http.ResponseWriter, r *http.Request) {
		backendHit = true
		w.Write([]byte(`{}`))
	})
	h := NewAlarmHandler(testLogger(), notify.NewConnectionRegistry(testLogger(), time.Hour), client)

	cases := []struct {
		name  string
		query string
	}{
		{"bad sort", "sortBy=updatedAt"},
		{"bad order", "order=sideways"},
		{"bad source", "source=XX"},
		{"negative page", "page=-1"},
		{"zero size", "size=0"},
		{"oversized page", "size=101"},
		{"non-numeric page", "page=abc"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c := authedContext(t, w, http.MethodGet, "/api/alarm/notifications/list?"+tc.query, "user-1")
		h.List(c)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
	if backendHit {
		t.Fatalf("invalid queries must not reach the alarm server")
	}
}

func TestList_RequiresPrincipal(t *testing.T) {
	h := NewAlarmHandler(testLogger(), notify.NewConnectionRegistry(testLogger(), time.Hour), nil)
	w := httptest.NewRecorder()
	c := authedContext(t, w, http.MethodGet, "/api/alarm/notifications/list", "")
	h.List(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCount_ValidatesStatus(t *testing.T) {
	client := newAlarmBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":3}`))
	})
	h := NewAlarmHandler(testLogger(), notify.NewConnectionRegistry(testLogger(), time.Hour), client)

	w := httptest.NewRecorder()
	c := authedContext(t, w, http.MethodGet, "/api/alarm/notifications/count?status=PENDING", "user-1")
	h.Count(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	c = authedContext(t, w, http.MethodGet, "/api/alarm/notifications/count?status=unread", "user-1")
	h.Count(c)
	if w.Code != http.StatusOK {
		t.Fatalf("lowercase status must normalize, got %d", w.Code)
	}
}

func TestCount_ForwardsDownstreamStatus(t *testing.T) {
	client := newAlarmBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := NewAlarmHandler(testLogger(), notify.NewConnectionRegistry(testLogger(), time.Hour), client)

	w := httptest.NewRecorder()
	c := authedContext(t, w, http.MethodGet, "/api/alarm/notifications/count", "user-1")
	h.Count(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("downstream status must be forwarded, got %d", w.Code)
	}
}

func TestSubscribe_StreamsUntilClientDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := notify.NewConnectionRegistry(testLogger(), time.Hour)
	h := NewAlarmHandler(testLogger(), registry, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/alarm/notifications/subscribe", nil)
	req = req.WithContext(requestdata.WithRequestData(ctx, &requestdata.RequestData{UserID: "user-1"}))
	c.Request = req

	handlerDone := make(chan struct{})
	go func() {
		h.Subscribe(c)
		close(handlerDone)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	conn, ok := registry.Lookup("user-1")
	if !ok {
		t.Fatalf("expected registered connection for user-1")
	}

	cancel()
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not return after client disconnect")
	}

	if got := conn.State(); got != notify.StateCompleted {
		t.Fatalf("client disconnect should complete the connection, got %s", got)
	}
	if registry.Len() != 0 {
		t.Fatalf("connection must be deregistered after disconnect")
	}

	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: keepalive") || !strings.Contains(body, `"status":"connected"`) {
		t.Fatalf("missing initial keepalive frame in body: %q", body)
	}
}

func TestSubscribe_RejectsAnonymous(t *testing.T) {
	h := NewAlarmHandler(testLogger(), notify.NewConnectionRegistry(testLogger(), time.Hour), nil)
	w := httptest.NewRecorder()
	c := authedContext(t, w, http.MethodGet, "/api/alarm/notifications/subscribe", "")
	h.Subscribe(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
