package trigger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
)

// wakeServer is a minimal stand-in for the host platform's wake channel.
func wakeServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestSupported verifies the capability query.
func TestSupported(t *testing.T) {
	if NewWakeListener("").Supported() {
		t.Error("empty URL should be unsupported")
	}
	if !NewWakeListener("ws://localhost:9700/wake").Supported() {
		t.Error("configured URL should be supported")
	}
}

// TestStart_unsupportedIsNoop verifies absence of the facility is fine.
func TestStart_unsupportedIsNoop(t *testing.T) {
	l := NewWakeListener("")
	if err := l.Start(context.Background(), func() {
		t.Error("wake must never fire without a channel")
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	l.Stop()
}

// TestWakeForwarding verifies wake messages reach the callback and
// other message types are ignored.
func TestWakeForwarding(t *testing.T) {
	srv := wakeServer(t, []string{
		`{"type":"sync.wake","timestamp":1}`,
		`{"type":"battery.low","timestamp":2}`,
		`not even json`,
		`{"type":"sync.wake","timestamp":3}`,
	})
	defer srv.Close()

	wakes := make(chan struct{}, 8)
	l := NewWakeListener(wsURL(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx, func() { wakes <- struct{}{} }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-wakes:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for wake %d", i+1)
		}
	}

	// The ignored messages must not produce extra wakes.
	select {
	case <-wakes:
		t.Error("unexpected extra wake")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestStop_unblocksRead verifies Stop returns promptly with an open
// connection.
func TestStop_unblocksRead(t *testing.T) {
	srv := wakeServer(t, nil)
	defer srv.Close()

	l := NewWakeListener(wsURL(srv))
	if err := l.Start(context.Background(), func() {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the dial a moment to land before stopping.
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStart_rejectsMalformedURL(t *testing.T) {
	l := NewWakeListener("http://localhost:9999/wake")

	err := l.Start(context.Background(), func() {})
	if !apperrors.Is(err, apperrors.ErrWakeChannel) {
		t.Errorf("Expected wake channel error for non-websocket url, got %v", err)
	}
}
