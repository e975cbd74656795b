// Package trigger adapts out-of-process wake signals into "attempt
// sync now" callbacks. The host platform grants background sync
// opportunities over a local websocket channel; where no channel is
// configured the capability is simply absent and the orchestrator's
// polling fallback carries the load.
package trigger

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
	"github.com/opsquill/fieldops/backend/internal/logging"
)

// Listener is the capability interface the orchestrator consumes. The
// environment may or may not provide a concrete wake channel; callers
// must check Supported and never rely on wake-ups arriving.
type Listener interface {
	// Supported reports whether the platform provides a wake channel.
	Supported() bool
	// Start begins forwarding wake signals to the callback until the
	// context is cancelled or Stop is called. No-op when unsupported.
	Start(ctx context.Context, wake func()) error
	// Stop tears down the channel connection.
	Stop()
}

// wakeEnvelope mirrors the host channel's message framing.
type wakeEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// wakeMessageType is the only message type acted upon; everything else
// on the channel is ignored.
const wakeMessageType = "sync.wake"

// redialInterval is how long to wait before re-dialing a dropped
// channel connection.
const redialInterval = 30 * time.Second

// WakeListener receives background wake signals over a websocket
// channel managed by the host platform.
type WakeListener struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewWakeListener creates a listener for the given channel URL. An
// empty URL means the platform offers no background-wake facility.
func NewWakeListener(url string) *WakeListener {
	return &WakeListener{
		url:    url,
		dialer: websocket.DefaultDialer,
		stopCh: make(chan struct{}),
	}
}

// Supported implements Listener.
func (l *WakeListener) Supported() bool {
	return l.url != ""
}

// Start implements Listener. The read loop runs on its own goroutine
// and re-dials dropped connections; registration is best-effort, so a
// channel that never comes up only costs periodic dial attempts.
func (l *WakeListener) Start(ctx context.Context, wake func()) error {
	if !l.Supported() {
		return nil
	}

	// A bad URL would otherwise fail silently on every redial; reject
	// the misconfiguration up front.
	u, err := url.Parse(l.url)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return apperrors.New(apperrors.ErrWakeChannel,
			"invalid wake channel url: "+l.url)
	}

	l.wg.Add(1)
	go l.run(ctx, wake)
	return nil
}

// Stop implements Listener.
func (l *WakeListener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	close(l.stopCh)
	if l.conn != nil {
		// Unblocks a pending ReadMessage.
		l.conn.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *WakeListener) run(ctx context.Context, wake func()) {
	defer l.wg.Done()

	for {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			logging.Debug("Wake channel dial failed",
				map[string]interface{}{"url": l.url, "error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-time.After(redialInterval):
				continue
			}
		}

		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conn = conn
		l.mu.Unlock()

		logging.Info("Wake channel connected", map[string]interface{}{"url": l.url})
		l.readLoop(conn, wake)

		l.mu.Lock()
		l.conn = nil
		stopped := l.stopped
		l.mu.Unlock()

		if stopped || ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(redialInterval):
		}
	}
}

func (l *WakeListener) readLoop(conn *websocket.Conn, wake func()) {
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env wakeEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logging.Warn("Malformed wake channel message",
				map[string]interface{}{"error": err.Error()})
			continue
		}

		if env.Type == wakeMessageType {
			wake()
		}
	}
}
