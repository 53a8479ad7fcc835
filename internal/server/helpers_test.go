package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/bridge"
	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/server"
)

const readTimeout = 2 * time.Second

type testRelay struct {
	relay   *server.Relay
	httpURL string
	wsURL   string
}

// startRelay serves a fresh relay on an httptest server. configure may
// adjust the default config before the relay is built.
func startRelay(t *testing.T, configure func(cfg *config.Config), opts ...server.Option) *testRelay {
	t.Helper()

	cfg := config.Default()
	if configure != nil {
		configure(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}

	opts = append([]server.Option{server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	relay := server.NewRelay(cfg, opts...)
	ts := httptest.NewServer(relay.Routes())

	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = relay.Shutdown(time.Second) })

	return &testRelay{
		relay:   relay,
		httpURL: ts.URL,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// connect dials the relay and waits until the session is registered.
func (tr *testRelay) connect(t *testing.T) *websocket.Conn {
	t.Helper()

	want := tr.relay.Count() + 1
	conn, err := dial(tr.wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitForCount(t, tr.relay, want)
	return conn
}

func dial(url string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// dialStatus returns the HTTP status of a failed handshake.
func dialStatus(url string, header http.Header) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if conn != nil {
		_ = conn.Close()
	}
	if resp == nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, err
}

func waitForCount(t *testing.T, relay *server.Relay, want int) {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if relay.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d registered connections, got %d", want, relay.Count())
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("Failed to send %q: %v", text, err)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("Expected a text message, got type %d", msgType)
	}
	return string(data)
}

func expectText(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	if got := readText(t, conn); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// expectNoMessage fails if conn receives a data message within timeout.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Errorf("Expected no message, got %q", data)
		return
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Expected a read timeout, got %v", err)
	}
}

// expectClose reads until the connection reports a close frame.
func expectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("Expected a close frame, got %v", err)
		}
		return closeErr
	}
}

// memBus is an in-process stand-in for Redis or NATS.
type memBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (b *memBus) bridge() *memBridge {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return &memBridge{bus: b, origin: uuid.New(), inbox: ch}
}

type memBridge struct {
	bus    *memBus
	origin uuid.UUID
	inbox  chan []byte
}

func (m *memBridge) Publish(_ context.Context, payload string) error {
	data, err := bridge.Encode(m.origin, payload)
	if err != nil {
		return err
	}
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	for _, sub := range m.bus.subs {
		sub <- data
	}
	return nil
}

func (m *memBridge) Run(ctx context.Context, handler bridge.Handler) error {
	for {
		select {
		case data := <-m.inbox:
			env, err := bridge.Decode(data)
			if err != nil {
				return err
			}
			if env.Origin != m.origin {
				handler(env.Payload)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *memBridge) Close() error { return nil }
