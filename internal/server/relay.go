package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/bridge"
	"github.com/Tyrowin/gorelay/internal/config"
)

// Relay owns the connection registry and drives every session. It is
// created once per process and handed to the HTTP layer explicitly.
type Relay struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *Registry
	bridge   bridge.Bridge
	origins  *originPolicy
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRegistry makes the relay use an existing registry.
func WithRegistry(registry *Registry) Option {
	return func(r *Relay) {
		r.registry = registry
	}
}

// WithBridge enables cross-instance fan-out through b.
func WithBridge(b bridge.Bridge) Option {
	return func(r *Relay) {
		r.bridge = b
	}
}

// NewRelay creates a relay for cfg. A nil cfg means config.Default().
func NewRelay(cfg *config.Config, opts ...Option) *Relay {
	if cfg == nil {
		cfg = config.Default()
	}

	r := &Relay{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}

	r.origins = newOriginPolicy(cfg.AllowedOrigins, r.logger)
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.origins.checkOrigin,
	}
	return r
}

// Registry returns the relay's connection registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Count returns the number of registered connections.
func (r *Relay) Count() int {
	return r.registry.Len()
}

// Broadcast delivers payload to every registered connection, the sender
// included, and publishes it to the bridge when one is configured.
func (r *Relay) Broadcast(payload string) BroadcastResult {
	result := r.deliver(payload)

	if r.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteWait)
		defer cancel()
		if err := r.bridge.Publish(ctx, payload); err != nil {
			r.logger.Warn("failed to publish to bridge", "error", err)
		}
	}
	return result
}

// deliver sends payload to the current registry snapshot. Each recipient is
// independent: a failure is counted and logged and the loop moves on.
func (r *Relay) deliver(payload string) BroadcastResult {
	data := []byte(payload)
	peers := r.registry.Snapshot()
	result := BroadcastResult{Attempted: len(peers)}

	for _, peer := range peers {
		if err := safeSend(peer, data); err != nil {
			result.Failed++
			r.logger.Warn("dropping message for recipient", "recipient", describePeer(peer), "error", err)
			continue
		}
		result.Delivered++
	}

	r.logger.Debug("broadcast", "bytes", len(data), "recipients", result.Attempted, "failed", result.Failed)
	return result
}

// safeSend shields the broadcasting session from a recipient that panics.
func safeSend(peer Peer, data []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("send panicked: %v", rec)
		}
	}()
	return peer.Send(data)
}

func describePeer(peer Peer) string {
	if c, ok := peer.(*Conn); ok {
		return c.addr + " " + c.id.String()
	}
	return fmt.Sprintf("%T", peer)
}

// RunBridge delivers messages from other instances to local connections
// until ctx is done. It returns immediately when no bridge is configured.
func (r *Relay) RunBridge(ctx context.Context) error {
	if r.bridge == nil {
		return nil
	}
	return r.bridge.Run(ctx, func(payload string) {
		r.deliver(payload)
	})
}

// beginSession reserves a slot for a new session, or reports false once
// shutdown has started.
func (r *Relay) beginSession() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return false
	}
	r.sessions.Add(1)
	return true
}

func (r *Relay) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// Shutdown sends a going-away close frame to every connection and waits for
// all sessions to finish or for timeout to pass. New upgrades are refused
// from the moment it is called.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.logger.Info("initiating relay shutdown")

	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	peers := r.registry.Snapshot()
	for _, peer := range peers {
		if c, ok := peer.(*Conn); ok {
			c.goAway()
		}
	}
	r.logger.Info("closed client connections", "count", len(peers))

	done := make(chan struct{})
	go func() {
		r.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		r.logger.Warn("relay shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

// Middleware hands WebSocket upgrade requests to the relay and passes every
// other request to next untouched.
func (r *Relay) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !websocket.IsWebSocketUpgrade(req) {
			next.ServeHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	})
}
