package server

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/config"
)

// Conn is one live WebSocket connection to a client.
//
// Broadcasts from any session only enqueue onto send; the write pump is the
// only goroutine writing data frames, so a slow client stalls nobody but
// itself. Close frames go through WriteControl, which gorilla allows
// concurrently with the pump.
type Conn struct {
	ws        *websocket.Conn
	addr      string
	id        uuid.UUID
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	readBufferSize int
	policy         config.OversizePolicy
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	logger         *slog.Logger
}

func newConn(ws *websocket.Conn, addr string, cfg *config.Config, logger *slog.Logger) *Conn {
	return &Conn{
		ws:             ws,
		addr:           addr,
		send:           make(chan []byte, cfg.SendQueueSize),
		done:           make(chan struct{}),
		readBufferSize: cfg.ReadBufferSize,
		policy:         cfg.OversizePolicy,
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingPeriod(),
		logger:         logger,
	}
}

// ID returns the registry identifier, or uuid.Nil before registration.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) assignID(id uuid.UUID) {
	c.id = id
}

// RemoteAddr returns the client's network address.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Send queues payload for delivery as one complete text message. It never
// blocks: a full queue drops the payload for this connection only.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// setupReadConnection configures limits, deadlines and control handlers.
func (c *Conn) setupReadConnection() {
	if c.policy == config.OversizeReject {
		c.ws.SetReadLimit(int64(c.readBufferSize))
	}
	if err := c.ws.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Warn("failed to set initial read deadline", "remote", c.addr, "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	// The session echoes the close frame itself once it has left the registry.
	c.ws.SetCloseHandler(func(int, string) error { return nil })
}

// readMessage reads the next data message. Under the truncate policy at most
// readBufferSize bytes are kept and the size of the discarded tail is
// returned; the tail never leaks into the next read. Under the reject policy
// the transport enforces the read limit and the whole message is returned.
func (c *Conn) readMessage() (data []byte, discarded int64, err error) {
	_, r, err := c.ws.NextReader()
	if err != nil {
		return nil, 0, err
	}

	if c.policy == config.OversizeReject {
		data, err = io.ReadAll(r)
		return data, 0, err
	}

	buf := make([]byte, c.readBufferSize)
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
		discarded, err = io.Copy(io.Discard, r)
		if err != nil {
			return nil, 0, err
		}
	case io.EOF, io.ErrUnexpectedEOF:
	default:
		return nil, 0, err
	}
	return buf[:n], discarded, nil
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			if err := c.writeText(payload); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("failed to write message", "remote", c.addr, "id", c.id, "error", err)
				}
				c.release()
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("failed to ping client", "remote", c.addr, "id", c.id, "error", err)
				}
				c.release()
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeText writes payload as a single, final text frame.
func (c *Conn) writeText(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// closeHandshake sends a close frame carrying code and text.
func (c *Conn) closeHandshake(code int, text string) error {
	msg := websocket.FormatCloseMessage(code, text)
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
}

// release stops the write pump and closes the network connection. It is
// safe to call more than once and from any goroutine.
func (c *Conn) release() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", "remote", c.addr, "id", c.id, "error", err)
		}
	})
}

// goAway tells the client the server is leaving and releases the connection.
func (c *Conn) goAway() {
	if err := c.closeHandshake(websocket.CloseGoingAway, "server shutting down"); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("failed to send going-away frame", "remote", c.addr, "id", c.id, "error", err)
	}
	c.release()
}
