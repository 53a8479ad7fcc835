package server

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// serveConn runs one session from registration to release on the calling
// goroutine. The registry entry is removed on every exit path.
func (r *Relay) serveConn(c *Conn) {
	r.registry.Register(c)
	r.logger.Info("client registered", "remote", c.addr, "id", c.id, "clients", r.registry.Len())

	defer func() {
		r.unregister(c)
		c.release()
	}()

	if r.isClosing() {
		c.goAway()
		return
	}

	go c.writePump()
	c.setupReadConnection()
	limiter := newRateLimiter(r.cfg.RateLimit.Burst, r.cfg.RateLimit.RefillInterval)

	for {
		data, discarded, err := c.readMessage()
		if err != nil {
			r.endSession(c, err)
			return
		}

		if discarded > 0 {
			r.logger.Warn("message exceeded read buffer and was truncated",
				"remote", c.addr, "id", c.id, "kept", len(data), "discarded", discarded)
		}

		if !limiter.allow() {
			r.logger.Warn("rate limit exceeded; discarding message",
				"remote", c.addr, "id", c.id, "burst", r.cfg.RateLimit.Burst, "interval", r.cfg.RateLimit.RefillInterval)
			continue
		}

		text, ok := decodeText(data, discarded > 0)
		if !ok {
			r.logger.Warn("dropping message that is not valid UTF-8", "remote", c.addr, "id", c.id, "bytes", len(data))
			continue
		}

		r.Broadcast(text)
	}
}

func (r *Relay) unregister(c *Conn) {
	if r.registry.Unregister(c) {
		r.logger.Info("client unregistered", "remote", c.addr, "id", c.id, "clients", r.registry.Len())
	}
}

// endSession handles the error that ended the receive loop. A close frame
// from the peer is answered with the same code and reason after the
// connection has left the registry.
func (r *Relay) endSession(c *Conn, err error) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code == websocket.CloseAbnormalClosure {
		r.logReadError(c, err)
		return
	}

	r.logger.Info("client closed connection", "remote", c.addr, "id", c.id, "code", closeErr.Code, "reason", closeErr.Text)
	r.unregister(c)

	if err := c.closeHandshake(closeErr.Code, closeErr.Text); err != nil && !isExpectedCloseError(err) {
		r.logger.Warn("failed to complete close handshake", "remote", c.addr, "id", c.id, "error", err)
	}
}

func (r *Relay) logReadError(c *Conn, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		r.logger.Warn("message exceeded maximum size; closing", "remote", c.addr, "id", c.id, "limit", r.cfg.ReadBufferSize)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		r.logger.Info("client connection closed", "remote", c.addr, "id", c.id, "error", err)
	case websocket.IsCloseError(err, websocket.CloseAbnormalClosure):
		r.logger.Info("client disconnected without close frame", "remote", c.addr, "id", c.id)
	default:
		r.logger.Warn("websocket read error", "remote", c.addr, "id", c.id, "error", err)
	}
}

// decodeText turns a received message into the broadcast payload: valid
// UTF-8 with leading and trailing spaces and NUL padding removed. When the
// message was cut at the buffer boundary, an incomplete trailing rune is
// dropped first.
func decodeText(data []byte, truncated bool) (string, bool) {
	if truncated {
		data = trimPartialRune(data)
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return strings.Trim(string(data), " \x00"), true
}

func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start]
		}
		return b
	}
	return b
}
