// Package server defines the peer contract, sentinel errors and small
// helpers shared by the registry, connections and sessions.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrConnClosed is returned by Send once a connection has been released.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Send when a recipient is not draining
	// its outbound queue fast enough. The payload is dropped for that
	// recipient only.
	ErrSendQueueFull = errors.New("send queue full")
)

// Peer is a registry member that can receive broadcast payloads.
// Send must not block on network I/O.
type Peer interface {
	Send(payload []byte) error
}

// BroadcastResult counts the outcome of one broadcast.
type BroadcastResult struct {
	Attempted int
	Delivered int
	Failed    int
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
