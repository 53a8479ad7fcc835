// Package server implements the broadcast relay: a registry of live
// WebSocket connections and the per-connection sessions that feed it.
//
// A Relay owns one Registry. Each upgraded connection runs a session on its
// own goroutine: it registers, reads messages until the peer closes or the
// connection fails, and broadcasts every message as plain UTF-8 text to all
// registered connections, the sender included. Sends only enqueue onto a
// per-connection queue drained by that connection's write pump, so no lock
// is held across network I/O and a slow client cannot stall a broadcast.
//
// The HTTP side is split across handlers, routes and http_server so the
// relay can be mounted as middleware in front of any other handler.
package server
