package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for addr with production timeouts.
// Upgraded connections are hijacked and not subject to these timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts down the HTTP server and the
// relay within timeout. Hijacked WebSocket connections are not tracked by
// http.Server, which is why the relay is shut down separately.
func Serve(ctx context.Context, srv *http.Server, relay *Relay, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	return ShutdownServer(srv, relay, timeout, logger)
}

// ShutdownServer stops accepting HTTP requests, then closes every relay
// session. Both steps share timeout.
func ShutdownServer(srv *http.Server, relay *Relay, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("shutting down HTTP server")
	deadline := time.Now().Add(timeout)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}

	if err := relay.Shutdown(time.Until(deadline)); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		logger.Info("HTTP server shutdown completed")
	}
	return errors.Join(errs...)
}
