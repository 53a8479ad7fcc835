package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func TestCreateServerTimeouts(t *testing.T) {
	srv := CreateServer(":0", http.NotFoundHandler())

	if srv.Addr != ":0" {
		t.Errorf("Expected address :0, got %q", srv.Addr)
	}
	if srv.ReadTimeout != 15*time.Second || srv.WriteTimeout != 15*time.Second {
		t.Errorf("Unexpected read/write timeouts %s/%s", srv.ReadTimeout, srv.WriteTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("Unexpected idle timeout %s", srv.IdleTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Error("Expected a read header timeout")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := newTestRelay()
	srv := CreateServer("127.0.0.1:0", relay.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, srv, relay, time.Second, logger)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := newTestRelay()
	srv := CreateServer("127.0.0.1:-1", relay.Routes())

	err := Serve(context.Background(), srv, relay, time.Second, logger)
	if err == nil {
		t.Fatal("Expected a listen error for an invalid port")
	}
}
