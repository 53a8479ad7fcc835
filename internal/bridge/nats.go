package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSBridge fans broadcasts out over a NATS subject.
type NATSBridge struct {
	conn    *nats.Conn
	subject string
	origin  uuid.UUID
	logger  *slog.Logger
}

// DialNATS connects to the NATS server at url.
func DialNATS(url, subject string, origin uuid.UUID, logger *slog.Logger) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.Name("gorelay-"+origin.String()))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATSBridge{
		conn:    conn,
		subject: subject,
		origin:  origin,
		logger:  logger,
	}, nil
}

// Publish implements Bridge. NATS publishes are buffered by the client, so
// ctx is only checked up front.
func (b *NATSBridge) Publish(ctx context.Context, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(b.origin, payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publishing to nats subject %q: %w", b.subject, err)
	}
	return nil
}

// Run implements Bridge.
func (b *NATSBridge) Run(ctx context.Context, handler Handler) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		dispatch(b.logger, b.origin, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribing to nats subject %q: %w", b.subject, err)
	}
	b.logger.Info("nats bridge is running", "subject", b.subject)

	<-ctx.Done()
	b.logger.Info("shutting down nats bridge")
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.logger.Warn("failed to unsubscribe", "error", err)
	}
	return nil
}

// Close implements Bridge.
func (b *NATSBridge) Close() error {
	b.conn.Close()
	return nil
}
