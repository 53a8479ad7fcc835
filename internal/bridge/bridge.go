// Package bridge fans broadcasts out to other relay instances over a message
// bus, so that several relay processes behave as one broadcast domain.
//
// Every instance stamps what it publishes with its own origin id and ignores
// envelopes carrying that id when they come back from the bus. Messages from
// other instances are handed to a Handler for local delivery only.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gorelay/internal/config"
)

// ErrUnknownKind is returned by New for an unsupported bridge backend.
var ErrUnknownKind = errors.New("unknown bridge kind")

// Handler receives payloads published by other relay instances.
type Handler func(payload string)

// Bridge publishes local broadcasts and delivers remote ones.
type Bridge interface {
	// Publish sends payload to every other instance.
	Publish(ctx context.Context, payload string) error
	// Run delivers remote payloads to handler until ctx is done.
	Run(ctx context.Context, handler Handler) error
	// Close releases the bus connection.
	Close() error
}

// Envelope is the bus representation of one broadcast. It never reaches
// WebSocket clients.
type Envelope struct {
	Origin  uuid.UUID `json:"origin"`
	Payload string    `json:"payload"`
}

// Encode marshals payload into an envelope stamped with origin.
func Encode(origin uuid.UUID, payload string) ([]byte, error) {
	data, err := json.Marshal(Envelope{Origin: origin, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshalling envelope: %w", err)
	}
	return data, nil
}

// Decode unmarshals an envelope read from the bus.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshalling envelope: %w", err)
	}
	if env.Origin == uuid.Nil {
		return Envelope{}, errors.New("unmarshalling envelope: missing origin")
	}
	return env, nil
}

// dispatch decodes data and hands foreign payloads to handler. It reports
// whether the payload was delivered.
func dispatch(logger *slog.Logger, origin uuid.UUID, data []byte, handler Handler) bool {
	env, err := Decode(data)
	if err != nil {
		logger.Warn("dropping malformed bridge message", "error", err)
		return false
	}
	if env.Origin == origin {
		return false
	}
	handler(env.Payload)
	return true
}

// New connects the backend selected by cfg. It returns a nil Bridge and a
// nil error when bridging is disabled.
func New(ctx context.Context, cfg config.BridgeConfig, origin uuid.UUID, logger *slog.Logger) (Bridge, error) {
	switch cfg.Kind {
	case config.BridgeNone, "":
		return nil, nil
	case config.BridgeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("bridge connected", "kind", cfg.Kind, "addr", cfg.RedisAddr, "channel", cfg.Channel)
		return NewRedis(client, cfg.Channel, origin, logger), nil
	case config.BridgeNATS:
		b, err := DialNATS(cfg.NATSURL, cfg.Channel, origin, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("bridge connected", "kind", cfg.Kind, "url", cfg.NATSURL, "subject", cfg.Channel)
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

func isClosedNetErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, redis.ErrClosed)
}
