// Command relay runs the broadcast relay server.
//
// Settings come from RELAY_* environment variables (a .env file in the
// working directory is loaded first when present); --addr and --debug
// override the corresponding variables.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/gorelay/internal/bridge"
	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cmd := &cli.Command{
		Name:  "relay",
		Usage: "broadcast every WebSocket text message to all connected clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (overrides RELAY_ADDR)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging (same as RELAY_ENV=dev)",
			},
		},
		Action: run,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	conf, err := config.New()
	if err != nil {
		return err
	}
	if cmd.IsSet("addr") {
		conf.Addr = cmd.String("addr")
	}

	var loggerOpts slog.HandlerOptions
	if conf.Env == config.EnvDev || cmd.Bool("debug") {
		loggerOpts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &loggerOpts))

	origin := uuid.New()
	b, err := bridge.New(ctx, conf.Bridge, origin, logger)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	opts := []server.Option{server.WithLogger(logger)}
	if b != nil {
		defer func() {
			if err := b.Close(); err != nil {
				logger.Warn("failed to close bridge", "error", err)
			}
		}()
		opts = append(opts, server.WithBridge(b))
	}

	relay := server.NewRelay(conf, opts...)

	go func() {
		if err := relay.RunBridge(ctx); err != nil {
			logger.Error("bridge stopped with error", "error", err)
		}
	}()

	logger.Info("starting relay", "instance", origin, "oversize_policy", conf.OversizePolicy, "read_buffer", conf.ReadBufferSize)
	srv := server.CreateServer(conf.Addr, relay.Routes())
	return server.Serve(ctx, srv, relay, conf.ShutdownTimeout, logger)
}
