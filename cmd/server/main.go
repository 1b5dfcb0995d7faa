// Command server runs the presence server: a TCP endpoint where every
// connected client relays chat text and 2D positions to all other clients.
//
// Settings come from PRESENCE_* environment variables (optionally loaded
// from a .env file) and can be overridden by flags.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/gopresence/internal/server"
)

// Version is reported by --version.
const Version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
	}

	if err := newCommand(run).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newCommand builds the CLI. serve receives the merged configuration.
func newCommand(serve func(context.Context, server.Config, *slog.Logger) error) *cli.Command {
	defaults := server.NewConfigFromEnv()

	return &cli.Command{
		Name:    "presence-server",
		Usage:   "relay chat and position updates between TCP clients",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: defaults.Host, Usage: "interface to bind"},
			&cli.StringFlag{Name: "port", Value: defaults.Port, Usage: "TCP port for clients"},
			&cli.StringFlag{Name: "http-addr", Value: defaults.HTTPAddr, Usage: "address for the health, presence and WebSocket endpoints (empty disables)"},
			&cli.StringSliceFlag{Name: "allowed-origin", Value: defaults.AllowedOrigins, Usage: "browser origin allowed to open WebSocket sessions (* for any)"},
			&cli.IntFlag{Name: "max-sessions", Usage: "maximum concurrent sessions, 0 for unlimited"},
			&cli.BoolFlag{Name: "unique-names", Value: defaults.UniqueNames, Usage: "reject a handshake whose name is already connected"},
			&cli.DurationFlag{Name: "handshake-timeout", Value: defaults.HandshakeTimeout, Usage: "time allowed for the identity line, 0 waits forever"},
			&cli.DurationFlag{Name: "write-timeout", Value: defaults.WriteTimeout, Usage: "per-write deadline before a peer is dropped"},
			&cli.IntFlag{Name: "max-frame-size", Usage: "longest accepted input line in bytes"},
			&cli.IntFlag{Name: "send-buffer", Usage: "frames queued per session before it is dropped"},
			&cli.IntFlag{Name: "rate-limit-burst", Usage: "frames a session may send in a burst, 0 disables the limit"},
			&cli.DurationFlag{Name: "rate-limit-interval", Value: defaults.RateLimit.RefillInterval, Usage: "time to refill a full burst"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := *defaults
			cfg.Host = cmd.String("host")
			cfg.Port = cmd.String("port")
			cfg.HTTPAddr = cmd.String("http-addr")
			cfg.AllowedOrigins = cmd.StringSlice("allowed-origin")
			cfg.UniqueNames = cmd.Bool("unique-names")
			cfg.HandshakeTimeout = cmd.Duration("handshake-timeout")
			cfg.WriteTimeout = cmd.Duration("write-timeout")
			cfg.RateLimit.RefillInterval = cmd.Duration("rate-limit-interval")
			if cmd.IsSet("max-sessions") {
				cfg.MaxSessions = int(cmd.Int("max-sessions"))
			}
			if cmd.IsSet("max-frame-size") {
				cfg.MaxFrameSize = int(cmd.Int("max-frame-size"))
			}
			if cmd.IsSet("send-buffer") {
				cfg.SendBufferSize = int(cmd.Int("send-buffer"))
			}
			if cmd.IsSet("rate-limit-burst") {
				cfg.RateLimit.Burst = int(cmd.Int("rate-limit-burst"))
			}

			return serve(ctx, cfg, newLogger(cmd.Bool("debug")))
		},
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, cfg server.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start presence server: %v", err), 1)
	}

	serveErr := srv.Serve(ctx)
	if serveErr != nil {
		logger.Error("server stopped with error", "error", serveErr)
	}
	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return serveErr
}
