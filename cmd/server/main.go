package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Tyrowin/pmrelay/internal/config"
	"github.com/Tyrowin/pmrelay/internal/logging"
	"github.com/Tyrowin/pmrelay/internal/presence"
	"github.com/Tyrowin/pmrelay/internal/relay"
	"github.com/Tyrowin/pmrelay/internal/server"
	"github.com/Tyrowin/pmrelay/internal/upload"
	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, starts the relay and blocks until shutdown.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if err := upload.EnsureDir(cfg.UploadDir()); err != nil {
		return err
	}

	hub := relay.NewHub(presence.NewDirectory(), relay.Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
	}, log)
	go hub.Run()

	srv := server.New(server.Options{
		PublicDir:      cfg.PublicDir,
		AllowedOrigins: cfg.Origins(),
	}, hub, upload.NewService(cfg.UploadDir(), cfg.UploadMaxBytes, log), log)

	httpServer := server.CreateServer(cfg.Addr(), srv.Routes())
	serveErr, err := server.StartServer(httpServer)
	if err != nil {
		_ = hub.Shutdown(cfg.ShutdownTimeout)
		return err
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Str("public_dir", cfg.PublicDir).
		Int64("upload_max_bytes", cfg.UploadMaxBytes).
		Msg("Server running")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer)
			},
			"relay-hub": func(context.Context) error {
				return hub.Shutdown(cfg.ShutdownTimeout)
			},
		},
	)

	select {
	case err := <-serveErr:
		if err != nil {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
		// Closed without error: a shutdown is already under way.
	case exitCode := <-wait:
		return shutdownResult(exitCode)
	}
	return shutdownResult(<-wait)
}

// shutdownResult turns a graceful-shutdown exit code into an error.
func shutdownResult(exitCode int) error {
	if exitCode != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", exitCode)
	}
	return nil
}
