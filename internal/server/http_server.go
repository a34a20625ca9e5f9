package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Tyrowin/pmrelay/internal/relay"
	"github.com/Tyrowin/pmrelay/internal/upload"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options configures the HTTP surface.
type Options struct {
	PublicDir      string
	AllowedOrigins []string
}

// Server exposes the relay hub, the upload endpoint and static files over HTTP.
type Server struct {
	hub       *relay.Hub
	uploads   *upload.Handler
	publicDir string
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// New builds a Server around an already running hub.
func New(opts Options, hub *relay.Hub, uploads *upload.Service, log zerolog.Logger) *Server {
	log = log.With().Str("component", "http").Logger()
	policy := newOriginPolicy(opts.AllowedOrigins, log)

	return &Server{
		hub:       hub,
		uploads:   upload.NewHandler(uploads, log),
		publicDir: opts.PublicDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		log: log,
	}
}

// CreateServer creates an HTTP server for addr with production timeouts.
// The write timeout leaves room for a full-size upload.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer binds server.Addr and serves in the background. A bind failure
// is returned immediately; later serve errors arrive on the channel.
func StartServer(server *http.Server) (<-chan error, error) {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// ShutdownServer stops accepting requests and waits for in-flight ones until
// ctx is done. Upgraded WebSocket connections are closed by the hub instead.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
