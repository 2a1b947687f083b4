// Package api exposes the daemon's control and status surface as a small
// HTTP API on the profile's unix socket.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"go.uber.org/zap"
)

// Server serves the control API on a unix socket.
type Server struct {
	srv        *http.Server
	socketPath string
	logger     *zap.Logger
}

// NewServer creates the API server for the given handler and socket path.
func NewServer(h *Handler, socketPath string, logger *zap.Logger) *Server {
	return &Server{
		srv:        &http.Server{Handler: NewRouter(h)},
		socketPath: socketPath,
		logger:     logger,
	}
}

// Start listens on the unix socket and serves until Stop. A stale socket
// file from a crashed process is removed first; the profile lock already
// guarantees single ownership.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.logger.Info("control api listening", zap.String("socket", s.socketPath))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}
