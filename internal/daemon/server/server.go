// Package server provides the HTTP API for the contextd daemon.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/harborhq/contextd/config"
	"github.com/harborhq/contextd/internal/daemon/checkpoint"
	"github.com/harborhq/contextd/internal/daemon/monitor"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/pkg/paths"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger      *logrus.Entry
	server      *http.Server
	registry    *registry.Registry
	monitor     *monitor.Monitor
	coordinator *checkpoint.Coordinator
	provider    *config.Provider
	startedAt   time.Time
	ready       bool
}

// New creates a new Server instance.
func New(reg *registry.Registry, mon *monitor.Monitor, coord *checkpoint.Coordinator, provider *config.Provider, logger *logrus.Entry) *Server {
	return &Server{
		logger:      logger,
		registry:    reg,
		monitor:     mon,
		coordinator: coord,
		provider:    provider,
		startedAt:   time.Now(),
	}
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.ready = true
	s.server = &http.Server{
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	return s.server.Serve(listener)
}

// Handler builds the API routing table. Exported so tests can exercise
// the API without a unix socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("registry", func() error {
		if !s.ready {
			return fmt.Errorf("server not accepting requests yet")
		}
		return nil
	})
	health.AddLivenessCheck("artifact-dir", func() error {
		_, err := os.Stat(s.checkpointDir())
		return err
	})
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/sessions", s.handleRegister)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handlePatchSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeregister)
	mux.HandleFunc("POST /api/sessions/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/sessions/{id}/checkpoint", s.handleRequestCheckpoint)
	mux.HandleFunc("GET /api/sessions/{id}/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("GET /api/checkpoints/{id}", s.handleGetCheckpoint)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config/reload", s.handleReloadConfig)
	mux.HandleFunc("GET /api/stream", s.handleStreamState)

	return mux
}

func (s *Server) checkpointDir() string {
	if dir := s.provider.Get().Checkpoint.Dir; dir != "" {
		return dir
	}
	return paths.CheckpointDir()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
