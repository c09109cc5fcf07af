package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vpnfleet/vpnfleet/internal/fleet/orchestrator"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Fleet defines the lifecycle operations the API server depends on.
type Fleet interface {
	CreateServerAsync(ctx context.Context, req orchestrator.CreateServerRequest) (*server.Server, error)
	GetServer(ctx context.Context, id string) (*server.Server, error)
	ListServers(ctx context.Context) ([]*server.Server, error)
	RetryServer(ctx context.Context, id string) (*server.Server, error)
	DestroyServer(ctx context.Context, id string) error
	AddPeer(ctx context.Context, serverID, name string) (*orchestrator.PeerResult, error)
	RemovePeer(ctx context.Context, serverID, name string) error
	ListPeers(ctx context.Context, serverID string) ([]*server.PeerProfile, error)
	GetPeerConfig(ctx context.Context, serverID, name string) (string, error)
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Address string
}

// Server is the HTTP API server with lifecycle management.
type Server struct {
	server   *http.Server
	fleet    Fleet
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewServer creates a new API server instance. The registry may be nil, in
// which case no metrics endpoint is exposed.
func NewServer(config ServerConfig, fleet Fleet, registry *prometheus.Registry, logger *slog.Logger) *Server {
	return &Server{
		fleet:    fleet,
		registry: registry,
		logger:   logger,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving requests. It returns once the listener is up or the
// bind failed.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.server.Handler = s.registerRoutes(mux)

	s.logger.InfoContext(ctx, "starting API server", slog.String("address", s.server.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("GET /healthz", s.healthHandler())
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/v1/servers", s.createServerHandler())
	mux.HandleFunc("GET /api/v1/servers", s.listServersHandler())
	mux.HandleFunc("GET /api/v1/servers/{id}", s.getServerHandler())
	mux.HandleFunc("DELETE /api/v1/servers/{id}", s.destroyServerHandler())
	mux.HandleFunc("POST /api/v1/servers/{id}/retry", s.retryServerHandler())

	mux.HandleFunc("POST /api/v1/servers/{id}/peers", s.addPeerHandler())
	mux.HandleFunc("GET /api/v1/servers/{id}/peers", s.listPeersHandler())
	mux.HandleFunc("GET /api/v1/servers/{id}/peers/{name}/config", s.peerConfigHandler())
	mux.HandleFunc("DELETE /api/v1/servers/{id}/peers/{name}", s.removePeerHandler())

	return Chain(
		Recovery(s.logger),
		RequestID,
		Logging(s.logger),
	)(mux)
}
