package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vpnfleet/vpnfleet/internal/fleet/orchestrator"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/pkg/api"
)

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := WriteSuccess(w, http.StatusOK, api.HealthResponse{Status: "healthy"}); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to encode health response", slog.String("error", err.Error()))
		}
	}
}

// createServerHandler accepts the request and starts the pipeline in the
// background. The caller polls the server status until it is active.
func (s *Server) createServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req api.CreateServerRequest
		if err := parseJSONRequest(r, &req); err != nil {
			_ = WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if req.Provider == "" || req.Region == "" || req.Plan == "" {
			_ = WriteError(w, http.StatusBadRequest, "invalid_request",
				"provider, region and plan are required")
			return
		}

		srv, err := s.fleet.CreateServerAsync(ctx, orchestrator.CreateServerRequest{
			Provider: req.Provider,
			Region:   req.Region,
			Plan:     req.Plan,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to create server", slog.String("error", err.Error()))
			_ = WriteDomainError(w, err)
			return
		}

		s.logger.InfoContext(ctx, "server requested",
			slog.String("server_id", srv.ID),
			slog.String("provider", srv.Provider))
		if err := WriteSuccess(w, http.StatusAccepted, toServerInfo(srv)); err != nil {
			s.logger.ErrorContext(ctx, "failed to encode server response", slog.String("error", err.Error()))
		}
	}
}

func (s *Server) listServersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		servers, err := s.fleet.ListServers(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to list servers", slog.String("error", err.Error()))
			_ = WriteDomainError(w, err)
			return
		}

		infos := make([]api.ServerInfo, len(servers))
		for i, srv := range servers {
			infos[i] = toServerInfo(srv)
		}
		_ = WriteSuccess(w, http.StatusOK, api.ServersListResponse{
			Servers:    infos,
			TotalCount: len(infos),
		})
	}
}

func (s *Server) getServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		srv, err := s.fleet.GetServer(ctx, r.PathValue("id"))
		if err != nil {
			_ = WriteDomainError(w, err)
			return
		}
		_ = WriteSuccess(w, http.StatusOK, toServerInfo(srv))
	}
}

func (s *Server) destroyServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")

		if err := s.fleet.DestroyServer(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "failed to destroy server",
				slog.String("server_id", id),
				slog.String("error", err.Error()))
			_ = WriteDomainError(w, err)
			return
		}

		s.logger.InfoContext(ctx, "server destroyed", slog.String("server_id", id))
		_ = WriteSuccess(w, http.StatusOK, api.MessageResponse{Message: "server destroyed"})
	}
}

func (s *Server) retryServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")

		srv, err := s.fleet.RetryServer(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to retry server",
				slog.String("server_id", id),
				slog.String("error", err.Error()))
			_ = WriteDomainError(w, err)
			return
		}
		_ = WriteSuccess(w, http.StatusOK, toServerInfo(srv))
	}
}

func (s *Server) addPeerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		serverID := r.PathValue("id")

		var req api.AddPeerRequest
		if err := parseJSONRequest(r, &req); err != nil {
			_ = WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		result, err := s.fleet.AddPeer(ctx, serverID, req.Name)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to add peer",
				slog.String("server_id", serverID),
				slog.String("error", err.Error()))
			_ = WriteDomainError(w, err)
			return
		}

		s.logger.InfoContext(ctx, "peer added",
			slog.String("server_id", serverID),
			slog.String("peer", req.Name))
		_ = WriteSuccess(w, http.StatusCreated, api.AddPeerResponse{
			Peer:         toPeerInfo(result.Profile),
			ClientConfig: result.ClientConfig,
		})
	}
}

func (s *Server) listPeersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		peers, err := s.fleet.ListPeers(ctx, r.PathValue("id"))
		if err != nil {
			_ = WriteDomainError(w, err)
			return
		}

		infos := make([]api.PeerInfo, len(peers))
		for i, p := range peers {
			infos[i] = toPeerInfo(p)
		}
		_ = WriteSuccess(w, http.StatusOK, api.PeersListResponse{
			Peers:      infos,
			TotalCount: len(infos),
		})
	}
}

func (s *Server) peerConfigHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		config, err := s.fleet.GetPeerConfig(ctx, r.PathValue("id"), r.PathValue("name"))
		if err != nil {
			_ = WriteDomainError(w, err)
			return
		}
		_ = WriteSuccess(w, http.StatusOK, api.PeerConfigResponse{ClientConfig: config})
	}
}

func (s *Server) removePeerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		serverID := r.PathValue("id")
		name := r.PathValue("name")

		if err := s.fleet.RemovePeer(ctx, serverID, name); err != nil {
			s.logger.ErrorContext(ctx, "failed to remove peer",
				slog.String("server_id", serverID),
				slog.String("peer", name),
				slog.String("error", err.Error()))
			_ = WriteDomainError(w, err)
			return
		}

		s.logger.InfoContext(ctx, "peer removed",
			slog.String("server_id", serverID),
			slog.String("peer", name))
		_ = WriteSuccess(w, http.StatusOK, api.MessageResponse{Message: "peer removed"})
	}
}

func parseJSONRequest(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func toServerInfo(srv *server.Server) api.ServerInfo {
	return api.ServerInfo{
		ID:                 srv.ID,
		Provider:           srv.Provider,
		Region:             srv.Region,
		Plan:               srv.Plan,
		Status:             srv.Status.String(),
		PublicIP:           srv.PublicIP,
		WireGuardPublicKey: srv.WireGuardPublicKey,
		SubnetCIDR:         srv.SubnetCIDR,
		ListenPort:         srv.ListenPort,
		ErrorCause:         srv.ErrorCause,
		CreatedAt:          srv.CreatedAt,
		LastActivityAt:     srv.LastActivityAt,
	}
}

func toPeerInfo(p *server.PeerProfile) api.PeerInfo {
	return api.PeerInfo{
		ID:              p.ID,
		ServerID:        p.ServerID,
		Name:            p.Name,
		PublicKey:       p.PublicKey,
		AssignedAddress: p.AssignedAddress,
		CreatedAt:       p.CreatedAt,
	}
}
