package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vpnfleet/vpnfleet/internal/fleet/db"
	"github.com/vpnfleet/vpnfleet/internal/fleet/events"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
	"github.com/vpnfleet/vpnfleet/pkg/crypto"
)

// PeerResult is the outcome of adding a peer: the stored profile plus the
// rendered client config. The config embeds the peer's private key and is
// handed to the caller for delivery to the user.
type PeerResult struct {
	Profile      *server.PeerProfile
	ClientConfig string
}

// AddPeer allocates an address, generates a keypair and authorizes the peer
// on the server. Safe under concurrency: the per-server lock plus the unique
// address constraint make double allocation impossible.
func (o *Orchestrator) AddPeer(ctx context.Context, serverID, name string) (*PeerResult, error) {
	lock := o.locks.forServer(serverID)
	lock.Lock()
	defer lock.Unlock()

	srv, err := o.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.Status.AcceptsPeers() {
		return nil, fmt.Errorf("%w: status is %s", server.ErrServerNotReady, srv.Status)
	}

	// a peer request revives an idle server
	if srv.Status == server.StatusIdle {
		if err := o.transition(ctx, srv, server.StatusActive, "peer request"); err != nil {
			return nil, err
		}
	}

	profile, err := server.NewPeerProfile(uuid.New().String(), serverID, name)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.GetPeerByName(ctx, serverID, name); err == nil {
		return nil, server.ErrPeerNameConflict
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	profile.PublicKey = keys.PublicKey
	profile.PrivateKey = keys.PrivateKey

	// allocate and persist in one transaction so a concurrent allocation on
	// another replica trips the unique constraint rather than colliding
	err = o.store.ExecTx(ctx, func(q *db.Queries) error {
		used, err := q.GetAllocatedAddresses(ctx, serverID)
		if err != nil {
			return err
		}
		address, err := wgconf.AllocateAddress(srv.SubnetCIDR, used)
		if err != nil {
			return err
		}
		profile.AssignedAddress = address

		_, err = q.CreatePeer(ctx, db.CreatePeerParams{
			ID:              profile.ID,
			ServerID:        profile.ServerID,
			Name:            profile.Name,
			PublicKey:       profile.PublicKey,
			PrivateKey:      profile.PrivateKey,
			AssignedAddress: profile.AssignedAddress,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := o.remote.AddPeer(ctx, srv.PublicIP, wgconf.PeerStanza{
		Name:            profile.Name,
		PublicKey:       profile.PublicKey,
		AssignedAddress: profile.AssignedAddress,
	}); err != nil {
		// roll back the stored profile so state matches the host
		if delErr := o.store.DeletePeer(ctx, profile.ID); delErr != nil {
			o.logger.Error("failed to roll back peer after remote failure",
				slog.String("peer_id", profile.ID),
				slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("remote peer setup failed: %w", err)
	}

	clientConfig := wgconf.RenderClientConfig(wgconf.ClientParams{
		PrivateKey:      profile.PrivateKey,
		Address:         profile.AssignedAddress,
		ServerPublicKey: srv.WireGuardPublicKey,
		Endpoint:        srv.Endpoint(),
		AllowedIPs:      o.config.AllowedIPs,
		KeepaliveSec:    o.config.KeepaliveSec,
	})

	// the request counts as activity; without this the idle monitor could
	// tear the server down before the new client's first handshake
	if err := o.store.UpdateServerActivity(ctx, serverID, time.Now()); err != nil {
		o.logger.Warn("failed to refresh server activity",
			slog.String("server_id", serverID),
			slog.String("error", err.Error()))
	}

	o.refreshPeerGauge(ctx)
	if err := o.bus.PublishPeerEvent(events.EventPeerAdded, serverID, profile.ID, profile.Name); err != nil {
		o.logger.Warn("failed to publish peer event", slog.String("peer_id", profile.ID))
	}

	o.logger.Info("peer added",
		slog.String("server_id", serverID),
		slog.String("peer_name", profile.Name),
		slog.String("address", profile.AssignedAddress))

	return &PeerResult{Profile: profile, ClientConfig: clientConfig}, nil
}

// RemovePeer revokes a peer on the server and deletes its profile. The
// address returns to the allocation pool.
func (o *Orchestrator) RemovePeer(ctx context.Context, serverID, name string) error {
	lock := o.locks.forServer(serverID)
	lock.Lock()
	defer lock.Unlock()

	srv, err := o.GetServer(ctx, serverID)
	if err != nil {
		return err
	}

	row, err := o.store.GetPeerByName(ctx, serverID, name)
	if err != nil {
		return err
	}
	profile := row.ToDomain()

	// a server without a running instance has nothing to revoke remotely
	if srv.PublicIP != "" {
		if err := o.remote.RemovePeer(ctx, srv.PublicIP, profile.Name, profile.PublicKey); err != nil {
			return fmt.Errorf("remote peer removal failed: %w", err)
		}
	}

	if err := o.store.DeletePeer(ctx, profile.ID); err != nil {
		return err
	}

	o.refreshPeerGauge(ctx)
	if err := o.bus.PublishPeerEvent(events.EventPeerRemoved, serverID, profile.ID, profile.Name); err != nil {
		o.logger.Warn("failed to publish peer event", slog.String("peer_id", profile.ID))
	}

	o.logger.Info("peer removed",
		slog.String("server_id", serverID),
		slog.String("peer_name", profile.Name))
	return nil
}

// ListPeers returns the peer profiles on a server.
func (o *Orchestrator) ListPeers(ctx context.Context, serverID string) ([]*server.PeerProfile, error) {
	if _, err := o.store.GetServer(ctx, serverID); err != nil {
		return nil, err
	}
	rows, err := o.store.ListPeersByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	out := make([]*server.PeerProfile, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToDomain())
	}
	return out, nil
}

// GetPeerConfig re-renders the client config for an existing peer.
func (o *Orchestrator) GetPeerConfig(ctx context.Context, serverID, name string) (string, error) {
	srv, err := o.GetServer(ctx, serverID)
	if err != nil {
		return "", err
	}
	row, err := o.store.GetPeerByName(ctx, serverID, name)
	if err != nil {
		return "", err
	}
	profile := row.ToDomain()

	return wgconf.RenderClientConfig(wgconf.ClientParams{
		PrivateKey:      profile.PrivateKey,
		Address:         profile.AssignedAddress,
		ServerPublicKey: srv.WireGuardPublicKey,
		Endpoint:        srv.Endpoint(),
		AllowedIPs:      o.config.AllowedIPs,
		KeepaliveSec:    o.config.KeepaliveSec,
	}), nil
}

func (o *Orchestrator) refreshPeerGauge(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	rows, err := o.store.ListServers(ctx)
	if err != nil {
		return
	}
	var total int64
	for _, row := range rows {
		count, err := o.store.CountPeersByServer(ctx, row.ID)
		if err != nil {
			continue
		}
		total += count
	}
	o.metrics.PeersTotal.Set(float64(total))
}
