package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// CollectActivity reads the live handshake data from a server and, when any
// peer completed a handshake since the stored timestamp, records it. Returns
// the freshest known activity time.
func (o *Orchestrator) CollectActivity(ctx context.Context, srv *server.Server) (time.Time, error) {
	usage, err := o.remote.FetchUsage(ctx, srv.PublicIP)
	if err != nil {
		return time.Time{}, err
	}

	observed := usage.LastActivity()
	var stored time.Time
	if srv.LastActivityAt != nil {
		stored = *srv.LastActivityAt
	}

	if observed.After(stored) {
		if err := o.store.UpdateServerActivity(ctx, srv.ID, observed); err != nil {
			return time.Time{}, err
		}
		srv.LastActivityAt = &observed
		return observed, nil
	}
	return stored, nil
}

// MarkIdle transitions an active server to idle after a quiet period.
func (o *Orchestrator) MarkIdle(ctx context.Context, id string) error {
	lock := o.locks.forServer(id)
	lock.Lock()
	defer lock.Unlock()

	srv, err := o.GetServer(ctx, id)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, srv, server.StatusIdle, "no recent activity"); err != nil {
		return err
	}
	o.logger.Info("server marked idle", slog.String("server_id", id))
	return nil
}

// MarkActive transitions an idle server back to active when traffic returns.
func (o *Orchestrator) MarkActive(ctx context.Context, id string) error {
	lock := o.locks.forServer(id)
	lock.Lock()
	defer lock.Unlock()

	srv, err := o.GetServer(ctx, id)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, srv, server.StatusActive, "activity resumed"); err != nil {
		return err
	}
	o.logger.Info("server marked active", slog.String("server_id", id))
	return nil
}
