package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vpnfleet/vpnfleet/internal/fleet/events"
	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// DestroyServer tears a server down: provider instance first, then the
// stored record with its peers. Idempotent; destroying a server that is
// already gone succeeds.
func (o *Orchestrator) DestroyServer(ctx context.Context, id string) error {
	lock := o.locks.forServer(id)
	lock.Lock()
	defer lock.Unlock()

	srv, err := o.GetServer(ctx, id)
	if err != nil {
		if errors.Is(err, server.ErrServerNotFound) {
			return nil
		}
		return err
	}

	if srv.Status != server.StatusDestroying {
		if err := o.transition(ctx, srv, server.StatusDestroying, ""); err != nil {
			return err
		}
	}

	if srv.ProviderInstanceID != "" {
		p, err := o.providers.Get(srv.Provider)
		if err != nil {
			return err
		}
		err = provider.WithRetry(ctx, provider.DefaultRetryConfig(), func() error {
			return p.DestroyInstance(ctx, srv.ProviderInstanceID)
		})
		if err != nil {
			if o.metrics != nil {
				o.metrics.DestroysTotal.WithLabelValues(srv.Provider, "error").Inc()
			}
			return o.failServer(ctx, srv, "destroying", fmt.Errorf("instance destroy failed: %w", err))
		}
	}

	// destroyed servers leave no record; peers cascade with the row
	if err := o.store.DeleteServer(ctx, srv.ID); err != nil && !errors.Is(err, server.ErrServerNotFound) {
		return err
	}
	o.locks.forget(srv.ID)
	o.updateStatusGauges(ctx)
	o.refreshPeerGauge(ctx)

	if o.metrics != nil {
		o.metrics.DestroysTotal.WithLabelValues(srv.Provider, "success").Inc()
	}
	if err := o.bus.PublishStatusChanged(srv.ID, srv.Provider, server.StatusDestroying, server.StatusDestroyed, ""); err != nil {
		o.logger.Warn("failed to publish destruction", slog.String("server_id", srv.ID))
	}
	if err := o.bus.PublishServerEvent(events.EventServerDestroyed, srv.ID, srv.Provider, ""); err != nil {
		o.logger.Warn("failed to publish destroyed event", slog.String("server_id", srv.ID))
	}

	o.logger.Info("server destroyed", slog.String("server_id", srv.ID))
	return nil
}
