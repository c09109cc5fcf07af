package orchestrator

import (
	"context"
	"log/slog"

	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Reconcile repairs state after a restart. Servers caught mid-pipeline are
// compensated: their instance, if one was created, is destroyed and the
// server parks in the error status for a manual retry. Servers caught
// mid-destroy are destroyed to completion.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	interrupted := []server.Status{
		server.StatusRequested,
		server.StatusProvisioning,
		server.StatusConfiguring,
	}

	for _, status := range interrupted {
		rows, err := o.store.GetServersByStatus(ctx, string(status))
		if err != nil {
			return err
		}
		for _, row := range rows {
			srv := row.ToDomain()
			o.logger.Warn("found server interrupted mid-pipeline",
				slog.String("server_id", srv.ID),
				slog.String("status", srv.Status.String()))

			lock := o.locks.forServer(srv.ID)
			lock.Lock()
			// failServer destroys the recorded instance before parking
			_ = o.failServer(ctx, srv, "reconcile", errInterrupted)
			lock.Unlock()
		}
	}

	rows, err := o.store.GetServersByStatus(ctx, string(server.StatusDestroying))
	if err != nil {
		return err
	}
	for _, row := range rows {
		o.logger.Warn("resuming interrupted destroy", slog.String("server_id", row.ID))
		if err := o.DestroyServer(ctx, row.ID); err != nil {
			o.logger.Error("failed to resume destroy",
				slog.String("server_id", row.ID),
				slog.String("error", err.Error()))
		}
	}

	for _, status := range []server.Status{server.StatusActive, server.StatusIdle} {
		rows, err := o.store.GetServersByStatus(ctx, string(status))
		if err != nil {
			return err
		}
		for _, row := range rows {
			o.reconcileRunning(ctx, row.ToDomain())
		}
	}

	o.updateStatusGauges(ctx)
	return nil
}

// reconcileRunning checks a supposedly running server against the provider.
// A vanished instance parks the server in the error status; a drifted public
// IP is re-recorded.
func (o *Orchestrator) reconcileRunning(ctx context.Context, srv *server.Server) {
	p, err := o.providers.Get(srv.Provider)
	if err != nil {
		return
	}

	inst, err := p.GetInstanceStatus(ctx, srv.ProviderInstanceID)
	if err != nil {
		// provider unreachable; leave the server alone and let the idle
		// monitor observe it
		o.logger.Warn("could not verify running server",
			slog.String("server_id", srv.ID),
			slog.String("error", err.Error()))
		return
	}

	lock := o.locks.forServer(srv.ID)
	lock.Lock()
	defer lock.Unlock()

	switch inst.State {
	case provider.StateNotFound, provider.StateError:
		o.logger.Warn("running server lost its instance",
			slog.String("server_id", srv.ID),
			slog.String("instance_id", srv.ProviderInstanceID))
		_ = o.failServer(ctx, srv, "reconcile", errInstanceLost)
	case provider.StateRunning:
		// ActivateServer re-records the IP together with the active status,
		// so only active servers are refreshed here
		if srv.Status == server.StatusActive && inst.PublicIP != "" && inst.PublicIP != srv.PublicIP {
			o.logger.Warn("public IP drifted, re-recording",
				slog.String("server_id", srv.ID),
				slog.String("old", srv.PublicIP),
				slog.String("new", inst.PublicIP))
			if err := o.store.ActivateServer(ctx, srv.ID, inst.PublicIP); err != nil {
				o.logger.Error("failed to re-record public IP",
					slog.String("server_id", srv.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

type interruptedError struct{}

func (interruptedError) Error() string { return "interrupted by restart" }

var errInterrupted = interruptedError{}

type instanceLostError struct{}

func (instanceLostError) Error() string { return "provider instance no longer exists" }

var errInstanceLost = instanceLostError{}
