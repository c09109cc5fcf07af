package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vpnfleet/vpnfleet/internal/fleet/db"
	"github.com/vpnfleet/vpnfleet/internal/fleet/events"
	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/remote"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
	"github.com/vpnfleet/vpnfleet/pkg/crypto"
)

// CreateServerRequest asks for one new VPN server.
type CreateServerRequest struct {
	Provider string
	Region   string
	Plan     string
}

// createRecord validates the request and stores the server in the requested
// status.
func (o *Orchestrator) createRecord(ctx context.Context, req CreateServerRequest) (*server.Server, error) {
	if _, err := o.providers.Get(req.Provider); err != nil {
		return nil, err
	}

	srv, err := server.New(uuid.New().String(), req.Provider, req.Region, req.Plan,
		o.config.SubnetCIDR, o.config.ListenPort)
	if err != nil {
		return nil, err
	}

	if _, err := o.store.CreateServer(ctx, db.CreateServerParams{
		ID:         srv.ID,
		Provider:   srv.Provider,
		Region:     srv.Region,
		Plan:       srv.Plan,
		Status:     string(srv.Status),
		SubnetCidr: srv.SubnetCIDR,
		ListenPort: srv.ListenPort,
	}); err != nil {
		return nil, err
	}
	o.updateStatusGauges(ctx)

	if err := o.bus.PublishServerEvent(events.EventServerRequested, srv.ID, srv.Provider, ""); err != nil {
		o.logger.Warn("failed to publish request event", slog.String("server_id", srv.ID))
	}
	return srv, nil
}

// CreateServer records the request and drives the server through
// provisioning and configuration until it is active. On failure the server
// is left in the error status with a cause; the provider-side instance, if
// any was created, is destroyed.
func (o *Orchestrator) CreateServer(ctx context.Context, req CreateServerRequest) (*server.Server, error) {
	srv, err := o.createRecord(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.provision(ctx, srv); err != nil {
		return srv, err
	}
	return srv, nil
}

// CreateServerAsync records the request and returns immediately; the
// pipeline runs in the background. Callers poll the server status.
func (o *Orchestrator) CreateServerAsync(ctx context.Context, req CreateServerRequest) (*server.Server, error) {
	srv, err := o.createRecord(ctx, req)
	if err != nil {
		return nil, err
	}

	go func() {
		// detached from the request context; a closed client connection
		// must not abort a half-created instance
		pipeline := *srv
		if err := o.provision(context.Background(), &pipeline); err != nil {
			o.logger.Error("background provisioning failed",
				slog.String("server_id", srv.ID),
				slog.String("error", err.Error()))
		}
	}()

	return srv, nil
}

// RetryServer re-enters the pipeline for a server stuck in the error status.
func (o *Orchestrator) RetryServer(ctx context.Context, id string) (*server.Server, error) {
	lock := o.locks.forServer(id)
	lock.Lock()

	srv, err := o.GetServer(ctx, id)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	if err := o.transition(ctx, srv, server.StatusRequested, "manual retry"); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	if err := o.provision(ctx, srv); err != nil {
		return srv, err
	}
	return srv, nil
}

// provision runs the full pipeline for a server in the requested status.
func (o *Orchestrator) provision(ctx context.Context, srv *server.Server) error {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	lock := o.locks.forServer(srv.ID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	if err := o.transition(ctx, srv, server.StatusProvisioning, ""); err != nil {
		return err
	}

	publicIP, err := o.provisionInstance(ctx, srv)
	if err != nil {
		return o.failServer(ctx, srv, "provisioning", err)
	}

	if err := o.transition(ctx, srv, server.StatusConfiguring, ""); err != nil {
		return o.failServer(ctx, srv, "provisioning", err)
	}

	if err := o.configureInstance(ctx, srv, publicIP); err != nil {
		return o.failServer(ctx, srv, "configuring", err)
	}

	// activation persists the public IP together with the status flip
	if err := o.store.ActivateServer(ctx, srv.ID, publicIP); err != nil {
		return o.failServer(ctx, srv, "activation", err)
	}
	srv.Status = server.StatusActive
	srv.PublicIP = publicIP
	o.updateStatusGauges(ctx)

	if o.metrics != nil {
		o.metrics.ProvisionsTotal.WithLabelValues(srv.Provider, "success").Inc()
		o.metrics.ProvisionDuration.Observe(time.Since(started).Seconds())
	}
	if err := o.bus.PublishStatusChanged(srv.ID, srv.Provider, server.StatusConfiguring, server.StatusActive, ""); err != nil {
		o.logger.Warn("failed to publish activation", slog.String("server_id", srv.ID))
	}
	if err := o.bus.PublishServerEvent(events.EventServerActive, srv.ID, srv.Provider, publicIP); err != nil {
		o.logger.Warn("failed to publish active event", slog.String("server_id", srv.ID))
	}

	o.logger.Info("server is active",
		slog.String("server_id", srv.ID),
		slog.String("provider", srv.Provider),
		slog.String("public_ip", publicIP),
		slog.Duration("took", time.Since(started)))
	return nil
}

// provisionInstance creates the provider instance and waits for it to boot
// with a public address. The instance ID is persisted before waiting so a
// crash mid-provision can still be compensated.
func (o *Orchestrator) provisionInstance(ctx context.Context, srv *server.Server) (string, error) {
	p, err := o.providers.Get(srv.Provider)
	if err != nil {
		return "", err
	}

	createReq := provider.CreateRequest{
		Name:           "fleet-" + srv.ID[:8],
		Region:         srv.Region,
		Plan:           srv.Plan,
		SSHPublicKeys:  o.config.SSHPublicKeys,
		IdempotencyKey: srv.ID,
	}

	var instanceID string
	err = provider.WithRetry(ctx, provider.DefaultRetryConfig(), func() error {
		var createErr error
		instanceID, createErr = p.CreateInstance(ctx, createReq)
		return createErr
	})
	if err != nil {
		return "", fmt.Errorf("instance creation failed: %w", err)
	}

	srv.ProviderInstanceID = instanceID
	if err := o.store.SetServerProvisioned(ctx, srv.ID, instanceID); err != nil {
		return "", err
	}

	o.logger.Info("instance created, waiting for boot",
		slog.String("server_id", srv.ID),
		slog.String("instance_id", instanceID))

	deadline := time.Now().Add(o.config.ProvisionTimeout)
	for {
		inst, err := p.GetInstanceStatus(ctx, instanceID)
		if err != nil && !provider.IsTransientError(err) {
			return "", err
		}
		if err == nil {
			switch inst.State {
			case provider.StateRunning:
				if inst.PublicIP != "" {
					return inst.PublicIP, nil
				}
			case provider.StateError:
				return "", fmt.Errorf("instance %s entered error state", instanceID)
			case provider.StateNotFound:
				return "", fmt.Errorf("instance %s disappeared during boot", instanceID)
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("instance %s not running after %s", instanceID, o.config.ProvisionTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.config.PollInterval):
		}
	}
}

// configureInstance generates the server keypair and brings up WireGuard
// over SSH.
func (o *Orchestrator) configureInstance(ctx context.Context, srv *server.Server, publicIP string) error {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("key generation failed: %w", err)
	}
	srv.SetWireGuardKeys(keys.PrivateKey, keys.PublicKey)
	if err := o.store.SetServerKeys(ctx, srv.ID, keys.PublicKey, keys.PrivateKey); err != nil {
		return err
	}

	if err := o.remote.WaitForReady(ctx, publicIP, o.config.ReadyTimeout); err != nil {
		return err
	}

	address, err := wgconf.InterfaceAddress(srv.SubnetCIDR)
	if err != nil {
		return err
	}
	config := wgconf.RenderServerConfig(wgconf.ServerParams{
		PrivateKey: keys.PrivateKey,
		Address:    address,
		ListenPort: srv.ListenPort,
	}, nil)

	return o.remote.InstallWireGuard(ctx, publicIP, remote.InstallParams{
		ServerConfig: config,
		ListenPort:   srv.ListenPort,
	})
}

// failServer parks the server in the error status with a cause. The
// provider-side instance is destroyed so a failed pipeline never leaks
// billable resources.
func (o *Orchestrator) failServer(ctx context.Context, srv *server.Server, phase string, cause error) error {
	o.logger.Error("lifecycle failed",
		slog.String("server_id", srv.ID),
		slog.String("phase", phase),
		slog.String("error", cause.Error()))

	if srv.ProviderInstanceID != "" {
		if p, err := o.providers.Get(srv.Provider); err == nil {
			if err := p.DestroyInstance(ctx, srv.ProviderInstanceID); err != nil {
				o.logger.Error("failed to clean up instance after failure",
					slog.String("server_id", srv.ID),
					slog.String("instance_id", srv.ProviderInstanceID),
					slog.String("error", err.Error()))
			}
		}
	}

	if err := o.store.SetServerError(ctx, srv.ID, cause.Error()); err != nil {
		o.logger.Error("failed to record error status",
			slog.String("server_id", srv.ID),
			slog.String("error", err.Error()))
	}
	from := srv.Status
	srv.Status = server.StatusError
	srv.ErrorCause = cause.Error()
	srv.PublicIP = ""
	o.updateStatusGauges(ctx)

	if o.metrics != nil {
		o.metrics.ProvisionsTotal.WithLabelValues(srv.Provider, "error").Inc()
	}
	if err := o.bus.PublishStatusChanged(srv.ID, srv.Provider, from, server.StatusError, cause.Error()); err != nil {
		o.logger.Warn("failed to publish failure", slog.String("server_id", srv.ID))
	}
	if err := o.bus.PublishServerEvent(events.EventServerFailed, srv.ID, srv.Provider, ""); err != nil {
		o.logger.Warn("failed to publish failure event", slog.String("server_id", srv.ID))
	}

	return server.NewLifecycleError(srv.ID, phase, cause)
}
