// Package orchestrator drives servers through their lifecycle: requested,
// provisioning, configuring, active, idle, destroying, destroyed. It owns
// every status transition; other components only read state or report
// activity through it.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/db"
	"github.com/vpnfleet/vpnfleet/internal/fleet/events"
	"github.com/vpnfleet/vpnfleet/internal/fleet/metrics"
	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/remote"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
)

// Configurator is the remote-host surface the orchestrator needs. Satisfied
// by *remote.Executor.
type Configurator interface {
	WaitForReady(ctx context.Context, host string, timeout time.Duration) error
	InstallWireGuard(ctx context.Context, host string, params remote.InstallParams) error
	AddPeer(ctx context.Context, host string, peer wgconf.PeerStanza) error
	RemovePeer(ctx context.Context, host, name, publicKey string) error
	FetchUsage(ctx context.Context, host string) (remote.Usage, error)
}

// Config tunes the provisioning pipeline.
type Config struct {
	SubnetCIDR       string        `mapstructure:"subnet_cidr"`
	ListenPort       int           `mapstructure:"listen_port"`
	AllowedIPs       string        `mapstructure:"allowed_ips"`
	KeepaliveSec     int           `mapstructure:"keepalive_sec"`
	ProvisionTimeout time.Duration `mapstructure:"provision_timeout"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	SSHPublicKeys    []string      `mapstructure:"ssh_public_keys"`
}

// DefaultConfig returns the provisioning defaults.
func DefaultConfig() Config {
	return Config{
		SubnetCIDR:       "10.66.0.0/24",
		ListenPort:       51820,
		AllowedIPs:       "0.0.0.0/0",
		KeepaliveSec:     25,
		ProvisionTimeout: 10 * time.Minute,
		ReadyTimeout:     5 * time.Minute,
		PollInterval:     10 * time.Second,
		MaxConcurrent:    4,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.SubnetCIDR == "" {
		c.SubnetCIDR = d.SubnetCIDR
	}
	if c.ListenPort == 0 {
		c.ListenPort = d.ListenPort
	}
	if c.AllowedIPs == "" {
		c.AllowedIPs = d.AllowedIPs
	}
	if c.KeepaliveSec == 0 {
		c.KeepaliveSec = d.KeepaliveSec
	}
	if c.ProvisionTimeout == 0 {
		c.ProvisionTimeout = d.ProvisionTimeout
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
}

// Orchestrator coordinates the store, providers and remote execution.
type Orchestrator struct {
	store     db.Store
	providers *provider.Registry
	remote    Configurator
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config

	locks lockRegistry
	// bounds concurrent provisioning pipelines
	sem chan struct{}
}

// New creates an Orchestrator.
func New(store db.Store, providers *provider.Registry, configurator Configurator,
	bus *events.Bus, m *metrics.Metrics, config Config, logger *slog.Logger) *Orchestrator {

	config.withDefaults()
	return &Orchestrator{
		store:     store,
		providers: providers,
		remote:    configurator,
		bus:       bus,
		metrics:   m,
		logger:    logger,
		config:    config,
		sem:       make(chan struct{}, config.MaxConcurrent),
	}
}

// GetServer returns one server by ID.
func (o *Orchestrator) GetServer(ctx context.Context, id string) (*server.Server, error) {
	row, err := o.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// ListServers returns the whole fleet.
func (o *Orchestrator) ListServers(ctx context.Context) ([]*server.Server, error) {
	rows, err := o.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*server.Server, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToDomain())
	}
	return out, nil
}

// transition performs a checked, compare-and-set status change and publishes
// the corresponding event.
func (o *Orchestrator) transition(ctx context.Context, srv *server.Server, to server.Status, cause string) error {
	if !srv.Status.CanTransitionTo(to) {
		return server.NewTransitionError(srv.ID, srv.Status, to)
	}

	if err := o.store.CasServerStatus(ctx, db.CasServerStatusParams{
		ID:         srv.ID,
		FromStatus: string(srv.Status),
		ToStatus:   string(to),
	}); err != nil {
		return err
	}

	from := srv.Status
	srv.Status = to
	o.updateStatusGauges(ctx)

	if err := o.bus.PublishStatusChanged(srv.ID, srv.Provider, from, to, cause); err != nil {
		o.logger.Warn("failed to publish transition",
			slog.String("server_id", srv.ID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (o *Orchestrator) updateStatusGauges(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	rows, err := o.store.ListServers(ctx)
	if err != nil {
		return
	}
	counts := make(map[string]float64)
	for _, row := range rows {
		counts[row.Status]++
	}
	for _, status := range []server.Status{
		server.StatusRequested, server.StatusProvisioning, server.StatusConfiguring,
		server.StatusActive, server.StatusIdle, server.StatusDestroying, server.StatusError,
	} {
		o.metrics.ServersByStatus.WithLabelValues(string(status)).Set(counts[string(status)])
	}
}

// lockRegistry hands out one mutex per server so lifecycle operations on the
// same server serialize while different servers proceed in parallel.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (r *lockRegistry) forServer(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := r.locks[id]; !ok {
		r.locks[id] = &sync.Mutex{}
	}
	return r.locks[id]
}

func (r *lockRegistry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, id)
}
