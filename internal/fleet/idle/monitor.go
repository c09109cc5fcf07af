// Package idle watches server activity and moves quiet servers toward
// teardown: active servers go idle after a quiet period, idle servers are
// destroyed after a longer one, and an idle server with fresh traffic
// returns to active.
package idle

import (
	"context"
	"log/slog"
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Lifecycle is the orchestrator surface the monitor drives.
type Lifecycle interface {
	ListServers(ctx context.Context) ([]*server.Server, error)
	CollectActivity(ctx context.Context, srv *server.Server) (time.Time, error)
	MarkIdle(ctx context.Context, id string) error
	MarkActive(ctx context.Context, id string) error
	DestroyServer(ctx context.Context, id string) error
}

// Config tunes the idle policy.
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	IdleAfter    time.Duration `mapstructure:"idle_after"`
	DestroyAfter time.Duration `mapstructure:"destroy_after"`
}

// DefaultConfig returns the idle policy defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		IdleAfter:    15 * time.Minute,
		DestroyAfter: time.Hour,
	}
}

// Monitor periodically sweeps the fleet and applies the idle policy.
type Monitor struct {
	lifecycle Lifecycle
	config    Config
	logger    *slog.Logger

	// injectable clock for tests
	now func() time.Time
}

// NewMonitor creates an idle monitor.
func NewMonitor(lifecycle Lifecycle, config Config, logger *slog.Logger) *Monitor {
	d := DefaultConfig()
	if config.Interval == 0 {
		config.Interval = d.Interval
	}
	if config.IdleAfter == 0 {
		config.IdleAfter = d.IdleAfter
	}
	if config.DestroyAfter == 0 {
		config.DestroyAfter = d.DestroyAfter
	}

	return &Monitor{
		lifecycle: lifecycle,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the sweep loop. Blocks until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Info("idle monitor started",
		slog.Duration("interval", m.config.Interval),
		slog.Duration("idle_after", m.config.IdleAfter),
		slog.Duration("destroy_after", m.config.DestroyAfter))

	m.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("idle monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep applies the idle policy to every server once.
func (m *Monitor) Sweep(ctx context.Context) {
	servers, err := m.lifecycle.ListServers(ctx)
	if err != nil {
		m.logger.Error("failed to list servers", slog.String("error", err.Error()))
		return
	}

	for _, srv := range servers {
		if err := m.check(ctx, srv); err != nil {
			m.logger.Error("idle check failed",
				slog.String("server_id", srv.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (m *Monitor) check(ctx context.Context, srv *server.Server) error {
	switch srv.Status {
	case server.StatusActive, server.StatusIdle:
	default:
		return nil
	}

	lastActivity, err := m.lifecycle.CollectActivity(ctx, srv)
	if err != nil {
		// unreachable host: fall back to the stored timestamp rather than
		// destroying a server we cannot observe
		m.logger.Warn("could not read activity, using stored timestamp",
			slog.String("server_id", srv.ID),
			slog.String("error", err.Error()))
		if srv.LastActivityAt == nil {
			return nil
		}
		lastActivity = *srv.LastActivityAt
	}

	quiet := m.now().Sub(lastActivity)

	switch srv.Status {
	case server.StatusActive:
		if quiet >= m.config.IdleAfter {
			m.logger.Info("server went quiet",
				slog.String("server_id", srv.ID),
				slog.Duration("quiet_for", quiet))
			return m.lifecycle.MarkIdle(ctx, srv.ID)
		}
	case server.StatusIdle:
		if quiet < m.config.IdleAfter {
			m.logger.Info("traffic returned to idle server", slog.String("server_id", srv.ID))
			return m.lifecycle.MarkActive(ctx, srv.ID)
		}
		if quiet >= m.config.DestroyAfter {
			m.logger.Info("idle server expired, destroying",
				slog.String("server_id", srv.ID),
				slog.Duration("quiet_for", quiet))
			return m.lifecycle.DestroyServer(ctx, srv.ID)
		}
	}
	return nil
}
