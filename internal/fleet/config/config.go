// Package config defines the fleet manager configuration and its loader.
// Provider credentials live only here (file or environment); they are never
// written into server records.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/db"
	"github.com/vpnfleet/vpnfleet/internal/fleet/idle"
	"github.com/vpnfleet/vpnfleet/internal/fleet/orchestrator"
	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/pkg/logger"
)

// Config is the full fleet manager configuration.
type Config struct {
	Service   ServiceConfig       `mapstructure:"service"`
	Log       logger.Config       `mapstructure:"log"`
	API       APIConfig           `mapstructure:"api"`
	DB        db.Config           `mapstructure:"db"`
	Fleet     orchestrator.Config `mapstructure:"fleet"`
	Idle      idle.Config         `mapstructure:"idle"`
	SSH       SSHConfig           `mapstructure:"ssh"`
	Providers ProvidersConfig     `mapstructure:"providers"`
}

// ServiceConfig defines service-level options.
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// APIConfig defines the HTTP API configuration.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// SSHConfig defines remote-access settings for configuring servers.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
}

// ProvidersConfig holds per-vendor credentials. A vendor with no credentials
// is simply not registered.
type ProvidersConfig struct {
	Hetzner provider.HetznerConfig `mapstructure:"hetzner"`
	Vultr   provider.VultrConfig   `mapstructure:"vultr"`
	Linode  provider.LinodeConfig  `mapstructure:"linode"`
}

// Enabled returns the vendor names that have credentials configured.
func (p ProvidersConfig) Enabled() []string {
	var names []string
	if p.Hetzner.Token != "" {
		names = append(names, "hetzner")
	}
	if p.Vultr.APIKey != "" {
		names = append(names, "vultr")
	}
	if p.Linode.Token != "" {
		names = append(names, "linode")
	}
	return names
}

// Validate checks the configuration for correctness and completeness.
func (c *Config) Validate() error {
	if len(c.Providers.Enabled()) == 0 {
		return fmt.Errorf("at least one provider needs credentials (e.g. set VPNFLEET_PROVIDERS_HETZNER_TOKEN)")
	}

	if c.SSH.PrivateKeyPath == "" {
		return fmt.Errorf("ssh.private_key_path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "" && c.Log.Format != logger.FormatJSON && c.Log.Format != logger.FormatText {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", c.Log.Format)
	}

	if c.Fleet.SubnetCIDR != "" {
		if _, _, err := net.ParseCIDR(c.Fleet.SubnetCIDR); err != nil {
			return fmt.Errorf("invalid fleet.subnet_cidr: %w", err)
		}
	}
	if c.Fleet.ListenPort < 0 || c.Fleet.ListenPort > 65535 {
		return fmt.Errorf("invalid fleet.listen_port: %d", c.Fleet.ListenPort)
	}

	if c.Idle.IdleAfter > 0 && c.Idle.DestroyAfter > 0 && c.Idle.DestroyAfter <= c.Idle.IdleAfter {
		return fmt.Errorf("idle.destroy_after must be longer than idle.idle_after")
	}
	if c.Idle.Interval > 0 && c.Idle.Interval < time.Second {
		return fmt.Errorf("idle.interval must be at least 1 second")
	}

	if c.Service.ShutdownTimeout > 0 && c.Service.ShutdownTimeout < time.Second {
		return fmt.Errorf("service.shutdown_timeout must be at least 1 second")
	}

	return nil
}
