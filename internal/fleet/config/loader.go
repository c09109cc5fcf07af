package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment
// variables.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables. YAML files
// take precedence, then ENV variables override.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/vpnfleet")
	l.v.AddConfigPath("$HOME/.vpnfleet")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("VPNFLEET")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	// a missing config file is fine, defaults and ENV carry the rest
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	l.v.SetDefault("api.listen_addr", ":8080")

	l.v.SetDefault("db.path", "./data/fleet.db")
	l.v.SetDefault("db.max_open_conns", 25)
	l.v.SetDefault("db.max_idle_conns", 5)
	l.v.SetDefault("db.conn_max_lifetime", 300)

	l.v.SetDefault("service.shutdown_timeout", "30s")

	l.v.SetDefault("fleet.subnet_cidr", "10.66.0.0/24")
	l.v.SetDefault("fleet.listen_port", 51820)
	l.v.SetDefault("fleet.allowed_ips", "0.0.0.0/0")
	l.v.SetDefault("fleet.keepalive_sec", 25)
	l.v.SetDefault("fleet.provision_timeout", "10m")
	l.v.SetDefault("fleet.ready_timeout", "5m")
	l.v.SetDefault("fleet.poll_interval", "10s")
	l.v.SetDefault("fleet.max_concurrent", 4)

	l.v.SetDefault("idle.interval", "1m")
	l.v.SetDefault("idle.idle_after", "15m")
	l.v.SetDefault("idle.destroy_after", "1h")

	l.v.SetDefault("ssh.user", "root")
	l.v.SetDefault("ssh.max_idle", "5m")

	l.v.SetDefault("providers.hetzner.image", "ubuntu-24.04")
	l.v.SetDefault("providers.linode.image", "linode/ubuntu24.04")
}

// LoadWithPath loads configuration from a specific file path.
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	return loader.Load()
}
