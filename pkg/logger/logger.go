package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logger construction options.
type Config struct {
	Level     string `mapstructure:"level"`
	Format    Format `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
	Component string `mapstructure:"component"`
	Version   string `mapstructure:"version"`
}

// New builds a *slog.Logger: JSON handler for production, tint for text.
// Component and version are attached as base attributes when set.
func New(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			AddSource:  cfg.AddSource,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		})
	}

	log := slog.New(handler)
	if cfg.Component != "" {
		log = log.With(slog.String("component", cfg.Component))
	}
	if cfg.Version != "" {
		log = log.With(slog.String("version", cfg.Version))
	}
	return log
}

// NewDevelopment builds a colorized debug-level logger for local use.
func NewDevelopment(component string) *slog.Logger {
	return New(Config{Level: "debug", Format: FormatText, AddSource: true, Component: component})
}

// NewProduction builds a JSON info-level logger.
func NewProduction(component, version string) *slog.Logger {
	return New(Config{Level: "info", Format: FormatJSON, Component: component, Version: version})
}

// ParseLevel maps a config string to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
