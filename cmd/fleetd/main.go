package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vpnfleet/vpnfleet/internal/fleet"
	"github.com/vpnfleet/vpnfleet/internal/fleet/config"
	"github.com/vpnfleet/vpnfleet/pkg/logger"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx := context.Background()
	log := logger.NewProduction("fleetd", version)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.ErrorContext(ctx, "failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log = logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
		Component: "fleetd",
		Version:   version,
	})

	service, err := fleet.NewService(cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "failed to create service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		log.ErrorContext(ctx, "failed to start service", slog.String("error", err.Error()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stopErr := service.Stop(shutdownCtx); stopErr != nil {
			log.ErrorContext(ctx, "cleanup after failed start also failed", slog.String("error", stopErr.Error()))
		}
		os.Exit(1)
	}

	service.WaitForShutdown()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadWithPath(path)
	}
	return config.NewLoader().Load()
}
