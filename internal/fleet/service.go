// Package fleet wires the fleet manager components together and manages
// their lifecycle.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/ssh"

	"github.com/vpnfleet/vpnfleet/internal/fleet/api"
	"github.com/vpnfleet/vpnfleet/internal/fleet/config"
	"github.com/vpnfleet/vpnfleet/internal/fleet/db"
	"github.com/vpnfleet/vpnfleet/internal/fleet/events"
	"github.com/vpnfleet/vpnfleet/internal/fleet/idle"
	"github.com/vpnfleet/vpnfleet/internal/fleet/metrics"
	"github.com/vpnfleet/vpnfleet/internal/fleet/orchestrator"
	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/remote"
)

// Service coordinates all fleet manager components and manages their
// lifecycle.
type Service struct {
	config       *config.Config
	logger       *slog.Logger
	store        db.Store
	pool         *remote.Pool
	orchestrator *orchestrator.Orchestrator
	monitor      *idle.Monitor
	apiServer    *api.Server

	ctx    context.Context
	cancel context.CancelFunc

	signalChan chan os.Signal
	shutdownWg sync.WaitGroup
	isRunning  bool
	mu         sync.Mutex
}

// NewService creates a Service and initializes all components in dependency
// order.
func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),
	}

	if err := s.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}
	return s, nil
}

func (s *Service) initializeComponents() error {
	s.logger.Debug("initializing database store", slog.String("path", s.config.DB.Path))
	store, err := db.NewStore(&s.config.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}
	s.store = store

	privateKey, err := os.ReadFile(s.config.SSH.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read SSH private key from %s: %w", s.config.SSH.PrivateKeyPath, err)
	}
	publicKey, err := derivePublicKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to derive SSH public key: %w", err)
	}

	registry, err := s.buildProviderRegistry()
	if err != nil {
		return err
	}

	s.pool = remote.NewPool(s.config.SSH.User, string(privateKey), s.logger, s.config.SSH.MaxIdle)
	executor := remote.NewExecutor(s.pool, s.logger)

	bus := events.NewBus(s.logger)
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	fleetConfig := s.config.Fleet
	fleetConfig.SSHPublicKeys = []string{publicKey}
	s.orchestrator = orchestrator.New(s.store, registry, executor, bus, m, fleetConfig, s.logger)

	s.monitor = idle.NewMonitor(s.orchestrator, s.config.Idle, s.logger)

	s.apiServer = api.NewServer(api.ServerConfig{Address: s.config.API.ListenAddr},
		s.orchestrator, promRegistry, s.logger)

	s.logger.Info("service components initialized",
		slog.Any("providers", registry.Names()))
	return nil
}

// buildProviderRegistry registers every vendor that has credentials.
func (s *Service) buildProviderRegistry() (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if s.config.Providers.Hetzner.Token != "" {
		p, err := provider.NewHetzner(&s.config.Providers.Hetzner, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize hetzner provider: %w", err)
		}
		registry.Register(p)
	}
	if s.config.Providers.Vultr.APIKey != "" {
		p, err := provider.NewVultr(&s.config.Providers.Vultr, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vultr provider: %w", err)
		}
		registry.Register(p)
	}
	if s.config.Providers.Linode.Token != "" {
		p, err := provider.NewLinode(&s.config.Providers.Linode, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize linode provider: %w", err)
		}
		registry.Register(p)
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no provider credentials configured")
	}
	return registry, nil
}

// Start reconciles leftover state and starts all components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.logger.Info("starting fleet manager")
	s.setupSignalHandling()

	// compensate pipelines interrupted by the previous shutdown before
	// accepting new work
	if err := s.orchestrator.Reconcile(s.ctx); err != nil {
		s.logger.Error("reconciliation finished with errors", slog.String("error", err.Error()))
	}

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.monitor.Start(s.ctx)
	}()

	s.pool.StartCleanupRoutine(s.ctx)

	if err := s.apiServer.Start(s.ctx); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start API server: %w", err)
	}

	s.isRunning = true
	s.logger.Info("fleet manager started", slog.String("address", s.config.API.ListenAddr))
	return nil
}

func (s *Service) setupSignalHandling() {
	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)

	s.shutdownWg.Add(1)
	go s.handleSignals()
}

func (s *Service) handleSignals() {
	defer s.shutdownWg.Done()

	select {
	case sig := <-s.signalChan:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("error during graceful shutdown", slog.String("error", err.Error()))
		}
	case <-s.ctx.Done():
	}
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.config.Service.ShutdownTimeout > 0 {
		return s.config.Service.ShutdownTimeout
	}
	return 30 * time.Second
}

// WaitForShutdown blocks until the service has shut down.
func (s *Service) WaitForShutdown() {
	s.shutdownWg.Wait()
}

// Stop shuts down all components in reverse dependency order. Servers keep
// running; the idle monitor picks them up again after restart.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.logger.Info("stopping fleet manager")
	signal.Stop(s.signalChan)

	var lastErr error
	if err := s.apiServer.Stop(ctx); err != nil {
		s.logger.Error("failed to stop API server", slog.String("error", err.Error()))
		lastErr = err
	}

	// stops the idle monitor and the connection cleanup routine
	s.cancel()

	s.pool.CloseAll()

	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close database store", slog.String("error", err.Error()))
		lastErr = err
	}

	s.isRunning = false
	s.logger.Info("fleet manager stopped")
	return lastErr
}

// Health reports whether the service and its database are reachable.
func (s *Service) Health() error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()

	if !running {
		return fmt.Errorf("service is not running")
	}
	if err := s.store.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// derivePublicKey computes the authorized_keys form of the private key so
// providers can preinstall it on new instances.
func derivePublicKey(privateKey []byte) (string, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}
