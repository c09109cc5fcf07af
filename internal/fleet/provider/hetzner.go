package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

const hetznerFleetLabel = "fleet-server-id"

// HetznerConfig contains configuration for the Hetzner adapter.
type HetznerConfig struct {
	Token string `mapstructure:"token"`
	Image string `mapstructure:"image"`
}

// Hetzner implements Provider for Hetzner Cloud.
type Hetzner struct {
	client *hcloud.Client
	config *HetznerConfig
	logger *slog.Logger
}

// NewHetzner creates a new Hetzner adapter.
func NewHetzner(config *HetznerConfig, logger *slog.Logger) (*Hetzner, error) {
	if config == nil || config.Token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	if config.Image == "" {
		config.Image = "ubuntu-24.04"
	}

	return &Hetzner{
		client: hcloud.NewClient(hcloud.WithToken(config.Token)),
		config: config,
		logger: logger,
	}, nil
}

// Name implements Provider.
func (h *Hetzner) Name() string { return "hetzner" }

// CreateInstance creates a server labeled with the idempotency key. If a
// server with that label already exists its ID is returned instead of
// creating a duplicate.
func (h *Hetzner) CreateInstance(ctx context.Context, req CreateRequest) (string, error) {
	existing, err := h.findByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if existing != "" {
		h.logger.Info("Reusing existing Hetzner server",
			slog.String("server_id", existing),
			slog.String("fleet_id", req.IdempotencyKey))
		return existing, nil
	}

	var sshKeys []*hcloud.SSHKey
	for _, key := range req.SSHPublicKeys {
		uploaded, err := h.ensureSSHKey(ctx, req.IdempotencyKey, key)
		if err != nil {
			return "", err
		}
		sshKeys = append(sshKeys, uploaded)
	}

	h.logger.Info("Creating Hetzner server",
		slog.String("server_name", req.Name),
		slog.String("server_type", req.Plan),
		slog.String("location", req.Region))

	result, _, err := h.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       req.Name,
		ServerType: &hcloud.ServerType{Name: req.Plan},
		Image:      &hcloud.Image{Name: h.config.Image},
		Location:   &hcloud.Location{Name: req.Region},
		PublicNet: &hcloud.ServerCreatePublicNet{
			EnableIPv4: true,
			EnableIPv6: false,
		},
		SSHKeys:  sshKeys,
		UserData: req.UserData,
		Labels:   map[string]string{hetznerFleetLabel: req.IdempotencyKey},
	})
	if err != nil {
		return "", h.wrapError("create", "failed to create server", err)
	}

	instanceID := strconv.FormatInt(result.Server.ID, 10)
	h.logger.Info("Hetzner server created", slog.String("server_id", instanceID))
	return instanceID, nil
}

// GetInstanceStatus implements Provider.
func (h *Hetzner) GetInstanceStatus(ctx context.Context, instanceID string) (Instance, error) {
	id, err := strconv.ParseInt(instanceID, 10, 64)
	if err != nil {
		return Instance{}, fmt.Errorf("invalid instance ID %q: %w", instanceID, err)
	}

	srv, _, err := h.client.Server.GetByID(ctx, id)
	if err != nil {
		return Instance{}, h.wrapError("status", "failed to look up server", err)
	}
	if srv == nil {
		return Instance{ID: instanceID, State: StateNotFound}, nil
	}

	inst := Instance{ID: instanceID, State: mapHetznerStatus(srv.Status)}
	if !srv.PublicNet.IPv4.IsUnspecified() {
		inst.PublicIP = srv.PublicNet.IPv4.IP.String()
	}
	return inst, nil
}

// DestroyInstance implements Provider. A server that no longer exists counts
// as destroyed.
func (h *Hetzner) DestroyInstance(ctx context.Context, instanceID string) error {
	id, err := strconv.ParseInt(instanceID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid instance ID %q: %w", instanceID, err)
	}

	_, _, err = h.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: id})
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			h.logger.Debug("Hetzner server already gone", slog.String("server_id", instanceID))
			return nil
		}
		return h.wrapError("destroy", "failed to delete server", err)
	}

	h.logger.Info("Hetzner server destroyed", slog.String("server_id", instanceID))
	return nil
}

func (h *Hetzner) findByIdempotencyKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	servers, err := h.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{
			LabelSelector: fmt.Sprintf("%s=%s", hetznerFleetLabel, key),
		},
	})
	if err != nil {
		return "", h.wrapError("lookup", "failed to search for existing server", err)
	}
	if len(servers) == 0 {
		return "", nil
	}
	return strconv.FormatInt(servers[0].ID, 10), nil
}

func (h *Hetzner) ensureSSHKey(ctx context.Context, fleetID, publicKey string) (*hcloud.SSHKey, error) {
	name := "fleet-" + fleetID
	existing, _, err := h.client.SSHKey.GetByName(ctx, name)
	if err != nil {
		return nil, h.wrapError("ssh-key", "failed to look up SSH key", err)
	}
	if existing != nil {
		return existing, nil
	}

	created, _, err := h.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      name,
		PublicKey: publicKey,
		Labels:    map[string]string{hetznerFleetLabel: fleetID},
	})
	if err != nil {
		return nil, h.wrapError("ssh-key", "failed to upload SSH key", err)
	}
	return created, nil
}

func (h *Hetzner) wrapError(operation, message string, err error) error {
	retryable := true
	switch {
	case hcloud.IsError(err, hcloud.ErrorCodeUnauthorized):
		err = fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		retryable = false
	case hcloud.IsError(err, hcloud.ErrorCodeResourceLimitExceeded):
		err = fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		retryable = false
	case hcloud.IsError(err, hcloud.ErrorCodeRateLimitExceeded):
		err = fmt.Errorf("%w: %v", ErrAPIRateLimit, err)
	case hcloud.IsError(err, hcloud.ErrorCodeInvalidInput):
		retryable = false
	}
	return NewProviderError(h.Name(), operation, message, err, retryable)
}

func mapHetznerStatus(status hcloud.ServerStatus) InstanceState {
	switch status {
	case hcloud.ServerStatusRunning:
		return StateRunning
	case hcloud.ServerStatusInitializing, hcloud.ServerStatusStarting, hcloud.ServerStatusOff:
		return StatePending
	case hcloud.ServerStatusDeleting:
		return StateNotFound
	default:
		return StateError
	}
}

var _ Provider = (*Hetzner)(nil)
