package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultVultrBaseURL = "https://api.vultr.com/v2"

// VultrConfig contains configuration for the Vultr adapter.
type VultrConfig struct {
	APIKey  string `mapstructure:"api_key"`
	OSID    int    `mapstructure:"os_id"`
	BaseURL string `mapstructure:"base_url"`
}

// Vultr implements Provider against the Vultr v2 REST API. There is no
// official Go SDK in use here; the surface needed is three endpoints.
type Vultr struct {
	config *VultrConfig
	http   *http.Client
	logger *slog.Logger
}

// NewVultr creates a new Vultr adapter.
func NewVultr(config *VultrConfig, logger *slog.Logger) (*Vultr, error) {
	if config == nil || config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultVultrBaseURL
	}
	if config.OSID == 0 {
		config.OSID = 2284 // Ubuntu 24.04 LTS x64
	}

	return &Vultr{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// Name implements Provider.
func (v *Vultr) Name() string { return "vultr" }

type vultrInstance struct {
	ID     string `json:"id"`
	MainIP string `json:"main_ip"`
	Status string `json:"status"`
	Label  string `json:"label"`
	Tag    string `json:"tag"`
}

// CreateInstance creates an instance tagged with the idempotency key. An
// existing instance carrying the tag is returned instead of creating a
// duplicate.
func (v *Vultr) CreateInstance(ctx context.Context, req CreateRequest) (string, error) {
	existing, err := v.findByTag(ctx, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if existing != "" {
		v.logger.Info("Reusing existing Vultr instance",
			slog.String("instance_id", existing),
			slog.String("fleet_id", req.IdempotencyKey))
		return existing, nil
	}

	body := map[string]any{
		"region": req.Region,
		"plan":   req.Plan,
		"os_id":  v.config.OSID,
		"label":  req.Name,
		"tags":   []string{req.IdempotencyKey},
	}
	if req.UserData != "" {
		body["user_data"] = base64.StdEncoding.EncodeToString([]byte(req.UserData))
	}

	var out struct {
		Instance vultrInstance `json:"instance"`
	}
	if err := v.do(ctx, http.MethodPost, "/instances", body, &out); err != nil {
		return "", err
	}

	v.logger.Info("Vultr instance created", slog.String("instance_id", out.Instance.ID))
	return out.Instance.ID, nil
}

// GetInstanceStatus implements Provider.
func (v *Vultr) GetInstanceStatus(ctx context.Context, instanceID string) (Instance, error) {
	var out struct {
		Instance vultrInstance `json:"instance"`
	}
	err := v.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(instanceID), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return Instance{ID: instanceID, State: StateNotFound}, nil
		}
		return Instance{}, err
	}

	inst := Instance{ID: instanceID, State: mapVultrStatus(out.Instance.Status)}
	if out.Instance.MainIP != "" && out.Instance.MainIP != "0.0.0.0" {
		inst.PublicIP = out.Instance.MainIP
	}
	return inst, nil
}

// DestroyInstance implements Provider. A 404 counts as already destroyed.
func (v *Vultr) DestroyInstance(ctx context.Context, instanceID string) error {
	err := v.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(instanceID), nil, nil)
	if err != nil {
		if isNotFound(err) {
			v.logger.Debug("Vultr instance already gone", slog.String("instance_id", instanceID))
			return nil
		}
		return err
	}
	v.logger.Info("Vultr instance destroyed", slog.String("instance_id", instanceID))
	return nil
}

func (v *Vultr) findByTag(ctx context.Context, tag string) (string, error) {
	if tag == "" {
		return "", nil
	}
	var out struct {
		Instances []vultrInstance `json:"instances"`
	}
	if err := v.do(ctx, http.MethodGet, "/instances?tag="+url.QueryEscape(tag), nil, &out); err != nil {
		return "", err
	}
	if len(out.Instances) == 0 {
		return "", nil
	}
	return out.Instances[0].ID, nil
}

func (v *Vultr) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return NewProviderError(v.Name(), method+" "+path, "request failed",
			fmt.Errorf("%w: %v", ErrNetworkTimeout, err), true)
	}
	defer resp.Body.Close()

	if err := classifyHTTPStatus(v.Name(), method+" "+path, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewProviderError(v.Name(), method+" "+path, "failed to decode response", err, false)
	}
	return nil
}

func mapVultrStatus(status string) InstanceState {
	switch status {
	case "active":
		return StateRunning
	case "pending":
		return StatePending
	default:
		return StateError
	}
}

var _ Provider = (*Vultr)(nil)
