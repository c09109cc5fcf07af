package provider

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultLinodeBaseURL = "https://api.linode.com/v4"

// LinodeConfig contains configuration for the Linode adapter.
type LinodeConfig struct {
	Token   string `mapstructure:"token"`
	Image   string `mapstructure:"image"`
	BaseURL string `mapstructure:"base_url"`
}

// Linode implements Provider against the Linode v4 REST API.
type Linode struct {
	config *LinodeConfig
	http   *http.Client
	logger *slog.Logger
}

// NewLinode creates a new Linode adapter.
func NewLinode(config *LinodeConfig, logger *slog.Logger) (*Linode, error) {
	if config == nil || config.Token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultLinodeBaseURL
	}
	if config.Image == "" {
		config.Image = "linode/ubuntu24.04"
	}

	return &Linode{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// Name implements Provider.
func (l *Linode) Name() string { return "linode" }

type linodeInstance struct {
	ID     int      `json:"id"`
	Label  string   `json:"label"`
	Status string   `json:"status"`
	IPv4   []string `json:"ipv4"`
	Tags   []string `json:"tags"`
}

// CreateInstance creates a Linode tagged with the idempotency key. An
// existing Linode carrying the tag is returned instead of creating a
// duplicate.
func (l *Linode) CreateInstance(ctx context.Context, req CreateRequest) (string, error) {
	existing, err := l.findByTag(ctx, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if existing != "" {
		l.logger.Info("Reusing existing Linode",
			slog.String("instance_id", existing),
			slog.String("fleet_id", req.IdempotencyKey))
		return existing, nil
	}

	// Linode requires a root password even when key auth is configured.
	rootPass, err := randomPassword()
	if err != nil {
		return "", fmt.Errorf("failed to generate root password: %w", err)
	}

	body := map[string]any{
		"region":          req.Region,
		"type":            req.Plan,
		"image":           l.config.Image,
		"label":           req.Name,
		"tags":            []string{req.IdempotencyKey},
		"root_pass":       rootPass,
		"authorized_keys": req.SSHPublicKeys,
		"booted":          true,
	}
	if req.UserData != "" {
		body["metadata"] = map[string]any{
			"user_data": base64.StdEncoding.EncodeToString([]byte(req.UserData)),
		}
	}

	var out linodeInstance
	if err := l.do(ctx, http.MethodPost, "/linode/instances", nil, body, &out); err != nil {
		return "", err
	}

	instanceID := strconv.Itoa(out.ID)
	l.logger.Info("Linode created", slog.String("instance_id", instanceID))
	return instanceID, nil
}

// GetInstanceStatus implements Provider.
func (l *Linode) GetInstanceStatus(ctx context.Context, instanceID string) (Instance, error) {
	var out linodeInstance
	err := l.do(ctx, http.MethodGet, "/linode/instances/"+url.PathEscape(instanceID), nil, nil, &out)
	if err != nil {
		if isNotFound(err) {
			return Instance{ID: instanceID, State: StateNotFound}, nil
		}
		return Instance{}, err
	}

	inst := Instance{ID: instanceID, State: mapLinodeStatus(out.Status)}
	if len(out.IPv4) > 0 {
		inst.PublicIP = out.IPv4[0]
	}
	return inst, nil
}

// DestroyInstance implements Provider. A 404 counts as already destroyed.
func (l *Linode) DestroyInstance(ctx context.Context, instanceID string) error {
	err := l.do(ctx, http.MethodDelete, "/linode/instances/"+url.PathEscape(instanceID), nil, nil, nil)
	if err != nil {
		if isNotFound(err) {
			l.logger.Debug("Linode already gone", slog.String("instance_id", instanceID))
			return nil
		}
		return err
	}
	l.logger.Info("Linode destroyed", slog.String("instance_id", instanceID))
	return nil
}

func (l *Linode) findByTag(ctx context.Context, tag string) (string, error) {
	if tag == "" {
		return "", nil
	}
	filter, err := json.Marshal(map[string]string{"tags": tag})
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}

	var out struct {
		Data []linodeInstance `json:"data"`
	}
	headers := map[string]string{"X-Filter": string(filter)}
	if err := l.do(ctx, http.MethodGet, "/linode/instances", headers, nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", nil
	}
	return strconv.Itoa(out.Data[0].ID), nil
}

func (l *Linode) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.config.Token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return NewProviderError(l.Name(), method+" "+path, "request failed",
			fmt.Errorf("%w: %v", ErrNetworkTimeout, err), true)
	}
	defer resp.Body.Close()

	if err := classifyHTTPStatus(l.Name(), method+" "+path, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewProviderError(l.Name(), method+" "+path, "failed to decode response", err, false)
	}
	return nil
}

func mapLinodeStatus(status string) InstanceState {
	switch status {
	case "running":
		return StateRunning
	case "provisioning", "booting", "rebooting", "migrating", "offline":
		return StatePending
	case "deleting":
		return StateNotFound
	default:
		return StateError
	}
}

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ Provider = (*Linode)(nil)
