// Package client is the HTTP client for the fleet manager API, used by the
// fleetctl command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vpnfleet/vpnfleet/pkg/api"
)

// APIError carries the error payload of a failed API call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to the fleet manager API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateServer requests a new server. The server is provisioned in the
// background; poll GetServer until it reports active.
func (c *Client) CreateServer(ctx context.Context, req api.CreateServerRequest) (*api.ServerInfo, error) {
	return doJSON[api.ServerInfo](ctx, c, http.MethodPost, "/api/v1/servers", req)
}

// GetServer fetches one server by ID.
func (c *Client) GetServer(ctx context.Context, id string) (*api.ServerInfo, error) {
	return doJSON[api.ServerInfo](ctx, c, http.MethodGet, "/api/v1/servers/"+id, nil)
}

// ListServers fetches the whole fleet.
func (c *Client) ListServers(ctx context.Context) (*api.ServersListResponse, error) {
	return doJSON[api.ServersListResponse](ctx, c, http.MethodGet, "/api/v1/servers", nil)
}

// DestroyServer tears a server down.
func (c *Client) DestroyServer(ctx context.Context, id string) error {
	_, err := doJSON[api.MessageResponse](ctx, c, http.MethodDelete, "/api/v1/servers/"+id, nil)
	return err
}

// RetryServer re-runs the pipeline for a server in the error status.
func (c *Client) RetryServer(ctx context.Context, id string) (*api.ServerInfo, error) {
	return doJSON[api.ServerInfo](ctx, c, http.MethodPost, "/api/v1/servers/"+id+"/retry", nil)
}

// AddPeer adds a named peer and returns its one-time client config.
func (c *Client) AddPeer(ctx context.Context, serverID, name string) (*api.AddPeerResponse, error) {
	return doJSON[api.AddPeerResponse](ctx, c, http.MethodPost,
		"/api/v1/servers/"+serverID+"/peers", api.AddPeerRequest{Name: name})
}

// ListPeers fetches the peers of one server.
func (c *Client) ListPeers(ctx context.Context, serverID string) (*api.PeersListResponse, error) {
	return doJSON[api.PeersListResponse](ctx, c, http.MethodGet, "/api/v1/servers/"+serverID+"/peers", nil)
}

// GetPeerConfig re-renders the client config of an existing peer.
func (c *Client) GetPeerConfig(ctx context.Context, serverID, name string) (string, error) {
	resp, err := doJSON[api.PeerConfigResponse](ctx, c, http.MethodGet,
		"/api/v1/servers/"+serverID+"/peers/"+name+"/config", nil)
	if err != nil {
		return "", err
	}
	return resp.ClientConfig, nil
}

// RemovePeer revokes a peer.
func (c *Client) RemovePeer(ctx context.Context, serverID, name string) error {
	_, err := doJSON[api.MessageResponse](ctx, c, http.MethodDelete,
		"/api/v1/servers/"+serverID+"/peers/"+name, nil)
	return err
}

// Health checks the service health endpoint.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	return doJSON[api.HealthResponse](ctx, c, http.MethodGet, "/healthz", nil)
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp api.Response[T]
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode API response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResp.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "unknown", Message: "no error details"}
		if apiResp.Error != nil {
			apiErr.Code = apiResp.Error.Code
			apiErr.Message = apiResp.Error.Message
		}
		return nil, apiErr
	}
	return &apiResp.Data, nil
}
