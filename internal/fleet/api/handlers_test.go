package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnfleet/vpnfleet/internal/fleet/orchestrator"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
	"github.com/vpnfleet/vpnfleet/pkg/api"
)

type fakeFleet struct {
	servers map[string]*server.Server
	peers   map[string][]*server.PeerProfile

	createErr  error
	addPeerErr error
	destroyed  []string
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		servers: make(map[string]*server.Server),
		peers:   make(map[string][]*server.PeerProfile),
	}
}

func (f *fakeFleet) CreateServerAsync(_ context.Context, req orchestrator.CreateServerRequest) (*server.Server, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	srv := &server.Server{
		ID:         "srv-1",
		Provider:   req.Provider,
		Region:     req.Region,
		Plan:       req.Plan,
		Status:     server.StatusRequested,
		SubnetCIDR: "10.66.0.0/24",
		ListenPort: 51820,
		CreatedAt:  time.Now().UTC(),
	}
	f.servers[srv.ID] = srv
	return srv, nil
}

func (f *fakeFleet) GetServer(_ context.Context, id string) (*server.Server, error) {
	srv, ok := f.servers[id]
	if !ok {
		return nil, server.ErrServerNotFound
	}
	return srv, nil
}

func (f *fakeFleet) ListServers(_ context.Context) ([]*server.Server, error) {
	out := make([]*server.Server, 0, len(f.servers))
	for _, srv := range f.servers {
		out = append(out, srv)
	}
	return out, nil
}

func (f *fakeFleet) RetryServer(_ context.Context, id string) (*server.Server, error) {
	srv, ok := f.servers[id]
	if !ok {
		return nil, server.ErrServerNotFound
	}
	if srv.Status != server.StatusError {
		return nil, server.NewTransitionError(id, srv.Status, server.StatusRequested)
	}
	srv.Status = server.StatusRequested
	return srv, nil
}

func (f *fakeFleet) DestroyServer(_ context.Context, id string) error {
	delete(f.servers, id)
	f.destroyed = append(f.destroyed, id)
	return nil
}

func (f *fakeFleet) AddPeer(_ context.Context, serverID, name string) (*orchestrator.PeerResult, error) {
	if f.addPeerErr != nil {
		return nil, f.addPeerErr
	}
	if _, ok := f.servers[serverID]; !ok {
		return nil, server.ErrServerNotFound
	}
	profile := &server.PeerProfile{
		ID:              "peer-1",
		ServerID:        serverID,
		Name:            name,
		PublicKey:       "pubkey",
		AssignedAddress: "10.66.0.2",
		CreatedAt:       time.Now().UTC(),
	}
	f.peers[serverID] = append(f.peers[serverID], profile)
	return &orchestrator.PeerResult{Profile: profile, ClientConfig: "[Interface]\n"}, nil
}

func (f *fakeFleet) RemovePeer(_ context.Context, serverID, name string) error {
	for i, p := range f.peers[serverID] {
		if p.Name == name {
			f.peers[serverID] = append(f.peers[serverID][:i], f.peers[serverID][i+1:]...)
			return nil
		}
	}
	return server.ErrPeerNotFound
}

func (f *fakeFleet) ListPeers(_ context.Context, serverID string) ([]*server.PeerProfile, error) {
	if _, ok := f.servers[serverID]; !ok {
		return nil, server.ErrServerNotFound
	}
	return f.peers[serverID], nil
}

func (f *fakeFleet) GetPeerConfig(_ context.Context, serverID, name string) (string, error) {
	for _, p := range f.peers[serverID] {
		if p.Name == name {
			return "[Interface]\n", nil
		}
	}
	return "", server.ErrPeerNotFound
}

func newTestServer(t *testing.T, fleet Fleet) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(ServerConfig{Address: ":0"}, fleet, nil, logger)
	ts := httptest.NewServer(s.registerRoutes(http.NewServeMux()))
	t.Cleanup(ts.Close)
	return ts
}

func decodeResponse[T any](t *testing.T, resp *http.Response) api.Response[T] {
	t.Helper()
	defer resp.Body.Close()
	var out api.Response[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func TestCreateServerAccepted(t *testing.T) {
	fleet := newFakeFleet()
	ts := newTestServer(t, fleet)

	resp := postJSON(t, ts.URL+"/api/v1/servers", api.CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	out := decodeResponse[api.ServerInfo](t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, "srv-1", out.Data.ID)
	assert.Equal(t, "requested", out.Data.Status)
	assert.Empty(t, out.Data.PublicIP)
}

func TestCreateServerRejectsMissingFields(t *testing.T) {
	ts := newTestServer(t, newFakeFleet())

	resp := postJSON(t, ts.URL+"/api/v1/servers", api.CreateServerRequest{Provider: "hetzner"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decodeResponse[any](t, resp)
	assert.False(t, out.Success)
	assert.Equal(t, "invalid_request", out.Error.Code)
}

func TestGetServerNotFound(t *testing.T) {
	ts := newTestServer(t, newFakeFleet())

	resp, err := http.Get(ts.URL + "/api/v1/servers/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	out := decodeResponse[any](t, resp)
	assert.Equal(t, "server_not_found", out.Error.Code)
}

func TestListServers(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	ts := newTestServer(t, fleet)

	resp, err := http.Get(ts.URL + "/api/v1/servers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeResponse[api.ServersListResponse](t, resp)
	assert.Equal(t, 1, out.Data.TotalCount)
}

func TestAddPeerOnPendingServerConflicts(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusProvisioning}
	fleet.addPeerErr = server.ErrServerNotReady
	ts := newTestServer(t, fleet)

	resp := postJSON(t, ts.URL+"/api/v1/servers/srv-1/peers", api.AddPeerRequest{Name: "alice"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))

	out := decodeResponse[any](t, resp)
	assert.Equal(t, "server_not_ready", out.Error.Code)
}

func TestAddPeerReturnsClientConfig(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	ts := newTestServer(t, fleet)

	resp := postJSON(t, ts.URL+"/api/v1/servers/srv-1/peers", api.AddPeerRequest{Name: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	out := decodeResponse[api.AddPeerResponse](t, resp)
	assert.Equal(t, "alice", out.Data.Peer.Name)
	assert.Equal(t, "10.66.0.2", out.Data.Peer.AssignedAddress)
	assert.NotEmpty(t, out.Data.ClientConfig)
}

func TestPeerNameConflictMapsTo409(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	fleet.addPeerErr = server.ErrPeerNameConflict
	ts := newTestServer(t, fleet)

	resp := postJSON(t, ts.URL+"/api/v1/servers/srv-1/peers", api.AddPeerRequest{Name: "alice"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	out := decodeResponse[any](t, resp)
	assert.Equal(t, "peer_name_conflict", out.Error.Code)
}

func TestAddPeerOnFullSubnetMapsTo409(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	fleet.addPeerErr = wgconf.ErrAddressSpaceExhausted
	ts := newTestServer(t, fleet)

	resp := postJSON(t, ts.URL+"/api/v1/servers/srv-1/peers", api.AddPeerRequest{Name: "alice"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	out := decodeResponse[any](t, resp)
	assert.Equal(t, "address_space_exhausted", out.Error.Code)
}

func TestRemovePeer(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	fleet.peers["srv-1"] = []*server.PeerProfile{{Name: "alice"}}
	ts := newTestServer(t, fleet)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/servers/srv-1/peers/alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Empty(t, fleet.peers["srv-1"])
}

func TestDestroyServer(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	ts := newTestServer(t, fleet)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/servers/srv-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, []string{"srv-1"}, fleet.destroyed)
}

func TestRetryServerRequiresErrorStatus(t *testing.T) {
	fleet := newFakeFleet()
	fleet.servers["srv-1"] = &server.Server{ID: "srv-1", Status: server.StatusActive}
	ts := newTestServer(t, fleet)

	resp := postJSON(t, ts.URL+"/api/v1/servers/srv-1/retry", struct{}{})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	out := decodeResponse[any](t, resp)
	assert.Equal(t, "invalid_transition", out.Error.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeFleet())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	out := decodeResponse[api.HealthResponse](t, resp)
	assert.Equal(t, "healthy", out.Data.Status)
}
