package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnfleet/vpnfleet/pkg/api"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestCreateServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/servers", r.URL.Path)

		var req api.CreateServerRequest
		require.NoError(t, jsonDecode(r, &req))
		assert.Equal(t, "hetzner", req.Provider)

		w.WriteHeader(http.StatusAccepted)
		writeJSON(t, w, api.Response[api.ServerInfo]{
			Success: true,
			Data:    api.ServerInfo{ID: "srv-1", Status: "requested"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL)
	srv, err := c.CreateServer(context.Background(), api.CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", srv.ID)
	assert.Equal(t, "requested", srv.Status)
}

func TestErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, api.Response[any]{
			Success: false,
			Error:   &api.ErrorInfo{Code: "server_not_found", Message: "server not found"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.GetServer(context.Background(), "missing")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "server_not_found", apiErr.Code)
}

func TestGetPeerConfig(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/servers/srv-1/peers/alice/config", r.URL.Path)
		writeJSON(t, w, api.Response[api.PeerConfigResponse]{
			Success: true,
			Data:    api.PeerConfigResponse{ClientConfig: "[Interface]\n"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL)
	config, err := c.GetPeerConfig(context.Background(), "srv-1", "alice")
	require.NoError(t, err)
	assert.Contains(t, config, "[Interface]")
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
