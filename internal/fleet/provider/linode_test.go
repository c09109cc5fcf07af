package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLinode(t *testing.T, handler http.Handler) *Linode {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	l, err := NewLinode(&LinodeConfig{Token: "test-token", BaseURL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return l
}

func TestLinodeCreateInstance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /linode/instances", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("X-Filter"), "srv-2")
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	mux.HandleFunc("POST /linode/instances", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "eu-central", body["region"])
		assert.Equal(t, "g6-nanode-1", body["type"])
		assert.NotEmpty(t, body["root_pass"])

		json.NewEncoder(w).Encode(map[string]any{"id": 4242, "status": "provisioning"})
	})

	l := newTestLinode(t, mux)
	id, err := l.CreateInstance(context.Background(), CreateRequest{
		Name:           "fleet-eu-1",
		Region:         "eu-central",
		Plan:           "g6-nanode-1",
		SSHPublicKeys:  []string{"ssh-ed25519 AAAA test"},
		IdempotencyKey: "srv-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
}

func TestLinodeGetInstanceStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /linode/instances/4242", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": 4242, "status": "running", "ipv4": []string{"198.51.100.4"},
		})
	})
	mux.HandleFunc("GET /linode/instances/7", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"reason":"Not found"}]}`, http.StatusNotFound)
	})

	l := newTestLinode(t, mux)

	inst, err := l.GetInstanceStatus(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, inst.State)
	assert.Equal(t, "198.51.100.4", inst.PublicIP)

	inst, err = l.GetInstanceStatus(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, inst.State)
}

func TestLinodeDestroyInstanceTolerates404(t *testing.T) {
	l := newTestLinode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"reason":"Not found"}]}`, http.StatusNotFound)
	}))

	require.NoError(t, l.DestroyInstance(context.Background(), "4242"))
}
