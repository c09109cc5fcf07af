package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gookit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnfleet/vpnfleet/internal/fleet/db"
	"github.com/vpnfleet/vpnfleet/internal/fleet/events"
	"github.com/vpnfleet/vpnfleet/internal/fleet/metrics"
	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/remote"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
)

// fakeCloud is an in-memory Provider.
type fakeCloud struct {
	mu        sync.Mutex
	name      string
	nextID    int
	instances map[string]*provider.Instance
	createErr error
	destroyed []string
}

func newFakeCloud(name string) *fakeCloud {
	return &fakeCloud{name: name, instances: make(map[string]*provider.Instance)}
}

func (f *fakeCloud) Name() string { return f.name }

func (f *fakeCloud) CreateInstance(_ context.Context, req provider.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("inst-%d", f.nextID)
	f.instances[id] = &provider.Instance{
		ID:       id,
		State:    provider.StateRunning,
		PublicIP: fmt.Sprintf("203.0.113.%d", f.nextID),
	}
	return id, nil
}

func (f *fakeCloud) GetInstanceStatus(_ context.Context, instanceID string) (provider.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[instanceID]
	if !ok {
		return provider.Instance{ID: instanceID, State: provider.StateNotFound}, nil
	}
	return *inst, nil
}

func (f *fakeCloud) DestroyInstance(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, instanceID)
	f.destroyed = append(f.destroyed, instanceID)
	return nil
}

// fakeHost is an in-memory Configurator.
type fakeHost struct {
	mu         sync.Mutex
	installed  []string
	peersAdded []wgconf.PeerStanza
	removed    []string
	usage      remote.Usage
	installErr error
}

func (f *fakeHost) WaitForReady(context.Context, string, time.Duration) error { return nil }

func (f *fakeHost) InstallWireGuard(_ context.Context, host string, _ remote.InstallParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = append(f.installed, host)
	return nil
}

func (f *fakeHost) AddPeer(_ context.Context, _ string, peer wgconf.PeerStanza) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peersAdded = append(f.peersAdded, peer)
	return nil
}

func (f *fakeHost) RemovePeer(_ context.Context, _, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeHost) FetchUsage(context.Context, string) (remote.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

type fixture struct {
	orch  *Orchestrator
	store db.Store
	cloud *fakeCloud
	host  *fakeHost
	bus   *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	_, store := db.NewTestDB(t)
	cloud := newFakeCloud("hetzner")
	host := &fakeHost{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(logger)

	reg := provider.NewRegistry()
	reg.Register(cloud)

	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.ProvisionTimeout = time.Second
	cfg.ReadyTimeout = time.Second

	orch := New(store, reg, host, bus, metrics.NewUnregistered(), cfg, logger)
	return &fixture{orch: orch, store: store, cloud: cloud, host: host, bus: bus}
}

func TestCreateServerReachesActive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var transitions []string
	fx.bus.Subscribe(events.EventServerStatusChanged, func(e event.Event) error {
		payload, _ := events.Payload[events.ServerStatusChangedEvent](e)
		transitions = append(transitions, payload.From.String()+">"+payload.To.String())
		return nil
	})

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)

	assert.Equal(t, server.StatusActive, srv.Status)
	assert.Equal(t, "203.0.113.1", srv.PublicIP)
	require.NoError(t, srv.CheckInvariants())

	assert.Equal(t, []string{
		"requested>provisioning",
		"provisioning>configuring",
		"configuring>active",
	}, transitions)

	// the stored row agrees with the returned view
	row, err := fx.store.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, string(server.StatusActive), row.Status)
	assert.Equal(t, "203.0.113.1", row.PublicIP.String)
	assert.NotEmpty(t, row.WgPublicKey)
	assert.Equal(t, []string{"203.0.113.1"}, fx.host.installed)
}

func TestPublicIPUnsetBeforeActive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// block activation so the server fails during configuring
	fx.host.installErr = fmt.Errorf("install exploded")

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.Error(t, err)

	row, rowErr := fx.store.GetServer(ctx, srv.ID)
	require.NoError(t, rowErr)
	assert.False(t, row.PublicIP.Valid, "public ip must never be stored before active")
}

func TestProvisioningFailureParksInError(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.cloud.createErr = provider.NewProviderError("hetzner", "create", "out of capacity",
		provider.ErrQuotaExceeded, false)

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrQuotaExceeded)

	var lcErr *server.LifecycleError
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, "provisioning", lcErr.Phase)

	fetched, err := fx.orch.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, server.StatusError, fetched.Status)
	assert.Contains(t, fetched.ErrorCause, "quota")
	assert.Empty(t, fetched.PublicIP)

	// a failed server takes no peers
	_, err = fx.orch.AddPeer(ctx, srv.ID, "alice")
	assert.ErrorIs(t, err, server.ErrServerNotReady)
}

func TestRetryAfterError(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.cloud.createErr = provider.NewProviderError("hetzner", "create", "out of capacity",
		provider.ErrQuotaExceeded, false)
	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.Error(t, err)

	// capacity came back
	fx.cloud.mu.Lock()
	fx.cloud.createErr = nil
	fx.cloud.mu.Unlock()

	retried, err := fx.orch.RetryServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, server.StatusActive, retried.Status)
	assert.NotEmpty(t, retried.PublicIP)
}

func TestConfigureFailureDestroysInstance(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.host.installErr = fmt.Errorf("cloud-init never finished")

	_, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.Error(t, err)

	fx.cloud.mu.Lock()
	defer fx.cloud.mu.Unlock()
	assert.Equal(t, []string{"inst-1"}, fx.cloud.destroyed, "failed pipeline must not leak the instance")
	assert.Empty(t, fx.cloud.instances)
}

func TestAddPeersAllocateAscendingAddresses(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)

	for i, name := range []string{"alice", "bob", "carol"} {
		result, err := fx.orch.AddPeer(ctx, srv.ID, name)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("10.66.0.%d", i+2), result.Profile.AssignedAddress)
		assert.Contains(t, result.ClientConfig, "PrivateKey = ")
		assert.Contains(t, result.ClientConfig, "Endpoint = "+srv.Endpoint())
	}

	// duplicate names are rejected
	_, err = fx.orch.AddPeer(ctx, srv.ID, "alice")
	assert.ErrorIs(t, err, server.ErrPeerNameConflict)

	// removal frees the lowest address for reuse
	require.NoError(t, fx.orch.RemovePeer(ctx, srv.ID, "bob"))
	result, err := fx.orch.AddPeer(ctx, srv.ID, "dave")
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.3", result.Profile.AssignedAddress)
}

func TestConcurrentAddPeerNoCollision(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	addrs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := fx.orch.AddPeer(ctx, srv.ID, fmt.Sprintf("peer%d", i))
			if err == nil {
				addrs <- result.Profile.AssignedAddress
			}
		}(i)
	}
	wg.Wait()
	close(addrs)

	seen := make(map[string]bool)
	for addr := range addrs {
		assert.False(t, seen[addr], "address %s assigned twice", addr)
		seen[addr] = true
	}
	assert.Len(t, seen, n)
}

func TestDestroyServerIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)

	_, err = fx.orch.AddPeer(ctx, srv.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, fx.orch.DestroyServer(ctx, srv.ID))
	require.NoError(t, fx.orch.DestroyServer(ctx, srv.ID), "second destroy succeeds")

	_, err = fx.orch.GetServer(ctx, srv.ID)
	assert.ErrorIs(t, err, server.ErrServerNotFound)

	fx.cloud.mu.Lock()
	defer fx.cloud.mu.Unlock()
	assert.Empty(t, fx.cloud.instances)
}

func TestIdleTransitions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)

	require.NoError(t, fx.orch.MarkIdle(ctx, srv.ID))
	fetched, err := fx.orch.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, server.StatusIdle, fetched.Status)
	assert.NotEmpty(t, fetched.PublicIP, "idle servers keep their address")

	require.NoError(t, fx.orch.MarkActive(ctx, srv.ID))
	fetched, err = fx.orch.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, server.StatusActive, fetched.Status)

	// active to active is not a legal transition
	assert.ErrorIs(t, fx.orch.MarkActive(ctx, srv.ID), server.ErrInvalidTransition)
}

func TestAddPeerRevivesIdleServer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)
	require.NoError(t, fx.orch.MarkIdle(ctx, srv.ID))

	_, err = fx.orch.AddPeer(ctx, srv.ID, "alice")
	require.NoError(t, err)

	fetched, err := fx.orch.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, server.StatusActive, fetched.Status)

	// the request itself counts as activity, so the idle monitor cannot
	// destroy the server before the new client's first handshake
	require.NotNil(t, fetched.LastActivityAt)
	assert.WithinDuration(t, time.Now(), *fetched.LastActivityAt, 10*time.Second)
}

func TestCollectActivityRecordsHandshake(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	srv, err := fx.orch.CreateServer(ctx, CreateServerRequest{
		Provider: "hetzner", Region: "fsn1", Plan: "cx22",
	})
	require.NoError(t, err)

	handshake := time.Now().Add(time.Minute).Truncate(time.Second)
	fx.host.mu.Lock()
	fx.host.usage = remote.Usage{Peers: []remote.PeerUsage{{PublicKey: "p", LastHandshake: handshake}}}
	fx.host.mu.Unlock()

	observed, err := fx.orch.CollectActivity(ctx, srv)
	require.NoError(t, err)
	assert.WithinDuration(t, handshake, observed, time.Second)

	row, err := fx.store.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	require.True(t, row.LastActivityAt.Valid)
	assert.WithinDuration(t, handshake, row.LastActivityAt.Time, time.Second)
}

func TestReconcileCompensatesInterruptedPipeline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// simulate a crash: row stuck in provisioning with a recorded instance
	row, err := fx.store.CreateServer(ctx, db.CreateServerParams{
		ID: "stuck-1", Provider: "hetzner", Region: "fsn1", Plan: "cx22",
		Status: string(server.StatusProvisioning), SubnetCidr: "10.66.0.0/24", ListenPort: 51820,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.SetServerProvisioned(ctx, row.ID, "inst-99"))
	fx.cloud.instances["inst-99"] = &provider.Instance{ID: "inst-99", State: provider.StateRunning}

	require.NoError(t, fx.orch.Reconcile(ctx))

	fetched, err := fx.store.GetServer(ctx, "stuck-1")
	require.NoError(t, err)
	assert.Equal(t, string(server.StatusError), fetched.Status)
	assert.Contains(t, fetched.ErrorCause, "interrupted")

	fx.cloud.mu.Lock()
	defer fx.cloud.mu.Unlock()
	assert.Contains(t, fx.cloud.destroyed, "inst-99")
}

func TestReconcileFinishesInterruptedDestroy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	row, err := fx.store.CreateServer(ctx, db.CreateServerParams{
		ID: "half-gone", Provider: "hetzner", Region: "fsn1", Plan: "cx22",
		Status: string(server.StatusDestroying), SubnetCidr: "10.66.0.0/24", ListenPort: 51820,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.SetServerProvisioned(ctx, row.ID, "inst-50"))

	require.NoError(t, fx.orch.Reconcile(ctx))

	_, err = fx.store.GetServer(ctx, "half-gone")
	assert.ErrorIs(t, err, server.ErrServerNotFound)
}

func TestReconcileParksActiveServerWithLostInstance(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	row, err := fx.store.CreateServer(ctx, db.CreateServerParams{
		ID: "ghost", Provider: "hetzner", Region: "fsn1", Plan: "cx22",
		Status: string(server.StatusConfiguring), SubnetCidr: "10.66.0.0/24", ListenPort: 51820,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.SetServerProvisioned(ctx, row.ID, "inst-77"))
	require.NoError(t, fx.store.ActivateServer(ctx, row.ID, "203.0.113.77"))
	// the instance does not exist on the provider side

	require.NoError(t, fx.orch.Reconcile(ctx))

	fetched, err := fx.store.GetServer(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, string(server.StatusError), fetched.Status)
	assert.Contains(t, fetched.ErrorCause, "no longer exists")
	assert.False(t, fetched.PublicIP.Valid)
}

func TestReconcileRefreshesDriftedPublicIP(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	row, err := fx.store.CreateServer(ctx, db.CreateServerParams{
		ID: "drifted", Provider: "hetzner", Region: "fsn1", Plan: "cx22",
		Status: string(server.StatusConfiguring), SubnetCidr: "10.66.0.0/24", ListenPort: 51820,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.SetServerProvisioned(ctx, row.ID, "inst-88"))
	require.NoError(t, fx.store.ActivateServer(ctx, row.ID, "203.0.113.88"))
	fx.cloud.instances["inst-88"] = &provider.Instance{
		ID: "inst-88", State: provider.StateRunning, PublicIP: "198.51.100.8",
	}

	require.NoError(t, fx.orch.Reconcile(ctx))

	fetched, err := fx.store.GetServer(ctx, "drifted")
	require.NoError(t, err)
	assert.Equal(t, string(server.StatusActive), fetched.Status)
	assert.Equal(t, "198.51.100.8", fetched.PublicIP.String)
}

func TestCreateServerUnknownProvider(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.CreateServer(context.Background(), CreateServerRequest{
		Provider: "aws", Region: "us-east-1", Plan: "t3.micro",
	})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}
