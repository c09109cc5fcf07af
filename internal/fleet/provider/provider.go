package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InstanceState is the provider-side view of an instance.
type InstanceState string

const (
	StatePending  InstanceState = "pending"
	StateRunning  InstanceState = "running"
	StateError    InstanceState = "error"
	StateNotFound InstanceState = "not_found"
)

// CreateRequest describes the instance to provision. IdempotencyKey is the
// fleet server ID; adapters tag the instance with it and look the tag up
// before creating, so a retried create never yields a second instance.
type CreateRequest struct {
	Name           string
	Region         string
	Plan           string
	Image          string
	SSHPublicKeys  []string
	UserData       string
	IdempotencyKey string
}

// Instance is the provider-side status of a created instance.
type Instance struct {
	ID       string
	State    InstanceState
	PublicIP string
}

// Provider abstracts one cloud VPS vendor.
type Provider interface {
	// Name identifies the vendor, e.g. "hetzner".
	Name() string

	// CreateInstance requests a new instance and returns its provider-side
	// ID as soon as the provider acknowledges the request. It does not wait
	// for the instance to boot.
	CreateInstance(ctx context.Context, req CreateRequest) (string, error)

	// GetInstanceStatus reports the current state of an instance. A missing
	// instance is StateNotFound, not an error.
	GetInstanceStatus(ctx context.Context, instanceID string) (Instance, error)

	// DestroyInstance deletes an instance. Destroying an instance that no
	// longer exists succeeds.
	DestroyInstance(ctx context.Context, instanceID string) error
}

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. A second registration under the same name
// replaces the first.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
