// Package events defines the event types and payloads published by the
// fleet manager, and a thin bus over gookit/event.
package events

import (
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Server lifecycle events
const (
	EventServerRequested     = "server.requested"
	EventServerStatusChanged = "server.status.changed"
	EventServerActive        = "server.active"
	EventServerDestroyed     = "server.destroyed"
	EventServerFailed        = "server.failed"
)

// Peer events
const (
	EventPeerAdded   = "peer.added"
	EventPeerRemoved = "peer.removed"
)

// ServerStatusChangedEvent reports one lifecycle transition.
type ServerStatusChangedEvent struct {
	ServerID  string        `json:"server_id"`
	Provider  string        `json:"provider"`
	From      server.Status `json:"from"`
	To        server.Status `json:"to"`
	Cause     string        `json:"cause,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ServerEvent carries the events that mark a lifecycle milestone.
type ServerEvent struct {
	ServerID  string    `json:"server_id"`
	Provider  string    `json:"provider"`
	PublicIP  string    `json:"public_ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PeerEvent reports a peer profile change on a server.
type PeerEvent struct {
	ServerID  string    `json:"server_id"`
	PeerID    string    `json:"peer_id"`
	PeerName  string    `json:"peer_name"`
	Timestamp time.Time `json:"timestamp"`
}
