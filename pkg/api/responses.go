package api

import "time"

// ServerInfo is the public view of one VPN server
type ServerInfo struct {
	ID                 string     `json:"id"`
	Provider           string     `json:"provider"`
	Region             string     `json:"region"`
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	PublicIP           string     `json:"public_ip,omitempty"`
	WireGuardPublicKey string     `json:"wireguard_public_key,omitempty"`
	SubnetCIDR         string     `json:"subnet_cidr"`
	ListenPort         int        `json:"listen_port"`
	ErrorCause         string     `json:"error_cause,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	LastActivityAt     *time.Time `json:"last_activity_at,omitempty"`
}

// ServersListResponse lists the fleet
type ServersListResponse struct {
	Servers    []ServerInfo `json:"servers"`
	TotalCount int          `json:"total_count"`
}

// PeerInfo is the public view of one peer profile. The private key is not
// part of it; it only appears inside the one-time client config.
type PeerInfo struct {
	ID              string    `json:"id"`
	ServerID        string    `json:"server_id"`
	Name            string    `json:"name"`
	PublicKey       string    `json:"public_key"`
	AssignedAddress string    `json:"assigned_address"`
	CreatedAt       time.Time `json:"created_at"`
}

// AddPeerResponse returns the stored peer plus the rendered client config
type AddPeerResponse struct {
	Peer         PeerInfo `json:"peer"`
	ClientConfig string   `json:"client_config"`
}

// PeersListResponse lists the peers on one server
type PeersListResponse struct {
	Peers      []PeerInfo `json:"peers"`
	TotalCount int        `json:"total_count"`
}

// PeerConfigResponse carries a re-rendered client config
type PeerConfigResponse struct {
	ClientConfig string `json:"client_config"`
}

// MessageResponse is a plain acknowledgment
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
