package server

import (
	"net"
	"strconv"
	"time"
)

// Server represents one ephemeral VPN endpoint and its persisted record.
type Server struct {
	ID                 string     `json:"id" db:"id"`
	Provider           string     `json:"provider" db:"provider"`
	Region             string     `json:"region" db:"region"`
	Plan               string     `json:"plan" db:"plan"`
	ProviderInstanceID string     `json:"provider_instance_id,omitempty" db:"provider_instance_id"`
	PublicIP           string     `json:"public_ip,omitempty" db:"public_ip"`
	Status             Status     `json:"status" db:"status"`
	WireGuardPublicKey string     `json:"wireguard_public_key,omitempty" db:"wg_public_key"`
	wireGuardPrivKey   string     // server-held, never serialized
	SubnetCIDR         string     `json:"subnet_cidr" db:"subnet_cidr"`
	ListenPort         int        `json:"listen_port" db:"listen_port"`
	ErrorCause         string     `json:"error_cause,omitempty" db:"error_cause"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	LastActivityAt     *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
}

// New creates a Server in the Requested state.
func New(id, provider, region, plan, subnetCIDR string, listenPort int) (*Server, error) {
	if id == "" {
		return nil, NewValidationError("id", "cannot be empty")
	}
	if provider == "" {
		return nil, NewValidationError("provider", "cannot be empty")
	}
	if region == "" {
		return nil, NewValidationError("region", "cannot be empty")
	}
	if plan == "" {
		return nil, NewValidationError("plan", "cannot be empty")
	}
	if listenPort <= 0 || listenPort > 65535 {
		return nil, NewValidationError("listen_port", "must be between 1 and 65535")
	}

	return &Server{
		ID:         id,
		Provider:   provider,
		Region:     region,
		Plan:       plan,
		Status:     StatusRequested,
		SubnetCIDR: subnetCIDR,
		ListenPort: listenPort,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// WireGuardPrivateKey returns the server-side private key. It never leaves
// the process except inside the rendered server interface config.
func (s *Server) WireGuardPrivateKey() string {
	return s.wireGuardPrivKey
}

// SetWireGuardKeys records the server keypair.
func (s *Server) SetWireGuardKeys(privateKey, publicKey string) {
	s.wireGuardPrivKey = privateKey
	s.WireGuardPublicKey = publicKey
}

// Endpoint returns the ip:port peers dial, empty until the server has an IP.
func (s *Server) Endpoint() string {
	if s.PublicIP == "" {
		return ""
	}
	return net.JoinHostPort(s.PublicIP, strconv.Itoa(s.ListenPort))
}

// CheckInvariants verifies the publicIp/status coupling: publicIp is non-empty
// exactly when the status requires a running instance.
func (s *Server) CheckInvariants() error {
	if s.Status.HasPublicIP() && s.PublicIP == "" {
		return NewValidationError("public_ip", "must be set in status "+s.Status.String())
	}
	if !s.Status.HasPublicIP() && s.PublicIP != "" && s.Status != StatusConfiguring {
		return NewValidationError("public_ip", "must be empty in status "+s.Status.String())
	}
	return nil
}

// PeerProfile represents one VPN user's credential and address on a server.
type PeerProfile struct {
	ID              string    `json:"id" db:"id"`
	ServerID        string    `json:"server_id" db:"server_id"`
	Name            string    `json:"name" db:"name"`
	PublicKey       string    `json:"public_key" db:"public_key"`
	PrivateKey      string    `json:"-" db:"private_key"`
	AssignedAddress string    `json:"assigned_address" db:"assigned_address"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// NewPeerProfile creates a peer profile with validation. Peer names end up in
// WireGuard config comments and remote shell commands, so they are kept short
// and restricted to a safe character set.
func NewPeerProfile(id, serverID, name string) (*PeerProfile, error) {
	if id == "" {
		return nil, NewValidationError("id", "cannot be empty")
	}
	if serverID == "" {
		return nil, NewValidationError("server_id", "cannot be empty")
	}
	if name == "" {
		return nil, NewValidationError("name", "cannot be empty")
	}
	if len(name) > 15 {
		return nil, NewValidationError("name", "must not exceed 15 characters")
	}
	for _, r := range name {
		if !isPeerNameRune(r) {
			return nil, NewValidationError("name", "may contain only letters, digits, '-' and '_'")
		}
	}

	return &PeerProfile{
		ID:        id,
		ServerID:  serverID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func isPeerNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

