package db

import (
	"database/sql"
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Server is the persisted row for a VPN server.
type Server struct {
	ID                 string
	Provider           string
	Region             string
	Plan               string
	ProviderInstanceID string
	PublicIP           sql.NullString
	Status             string
	WgPublicKey        string
	WgPrivateKey       string
	SubnetCidr         string
	ListenPort         int
	ErrorCause         string
	CreatedAt          time.Time
	LastActivityAt     sql.NullTime
}

// ToDomain converts the row into the domain entity.
func (s Server) ToDomain() *server.Server {
	out := &server.Server{
		ID:                 s.ID,
		Provider:           s.Provider,
		Region:             s.Region,
		Plan:               s.Plan,
		ProviderInstanceID: s.ProviderInstanceID,
		Status:             server.Status(s.Status),
		WireGuardPublicKey: s.WgPublicKey,
		SubnetCIDR:         s.SubnetCidr,
		ListenPort:         s.ListenPort,
		ErrorCause:         s.ErrorCause,
		CreatedAt:          s.CreatedAt,
	}
	if s.PublicIP.Valid {
		out.PublicIP = s.PublicIP.String
	}
	if s.LastActivityAt.Valid {
		t := s.LastActivityAt.Time
		out.LastActivityAt = &t
	}
	out.SetWireGuardKeys(s.WgPrivateKey, s.WgPublicKey)
	return out
}

// PeerProfile is the persisted row for one peer credential on a server.
type PeerProfile struct {
	ID              string
	ServerID        string
	Name            string
	PublicKey       string
	PrivateKey      string
	AssignedAddress string
	CreatedAt       time.Time
}

// ToDomain converts the row into the domain entity.
func (p PeerProfile) ToDomain() *server.PeerProfile {
	return &server.PeerProfile{
		ID:              p.ID,
		ServerID:        p.ServerID,
		Name:            p.Name,
		PublicKey:       p.PublicKey,
		PrivateKey:      p.PrivateKey,
		AssignedAddress: p.AssignedAddress,
		CreatedAt:       p.CreatedAt,
	}
}

// CreateServerParams holds the fields for inserting a new server row.
type CreateServerParams struct {
	ID         string
	Provider   string
	Region     string
	Plan       string
	Status     string
	SubnetCidr string
	ListenPort int
}

// CreatePeerParams holds the fields for inserting a new peer profile row.
type CreatePeerParams struct {
	ID              string
	ServerID        string
	Name            string
	PublicKey       string
	PrivateKey      string
	AssignedAddress string
}

// CasServerStatusParams is the compare-and-set on a server's status.
type CasServerStatusParams struct {
	ID         string
	FromStatus string
	ToStatus   string
}
