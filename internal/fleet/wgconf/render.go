package wgconf

import (
	"fmt"
	"net"
	"strings"
)

// ClientParams holds everything needed to render a peer's client profile.
type ClientParams struct {
	PrivateKey      string
	Address         string // assigned host address, without prefix
	ServerPublicKey string
	Endpoint        string // ip:port
	AllowedIPs      string
	KeepaliveSec    int
}

// ServerParams holds the server-side interface parameters.
type ServerParams struct {
	PrivateKey string
	Address    string // gateway address with the subnet's prefix length, e.g. 10.66.0.1/24
	ListenPort int
}

// PeerStanza identifies one authorized peer in the server config.
type PeerStanza struct {
	Name            string
	PublicKey       string
	AssignedAddress string
}

// RenderClientConfig renders the full client-side profile. Output is
// byte-for-byte reproducible from the same inputs so configs can be diffed.
// The private key appears only here; it is shown to the user once.
func RenderClientConfig(p ClientParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	fmt.Fprintf(&b, "Address = %s/32\n", p.Address)
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", p.ServerPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", p.AllowedIPs)
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.KeepaliveSec)
	return b.String()
}

// RenderPeerStanza renders the server-side stanza for one peer: public key
// and allowed address only, never the peer's private key. The name markers
// make remote removal by name idempotent.
func RenderPeerStanza(p PeerStanza) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# BEGIN_PEER %s\n", p.Name)
	fmt.Fprintf(&b, "[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
	fmt.Fprintf(&b, "AllowedIPs = %s/32\n", p.AssignedAddress)
	fmt.Fprintf(&b, "# END_PEER %s\n", p.Name)
	return b.String()
}

// RenderServerConfig renders the complete server interface file with peer
// stanzas sorted by the order given. Deterministic for the same inputs.
func RenderServerConfig(s ServerParams, peers []PeerStanza) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", s.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", s.Address)
	fmt.Fprintf(&b, "ListenPort = %d\n", s.ListenPort)
	for _, p := range peers {
		fmt.Fprintf(&b, "\n%s", RenderPeerStanza(p))
	}
	return b.String()
}

// InterfaceAddress builds the server interface address (gateway with the
// subnet's prefix length) from a subnet CIDR.
func InterfaceAddress(subnetCIDR string) (string, error) {
	_, network, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return "", fmt.Errorf("invalid subnet %q: %w", subnetCIDR, err)
	}
	gw, err := GatewayAddress(subnetCIDR)
	if err != nil {
		return "", err
	}
	ones, _ := network.Mask.Size()
	return fmt.Sprintf("%s/%d", gw, ones), nil
}
