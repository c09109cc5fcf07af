package wgconf

import (
	"errors"
	"fmt"
	"net"
)

// ErrAddressSpaceExhausted is returned when a subnet has no free host
// address left for a new peer.
var ErrAddressSpaceExhausted = errors.New("address space exhausted")

// GatewayAddress returns the first usable host address of the subnet, which
// the server interface claims for itself.
func GatewayAddress(subnetCIDR string) (string, error) {
	_, network, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return "", fmt.Errorf("invalid subnet %q: %w", subnetCIDR, err)
	}
	gw := cloneIP(network.IP)
	incIP(gw)
	return gw.String(), nil
}

// AllocateAddress assigns the lowest unused host address in the subnet,
// skipping the network address, the gateway, and the broadcast address.
// Allocation is deterministic: N allocations on a fresh subnet yield the
// first N host addresses ascending, and releasing an address makes it the
// next candidate again.
func AllocateAddress(subnetCIDR string, used []string) (string, error) {
	_, network, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return "", fmt.Errorf("invalid subnet %q: %w", subnetCIDR, err)
	}
	if network.IP.To4() == nil {
		return "", fmt.Errorf("subnet %q: only IPv4 subnets are supported", subnetCIDR)
	}

	taken := make(map[string]bool, len(used))
	for _, addr := range used {
		taken[addr] = true
	}

	broadcast := broadcastIP(network)

	// Start at network+2: .0 is the network address, .1 the gateway.
	current := cloneIP(network.IP)
	incIP(current)
	incIP(current)

	for network.Contains(current) && !current.Equal(broadcast) {
		if !taken[current.String()] {
			return current.String(), nil
		}
		incIP(current)
	}

	return "", fmt.Errorf("subnet %s: %w", subnetCIDR, ErrAddressSpaceExhausted)
}

// ContainsAddress reports whether addr is a usable host address of the
// subnet, excluding the network, gateway, and broadcast addresses.
func ContainsAddress(subnetCIDR, addr string) bool {
	_, network, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil || !network.Contains(ip) {
		return false
	}

	network4 := network.IP.To4()
	ip4 := ip.To4()
	if network4 == nil || ip4 == nil {
		return false
	}
	if ip4.Equal(network4) || ip4.Equal(broadcastIP(network)) {
		return false
	}
	gw := cloneIP(network.IP)
	incIP(gw)
	return !ip4.Equal(gw.To4())
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func broadcastIP(network *net.IPNet) net.IP {
	out := cloneIP(network.IP)
	for i := range out {
		out[i] |= ^network.Mask[i]
	}
	return out
}
