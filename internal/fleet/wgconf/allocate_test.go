package wgconf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAddressAscending(t *testing.T) {
	var used []string
	for i := 0; i < 5; i++ {
		addr, err := AllocateAddress("10.66.0.0/24", used)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("10.66.0.%d", i+2), addr)
		used = append(used, addr)
	}
}

func TestAllocateAddressReusesLowestFree(t *testing.T) {
	used := []string{"10.66.0.2", "10.66.0.3", "10.66.0.4"}

	// release the middle address
	used = []string{"10.66.0.2", "10.66.0.4"}
	addr, err := AllocateAddress("10.66.0.0/24", used)
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.3", addr)
}

func TestAllocateAddressSkipsReserved(t *testing.T) {
	addr, err := AllocateAddress("10.66.0.0/24", nil)
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.2", addr, "network .0 and gateway .1 are reserved")
}

func TestAllocateAddressExhaustion(t *testing.T) {
	// /29 holds 8 addresses: .0 network, .1 gateway, .7 broadcast -> 5 usable
	var used []string
	for i := 0; i < 5; i++ {
		addr, err := AllocateAddress("10.66.0.0/29", used)
		require.NoError(t, err)
		used = append(used, addr)
	}

	_, err := AllocateAddress("10.66.0.0/29", used)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)
}

func TestAllocateAddressInvalidSubnet(t *testing.T) {
	_, err := AllocateAddress("not-a-cidr", nil)
	assert.Error(t, err)
}

func TestContainsAddress(t *testing.T) {
	assert.True(t, ContainsAddress("10.66.0.0/24", "10.66.0.2"))
	assert.True(t, ContainsAddress("10.66.0.0/24", "10.66.0.254"))
	assert.False(t, ContainsAddress("10.66.0.0/24", "10.66.0.0"), "network address")
	assert.False(t, ContainsAddress("10.66.0.0/24", "10.66.0.1"), "gateway")
	assert.False(t, ContainsAddress("10.66.0.0/24", "10.66.0.255"), "broadcast")
	assert.False(t, ContainsAddress("10.66.0.0/24", "10.66.1.2"), "outside subnet")
}

func TestGatewayAddress(t *testing.T) {
	gw, err := GatewayAddress("10.66.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.1", gw)
}
