package utils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidPort(t *testing.T) {
	assert.False(t, IsValidPort(80))
	assert.False(t, IsValidPort(1023))
	assert.True(t, IsValidPort(1024))
	assert.True(t, IsValidPort(1883))
	assert.True(t, IsValidPort(65535))
	assert.False(t, IsValidPort(65536))
}

func TestPortOf(t *testing.T) {
	port, err := PortOf("0.0.0.0:1883")
	require.NoError(t, err)
	assert.Equal(t, 1883, port)

	_, err = PortOf("1883")
	assert.Error(t, err)
}

func TestPickPrivateIPv4(t *testing.T) {
	mustCIDR := func(s string) *net.IPNet {
		ip, n, err := net.ParseCIDR(s)
		require.NoError(t, err)
		n.IP = ip
		return n
	}

	addrs := []net.Addr{
		mustCIDR("127.0.0.1/8"),
		mustCIDR("8.8.8.8/32"),
		mustCIDR("fd00::1/64"),
		mustCIDR("192.168.1.20/24"),
	}
	assert.Equal(t, "192.168.1.20", pickPrivateIPv4(addrs))
	assert.Equal(t, "", pickPrivateIPv4(addrs[:3]))
}

func TestLocalIPAddressNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, LocalIPAddress())
}
