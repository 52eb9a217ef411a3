package leaseutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test that the addresses are converted to the CIDR notation.
func TestMakeCIDR(t *testing.T) {
	cidr, err := MakeCIDR("192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1/32", cidr)

	cidr, err = MakeCIDR("2001:db8::1")
	require.NoError(t, err)
	require.Equal(t, "2001:db8::1/128", cidr)

	cidr, err = MakeCIDR("10.0.0.0/8")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.0/8", cidr)

	_, err = MakeCIDR("foo")
	require.Error(t, err)
}

// Test parsing the prefixes and bare addresses.
func TestParsePrefix(t *testing.T) {
	prefix, err := ParsePrefix("2001:db8:1::/56")
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8:1::/56"), prefix)

	prefix, err = ParsePrefix(" 192.0.2.7 ")
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("192.0.2.7/32"), prefix)

	_, err = ParsePrefix("192.0.2.0/33")
	require.Error(t, err)
}

// Test combining the address and the subnet mask.
func TestPrefixFromMask(t *testing.T) {
	prefix, err := PrefixFromMask(netip.MustParseAddr("192.0.2.10"), "255.255.255.0")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10/24", prefix.String())

	_, err = PrefixFromMask(netip.MustParseAddr("192.0.2.10"), "255.0.255.0")
	require.Error(t, err)

	_, err = PrefixFromMask(netip.MustParseAddr("192.0.2.10"), "foo")
	require.Error(t, err)

	_, err = PrefixFromMask(netip.MustParseAddr("2001:db8::1"), "255.255.255.0")
	require.Error(t, err)
}

// Test computing the broadcast address.
func TestBroadcastAddress(t *testing.T) {
	broadcast, err := BroadcastAddress(netip.MustParsePrefix("192.0.2.10/24"))
	require.NoError(t, err)
	require.Equal(t, "192.0.2.255", broadcast.String())

	broadcast, err = BroadcastAddress(netip.MustParsePrefix("10.1.2.3/8"))
	require.NoError(t, err)
	require.Equal(t, "10.255.255.255", broadcast.String())

	_, err = BroadcastAddress(netip.MustParsePrefix("2001:db8::/64"))
	require.Error(t, err)
}
