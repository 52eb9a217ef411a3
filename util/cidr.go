package leaseutil

import (
	"net"
	"net/netip"
	"strings"

	cidr "github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
)

// Turns IP address into CIDR. If the IP address already seems to be using
// CIDR notation, it is returned.
func MakeCIDR(address string) (string, error) {
	if !strings.Contains(address, "/") {
		ip := net.ParseIP(address)
		if ip == nil {
			return address, errors.Errorf("provided string %s is not a valid IP address", address)
		}
		ip4 := ip.To4()
		if ip4 != nil {
			address += "/32"
		} else {
			address += "/128"
		}
	}
	return address, nil
}

// Parses an address or a prefix. A bare address is converted to a host
// prefix (/32 or /128).
func ParsePrefix(value string) (netip.Prefix, error) {
	value, err := MakeCIDR(strings.TrimSpace(value))
	if err != nil {
		return netip.Prefix{}, err
	}
	prefix, err := netip.ParsePrefix(value)
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(err, "invalid prefix %s", value)
	}
	return prefix, nil
}

// Combines an IPv4 address with a dotted-decimal subnet mask into a prefix.
// The address part is preserved (the prefix is not masked).
func PrefixFromMask(address netip.Addr, mask string) (netip.Prefix, error) {
	if !address.Is4() {
		return netip.Prefix{}, errors.Errorf("address %s is not an IPv4 address", address)
	}
	parsed := net.ParseIP(strings.TrimSpace(mask)).To4()
	if parsed == nil {
		return netip.Prefix{}, errors.Errorf("invalid subnet mask %s", mask)
	}
	ones, bits := net.IPMask(parsed).Size()
	if bits == 0 {
		return netip.Prefix{}, errors.Errorf("subnet mask %s is not contiguous", mask)
	}
	return netip.PrefixFrom(address, ones), nil
}

// Returns the broadcast (last) address of the IPv4 network the prefix
// belongs to.
func BroadcastAddress(prefix netip.Prefix) (netip.Addr, error) {
	if !prefix.Addr().Is4() {
		return netip.Addr{}, errors.Errorf("prefix %s is not an IPv4 prefix", prefix)
	}
	_, network, err := net.ParseCIDR(prefix.Masked().String())
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "invalid prefix %s", prefix)
	}
	_, last := cidr.AddressRange(network)
	broadcast, ok := netip.AddrFromSlice(last.To4())
	if !ok {
		return netip.Addr{}, errors.Errorf("cannot compute broadcast address for %s", prefix)
	}
	return broadcast, nil
}
