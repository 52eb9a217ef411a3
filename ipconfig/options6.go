package ipconfig

import (
	"net/netip"
	"strings"
	"time"

	"github.com/pkg/errors"
	leaseutil "isc.org/leasekeeper/util"
)

// Delegated IPv6 prefix.
type Prefix struct {
	Prefix    netip.Prefix
	Lifetime  time.Duration
	Preferred time.Duration
	// Time the prefix was received.
	Timestamp time.Time
}

// Builds the IPv6 configuration from the option bag. The address is
// mandatory unless the instance runs in the information-only mode.
func FromOptions6(params Params, options map[string]string) (*Config, error) {
	config := &Config{
		Family:      FamilyIPv6,
		Interface:   params.Interface,
		IfIndex:     params.IfIndex,
		RouteTable:  params.RouteTable,
		RouteMetric: params.RouteMetric,
	}

	lifetime, err := parseSeconds(options, OptionMaxLife)
	if err != nil {
		return nil, err
	}
	preferred, err := parseSeconds(options, OptionPreferredLife)
	if err != nil {
		return nil, err
	}
	if preferred > lifetime {
		preferred = lifetime
	}

	rawAddress := strings.TrimSpace(options[OptionIP6Address])
	switch {
	case rawAddress != "":
		address, err := netip.ParseAddr(rawAddress)
		if err != nil || !address.Is6() || address.Is4In6() {
			return nil, errors.Errorf("invalid IPv6 address %s in the lease", rawAddress)
		}
		config.Addresses = []Address{{
			Prefix:    netip.PrefixFrom(address, 128),
			Lifetime:  lifetime,
			Preferred: preferred,
		}}
		config.LeaseTime = lifetime
	case !params.InfoOnly:
		return nil, errors.New("missing IPv6 address in the lease")
	}

	config.Nameservers = parseAddressList(options, OptionDHCP6NameServers, FamilyIPv6)
	config.Searches = parseDomainList(options, OptionDHCP6Search)
	config.Hostname = parseHostname(options)
	return config, nil
}

// Returns the delegated prefix carried by the option bag. The second
// return value is false when the bag does not carry any prefix.
func PrefixFromOptions(options map[string]string, now time.Time) (*Prefix, bool, error) {
	raw := strings.TrimSpace(options[OptionIP6Prefix])
	if raw == "" {
		return nil, false, nil
	}
	prefix, err := leaseutil.ParsePrefix(raw)
	if err != nil || !prefix.Addr().Is6() || prefix.Addr().Is4In6() {
		return nil, true, errors.Errorf("invalid delegated prefix %s", raw)
	}
	lifetime, err := parseSecondsFallback(options, OptionIP6PrefixMaxLife, OptionMaxLife)
	if err != nil {
		return nil, true, err
	}
	preferred, err := parseSecondsFallback(options, OptionIP6PrefixPreferredLife, OptionPreferredLife)
	if err != nil {
		return nil, true, err
	}
	if preferred > lifetime {
		preferred = lifetime
	}
	return &Prefix{
		Prefix:    prefix.Masked(),
		Lifetime:  lifetime,
		Preferred: preferred,
		Timestamp: now,
	}, true, nil
}

// Parses the number of seconds under the key or, when the key is absent,
// under the fallback key.
func parseSecondsFallback(options map[string]string, key, fallback string) (time.Duration, error) {
	if strings.TrimSpace(options[key]) == "" {
		key = fallback
	}
	return parseSeconds(options, key)
}
