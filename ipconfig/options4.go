package ipconfig

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	leaseutil "isc.org/leasekeeper/util"
)

// Minimal MTU of an IPv4 link.
const minimalMTU4 = 68

// Builds the IPv4 configuration from the option bag. The address option is
// mandatory. Unparseable optional values are skipped and logged.
func FromOptions4(params Params, options map[string]string) (*Config, error) {
	rawAddress := strings.TrimSpace(options[OptionIPAddress])
	if rawAddress == "" {
		return nil, errors.New("missing IPv4 address in the lease")
	}
	address, err := netip.ParseAddr(rawAddress)
	if err != nil || !address.Is4() {
		return nil, errors.Errorf("invalid IPv4 address %s in the lease", rawAddress)
	}

	var prefix netip.Prefix
	if mask := strings.TrimSpace(options[OptionSubnetMask]); mask != "" {
		prefix, err = leaseutil.PrefixFromMask(address, mask)
		if err != nil {
			return nil, err
		}
	} else {
		prefix = classfulPrefix(address)
	}

	config := &Config{
		Family:      FamilyIPv4,
		Interface:   params.Interface,
		IfIndex:     params.IfIndex,
		RouteTable:  params.RouteTable,
		RouteMetric: params.RouteMetric,
	}

	if config.LeaseTime, err = parseSeconds(options, OptionLeaseTime); err != nil {
		return nil, err
	}
	if config.RenewalTime, err = parseSeconds(options, OptionRenewalTime); err != nil {
		return nil, err
	}
	if config.RebindingTime, err = parseSeconds(options, OptionRebindingTime); err != nil {
		return nil, err
	}
	config.Addresses = []Address{{
		Prefix:    prefix,
		Lifetime:  config.LeaseTime,
		Preferred: config.LeaseTime,
	}}

	if broadcast := parseAddressList(options, OptionBroadcastAddress, FamilyIPv4); len(broadcast) > 0 {
		config.Broadcast = broadcast[0]
	} else if config.Broadcast, err = leaseutil.BroadcastAddress(prefix); err != nil {
		return nil, err
	}
	if servers := parseAddressList(options, OptionServerIdentifier, FamilyIPv4); len(servers) > 0 {
		config.ServerID = servers[0]
	}

	config.Nameservers = parseAddressList(options, OptionDomainNameServers, FamilyIPv4)
	config.NTPServers = parseAddressList(options, OptionNTPServers, FamilyIPv4)
	config.Domains = parseDomainList(options, OptionDomainName)
	config.Searches = parseDomainList(options, OptionDomainSearch)
	config.Hostname = parseHostname(options)

	if value := strings.TrimSpace(options[OptionInterfaceMTU]); value != "" {
		mtu, err := strconv.ParseUint(value, 10, 16)
		if err != nil || mtu < minimalMTU4 {
			log.WithField("iface", params.Interface).Debugf("Ignoring invalid MTU %s", value)
		} else {
			config.MTU = uint32(mtu)
		}
	}

	// Classless routes take precedence over the static routes and the
	// routers option.
	classless, err := parseClasslessRoutes(options)
	if err != nil {
		log.WithField("iface", params.Interface).WithError(err).Warn("Ignoring invalid classless static routes")
	}
	if len(classless) > 0 {
		for _, route := range classless {
			if route.Destination.Bits() == 0 {
				if !config.Gateway.IsValid() {
					config.Gateway = route.Gateway
				}
				continue
			}
			config.addRoute(route.Destination, route.Gateway)
		}
	} else {
		if routers := parseAddressList(options, OptionRouters, FamilyIPv4); len(routers) > 0 {
			config.Gateway = routers[0]
		}
		static, err := parseStaticRoutes(options)
		if err != nil {
			log.WithField("iface", params.Interface).WithError(err).Warn("Ignoring invalid static routes")
		}
		for _, route := range static {
			config.addRoute(route.Destination, route.Gateway)
		}
	}

	return config, nil
}

// Appends a route using the table and metric of the configuration.
func (c *Config) addRoute(destination netip.Prefix, gateway netip.Addr) {
	c.Routes = append(c.Routes, Route{
		Destination: destination.Masked(),
		Gateway:     gateway,
		Table:       c.RouteTable,
		Metric:      c.RouteMetric,
	})
}

// Returns the classful network prefix of the address.
func classfulPrefix(address netip.Addr) netip.Prefix {
	first := address.As4()[0]
	switch {
	case first < 128:
		return netip.PrefixFrom(address, 8)
	case first < 192:
		return netip.PrefixFrom(address, 16)
	case first < 224:
		return netip.PrefixFrom(address, 24)
	default:
		return netip.PrefixFrom(address, 32)
	}
}

// Parses the static routes option: a list of destination and router pairs.
// A destination with host bits outside of its classful mask is a host route.
func parseStaticRoutes(options map[string]string) ([]Route, error) {
	items := fields(options, OptionStaticRoutes)
	if len(items)%2 != 0 {
		return nil, errors.Errorf("odd number of items in %s", options[OptionStaticRoutes])
	}
	var routes []Route
	for i := 0; i < len(items); i += 2 {
		destination, err := netip.ParseAddr(items[i])
		if err != nil || !destination.Is4() {
			return nil, errors.Errorf("invalid static route destination %s", items[i])
		}
		gateway, err := netip.ParseAddr(items[i+1])
		if err != nil || !gateway.Is4() {
			return nil, errors.Errorf("invalid static route gateway %s", items[i+1])
		}
		prefix := classfulPrefix(destination)
		if prefix.Masked().Addr() != destination {
			prefix = netip.PrefixFrom(destination, 32)
		}
		routes = append(routes, Route{Destination: prefix, Gateway: gateway})
	}
	return routes, nil
}

// Parses the classless static routes. Two formats are accepted: a list of
// "destination/length gateway" pairs and the dhclient RFC 3442 format being
// a sequence of octets "length destination-octets gateway-octets".
func parseClasslessRoutes(options map[string]string) ([]Route, error) {
	if items := fields(options, OptionClasslessStaticRoutes); len(items) > 0 {
		if len(items)%2 != 0 {
			return nil, errors.Errorf("odd number of items in %s", options[OptionClasslessStaticRoutes])
		}
		var routes []Route
		for i := 0; i < len(items); i += 2 {
			destination, err := leaseutil.ParsePrefix(items[i])
			if err != nil || !destination.Addr().Is4() {
				return nil, errors.Errorf("invalid classless route destination %s", items[i])
			}
			gateway, err := netip.ParseAddr(items[i+1])
			if err != nil || !gateway.Is4() {
				return nil, errors.Errorf("invalid classless route gateway %s", items[i+1])
			}
			routes = append(routes, Route{Destination: destination.Masked(), Gateway: gateway})
		}
		return routes, nil
	}
	return parseRFC3442Routes(fields(options, OptionRFC3442Routes))
}

// Parses the octet sequence of the RFC 3442 classless static routes.
func parseRFC3442Routes(items []string) ([]Route, error) {
	octets := make([]byte, 0, len(items))
	for _, item := range items {
		octet, err := strconv.ParseUint(item, 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid octet %s in classless static routes", item)
		}
		octets = append(octets, byte(octet))
	}
	var routes []Route
	for len(octets) > 0 {
		length := int(octets[0])
		if length > 32 {
			return nil, errors.Errorf("invalid classless route prefix length %d", length)
		}
		significant := (length + 7) / 8
		if len(octets) < 1+significant+4 {
			return nil, errors.New("truncated classless static routes")
		}
		var destination [4]byte
		copy(destination[:], octets[1:1+significant])
		gateway := netip.AddrFrom4([4]byte(octets[1+significant : 1+significant+4]))
		routes = append(routes, Route{
			Destination: netip.PrefixFrom(netip.AddrFrom4(destination), length).Masked(),
			Gateway:     gateway,
		})
		octets = octets[1+significant+4:]
	}
	return routes, nil
}
