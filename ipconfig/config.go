// Package ipconfig turns the option bag reported for a DHCP lease into a
// structured IP configuration. The bag is a flat map of option names to
// textual values, the same shape regardless of whether it was produced by a
// helper program script or by the built-in client.
package ipconfig

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Address family of the configuration.
type Family int

// Supported address families.
const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

// Option names recognized in the IPv4 option bag.
const (
	OptionIPAddress             = "ip_address"
	OptionSubnetMask            = "subnet_mask"
	OptionBroadcastAddress      = "broadcast_address"
	OptionRouters               = "routers"
	OptionDomainNameServers     = "domain_name_servers"
	OptionDomainName            = "domain_name"
	OptionDomainSearch          = "domain_search"
	OptionHostName              = "host_name"
	OptionInterfaceMTU          = "interface_mtu"
	OptionLeaseTime             = "dhcp_lease_time"
	OptionRenewalTime           = "dhcp_renewal_time"
	OptionRebindingTime         = "dhcp_rebinding_time"
	OptionServerIdentifier      = "dhcp_server_identifier"
	OptionNTPServers            = "ntp_servers"
	OptionStaticRoutes          = "static_routes"
	OptionClasslessStaticRoutes = "classless_static_routes"
	OptionRFC3442Routes         = "rfc3442_classless_static_routes"
)

// Option names recognized in the IPv6 option bag.
const (
	OptionIP6Address       = "ip6_address"
	OptionIP6Prefix        = "ip6_prefix"
	OptionDHCP6NameServers = "dhcp6_name_servers"
	OptionDHCP6Search      = "dhcp6_domain_search"
	OptionMaxLife          = "max_life"
	OptionPreferredLife    = "preferred_life"
	// Lifetimes of the delegated prefix. The address lifetimes apply
	// when they are absent.
	OptionIP6PrefixMaxLife       = "ip6_prefix_max_life"
	OptionIP6PrefixPreferredLife = "ip6_prefix_preferred_life"
)

// Prefix of the option names used by the helper programs for the values
// of the newly acquired lease.
const newOptionPrefix = "new_"

// An address assigned to the interface.
type Address struct {
	Prefix    netip.Prefix
	Lifetime  time.Duration
	Preferred time.Duration
}

// A route installed for the lease.
type Route struct {
	Destination netip.Prefix
	Gateway     netip.Addr
	Table       uint32
	Metric      uint32
}

// IP configuration derived from a lease.
type Config struct {
	Family      Family
	Interface   string
	IfIndex     int
	Addresses   []Address
	Gateway     netip.Addr
	Broadcast   netip.Addr
	ServerID    netip.Addr
	Nameservers []netip.Addr
	Domains     []string
	Searches    []string
	Routes      []Route
	NTPServers  []netip.Addr
	Hostname    string
	MTU         uint32
	RouteTable  uint32
	RouteMetric uint32
	// Lease timers. Zero when not reported.
	LeaseTime     time.Duration
	RenewalTime   time.Duration
	RebindingTime time.Duration
}

// Properties of the instance the configuration is built for.
type Params struct {
	Interface   string
	IfIndex     int
	RouteTable  uint32
	RouteMetric uint32
	// DHCPv6 information-only mode: no address is expected.
	InfoOnly bool
}

// Converts the option bag to the IP configuration.
type Builder interface {
	Build(family Family, params Params, options map[string]string) (*Config, error)
}

// Default builder converting the options in the format produced by the
// helper programs and the built-in client.
type OptionsBuilder struct{}

var _ Builder = OptionsBuilder{}

// Builds the configuration for a given family.
func (OptionsBuilder) Build(family Family, params Params, options map[string]string) (*Config, error) {
	switch family {
	case FamilyIPv4:
		return FromOptions4(params, options)
	case FamilyIPv6:
		return FromOptions6(params, options)
	default:
		return nil, errors.Errorf("unsupported address family %d", family)
	}
}

// Returns the copy of the option bag with the "new_" prefix stripped from
// the keys. When both the prefixed and the bare key exist, the prefixed one
// wins. The keys are trimmed and lower-cased.
func NormalizeOptions(options map[string]string) map[string]string {
	normalized := make(map[string]string, len(options))
	prefixed := make(map[string]bool)
	for key, value := range options {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if stripped, ok := strings.CutPrefix(key, newOptionPrefix); ok && stripped != "" {
			normalized[stripped] = value
			prefixed[stripped] = true
			continue
		}
		if !prefixed[key] {
			normalized[key] = value
		}
	}
	return normalized
}

// Returns the non-empty, whitespace-separated values of the option.
func fields(options map[string]string, key string) []string {
	return strings.Fields(options[key])
}

// Parses a whitespace or comma separated list of addresses of a given
// family. Invalid entries are skipped.
func parseAddressList(options map[string]string, key string, family Family) []netip.Addr {
	var addresses []netip.Addr
	for _, item := range strings.FieldsFunc(options[key], func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	}) {
		address, err := netip.ParseAddr(item)
		if err != nil || (family == FamilyIPv4) != address.Is4() {
			log.WithField("option", key).Debugf("Ignoring invalid address %s", item)
			continue
		}
		addresses = append(addresses, address.Unmap())
	}
	return addresses
}

// Parses a list of domain names. Invalid names are skipped.
func parseDomainList(options map[string]string, key string) []string {
	var domains []string
	for _, item := range fields(options, key) {
		item = strings.Trim(item, `"`)
		if _, ok := dns.IsDomainName(item); !ok || item == "" {
			log.WithField("option", key).Debugf("Ignoring invalid domain name %s", item)
			continue
		}
		domains = append(domains, strings.TrimSuffix(item, "."))
	}
	return domains
}

// Parses a lifetime expressed in seconds. Absent value yields zero.
func parseSeconds(options map[string]string, key string) (time.Duration, error) {
	value := strings.TrimSpace(options[key])
	if value == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid value %s of the %s option", value, key)
	}
	return time.Duration(seconds) * time.Second, nil
}

// Parses the host name when it is a valid DNS name.
func parseHostname(options map[string]string) string {
	hostname := strings.TrimSuffix(strings.TrimSpace(options[OptionHostName]), ".")
	if hostname == "" {
		return ""
	}
	if _, ok := dns.IsDomainName(hostname); !ok {
		log.Debugf("Ignoring invalid host name %s", hostname)
		return ""
	}
	return hostname
}
