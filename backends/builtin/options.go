package builtin

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/rfc1035label"
	"isc.org/leasekeeper/ipconfig"
)

// Formats the duration as the number of seconds.
func formatSeconds(d time.Duration) string {
	return strconv.FormatUint(uint64(d/time.Second), 10)
}

// Formats the address list separated with spaces.
func formatAddresses(addresses []net.IP) string {
	items := make([]string, 0, len(addresses))
	for _, address := range addresses {
		items = append(items, address.String())
	}
	return strings.Join(items, " ")
}

// Formats the domain search list.
func formatLabels(labels *rfc1035label.Labels) string {
	if labels == nil {
		return ""
	}
	return strings.Join(labels.Labels, " ")
}

// Sets the option when the value is not empty.
func setOption(options map[string]string, key string, value string) {
	if value != "" {
		options[key] = value
	}
}

// Converts the DHCPv4 acknowledgment to the option bag.
func OptionsFromACK(ack *dhcpv4.DHCPv4) map[string]string {
	options := make(map[string]string)
	if ack == nil {
		return options
	}
	if ack.YourIPAddr != nil && !ack.YourIPAddr.IsUnspecified() {
		options[ipconfig.OptionIPAddress] = ack.YourIPAddr.String()
	}
	if mask := ack.SubnetMask(); mask != nil {
		options[ipconfig.OptionSubnetMask] = net.IP(mask).String()
	}
	if broadcast := ack.BroadcastAddress(); broadcast != nil {
		options[ipconfig.OptionBroadcastAddress] = broadcast.String()
	}
	if server := ack.ServerIdentifier(); server != nil {
		options[ipconfig.OptionServerIdentifier] = server.String()
	}
	setOption(options, ipconfig.OptionRouters, formatAddresses(ack.Router()))
	setOption(options, ipconfig.OptionDomainNameServers, formatAddresses(ack.DNS()))
	setOption(options, ipconfig.OptionNTPServers, formatAddresses(ack.NTPServers()))
	setOption(options, ipconfig.OptionDomainName, ack.DomainName())
	setOption(options, ipconfig.OptionDomainSearch, formatLabels(ack.DomainSearch()))
	setOption(options, ipconfig.OptionHostName, ack.HostName())

	if lease := ack.IPAddressLeaseTime(0); lease > 0 {
		options[ipconfig.OptionLeaseTime] = formatSeconds(lease)
	}
	if renewal := ack.IPAddressRenewalTime(0); renewal > 0 {
		options[ipconfig.OptionRenewalTime] = formatSeconds(renewal)
	}
	if rebinding := ack.IPAddressRebindingTime(0); rebinding > 0 {
		options[ipconfig.OptionRebindingTime] = formatSeconds(rebinding)
	}
	if mtu := ack.Options.Get(dhcpv4.OptionInterfaceMTU); len(mtu) == 2 {
		options[ipconfig.OptionInterfaceMTU] = strconv.Itoa(int(binary.BigEndian.Uint16(mtu)))
	}

	var routes []string
	for _, route := range ack.ClasslessStaticRoute() {
		if route == nil || route.Dest == nil {
			continue
		}
		ones, _ := route.Dest.Mask.Size()
		routes = append(routes, fmt.Sprintf("%s/%d %s", route.Dest.IP, ones, route.Router))
	}
	setOption(options, ipconfig.OptionClasslessStaticRoutes, strings.Join(routes, " "))
	return options
}

// Converts the DHCPv6 reply to the option bag. Only the first address
// and the first delegated prefix are taken. The prefix lifetimes are kept
// under their own keys; max_life carries the address lifetime.
func OptionsFromReply(reply *dhcpv6.Message) map[string]string {
	options := make(map[string]string)
	if reply == nil {
		return options
	}
	var lifetime, preferred time.Duration
	if iana := reply.Options.OneIANA(); iana != nil {
		if addresses := iana.Options.Addresses(); len(addresses) > 0 {
			options[ipconfig.OptionIP6Address] = addresses[0].IPv6Addr.String()
			lifetime = addresses[0].ValidLifetime
			preferred = addresses[0].PreferredLifetime
		}
		if iana.T1 > 0 {
			options[ipconfig.OptionRenewalTime] = formatSeconds(iana.T1)
		}
		if iana.T2 > 0 {
			options[ipconfig.OptionRebindingTime] = formatSeconds(iana.T2)
		}
	}
	if iapd := reply.Options.OneIAPD(); iapd != nil {
		if prefixes := iapd.Options.Prefixes(); len(prefixes) > 0 && prefixes[0].Prefix != nil {
			options[ipconfig.OptionIP6Prefix] = prefixes[0].Prefix.String()
			if prefixes[0].ValidLifetime > 0 {
				options[ipconfig.OptionIP6PrefixMaxLife] = formatSeconds(prefixes[0].ValidLifetime)
				options[ipconfig.OptionIP6PrefixPreferredLife] = formatSeconds(prefixes[0].PreferredLifetime)
			}
			if _, ok := options[ipconfig.OptionIP6Address]; !ok {
				lifetime = prefixes[0].ValidLifetime
				preferred = prefixes[0].PreferredLifetime
			}
		}
	}
	if lifetime > 0 {
		options[ipconfig.OptionMaxLife] = formatSeconds(lifetime)
		options[ipconfig.OptionPreferredLife] = formatSeconds(preferred)
	}
	setOption(options, ipconfig.OptionDHCP6NameServers, formatAddresses(reply.Options.DNS()))
	setOption(options, ipconfig.OptionDHCP6Search, formatLabels(reply.Options.DomainSearchList()))
	return options
}
