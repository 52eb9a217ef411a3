package daemon

import (
	"net"
	"net/netip"

	fqdn "github.com/Showmax/go-fqdn"
	"github.com/pkg/errors"
)

// Network link the DHCP client runs on.
type Link struct {
	Index        int
	HardwareAddr net.HardwareAddr
	// IPv6 link-local address. It is invalid when the link has none.
	LinkLocal netip.Addr
}

// Looks up the network links by name.
type LinkResolver interface {
	Resolve(name string) (*Link, error)
}

// Link resolver using the system interfaces.
type systemLinkResolver struct{}

// Returns the link of the system interface.
func (systemLinkResolver) Resolve(name string) (*Link, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find interface %s", name)
	}
	link := &Link{
		Index:        iface.Index,
		HardwareAddr: iface.HardwareAddr,
	}
	addresses, err := iface.Addrs()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read the addresses of interface %s", name)
	}
	for _, address := range addresses {
		network, ok := address.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(network.IP)
		if ok && ip.Is6() && !ip.Is4In6() && ip.IsLinkLocalUnicast() {
			link.LinkLocal = ip
			break
		}
	}
	return link, nil
}

// Returns the hostname sent when none is configured.
type HostnameFunc func() (string, error)

// Returns the fully qualified hostname of the system.
func systemHostname() (string, error) {
	hostname, err := fqdn.FqdnHostname()
	return hostname, errors.Wrap(err, "cannot determine the system hostname")
}
