package dhcpclient

import (
	"math"
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"isc.org/leasekeeper/ipconfig"
)

// Timeout values in seconds.
const (
	// Used when the timeout is not specified.
	TimeoutDefault uint32 = 45
	// Disables the timeout checking.
	TimeoutInfinity uint32 = math.MaxInt32
)

// Client flags.
type Flags uint

// Supported client flags.
const (
	// DHCPv6 information-only mode, i.e., only the configuration options
	// are requested and no address is leased.
	FlagInfoOnly Flags = 1 << iota
	// Send the full hostname (FQDN) instead of its first label.
	FlagUseFQDN
)

// Construction settings of the client. All values except the route table
// and metric are immutable after construction.
type Settings struct {
	Family          ipconfig.Family
	Flags           Flags
	HWAddr          net.HardwareAddr
	BroadcastHWAddr net.HardwareAddr
	IfIndex         int
	Interface       string
	Hostname        string
	RouteMetric     uint32
	RouteTable      uint32
	// Timeout in seconds. Zero means TimeoutDefault.
	Timeout uint32
	UUID    string
}

// Validates the settings.
func (s *Settings) validate() error {
	if strings.TrimSpace(s.Interface) == "" {
		return errors.New("interface name must not be empty")
	}
	if s.Family != ipconfig.FamilyIPv4 && s.Family != ipconfig.FamilyIPv6 {
		return errors.Errorf("unsupported address family %d", s.Family)
	}
	if s.IfIndex <= 0 {
		return errors.Errorf("invalid interface index %d of %s", s.IfIndex, s.Interface)
	}
	if s.Hostname != "" {
		if _, ok := dns.IsDomainName(s.Hostname); !ok {
			return errors.Errorf("invalid hostname %s", s.Hostname)
		}
	}
	return nil
}

// Returns the effective timeout in seconds.
func (s *Settings) effectiveTimeout() uint32 {
	if s.Timeout == 0 {
		return TimeoutDefault
	}
	return s.Timeout
}
