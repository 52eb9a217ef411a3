package daemon

import (
	"os"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/ipconfig"
	leaseutil "isc.org/leasekeeper/util"
	"muzzammil.xyz/jsonc"
)

// Default location of the daemon configuration.
const DefaultConfigPath = "/etc/leasekeeper/leasekeeper.conf"

// Default delay in seconds before the client that failed is started
// again.
const DefaultRestartDelay = 10

// Special values of the configured timeout.
const (
	// The timeout is not specified and the default is used.
	timeoutDefault = 0
	// The transaction never times out.
	timeoutInfinity = -1
)

// Daemon configuration. It is read from the JSON file that may contain
// comments.
type Config struct {
	// Backend used by the interfaces not specifying one.
	Backend string `json:"backend"`
	// Allows selecting the experimental backends.
	EnableExperimental bool `json:"enable-experimental"`
	// Hostname sent to the servers. The system FQDN when empty.
	Hostname string `json:"hostname"`
	// Delay in seconds before the failed client is started again. The
	// negative value disables the restarts.
	RestartDelay *int `json:"restart-delay"`
	// Configured DHCP clients.
	Interfaces []InterfaceConfig `json:"interfaces"`
}

// Configuration of the DHCP client running on the interface for one
// address family.
type InterfaceConfig struct {
	Name string `json:"name"`
	// Address family: ipv4 or ipv6.
	Family string `json:"family"`
	// Overrides the global backend.
	Backend string `json:"backend"`
	// Transaction timeout in seconds. Zero means the default and -1 means
	// no timeout.
	Timeout int `json:"timeout"`
	// Sends the hostname. Enabled when not specified.
	SendHostname *bool `json:"send-hostname"`
	// Overrides the global hostname.
	Hostname string `json:"hostname"`
	// Sends the full hostname instead of its first label.
	UseFQDN bool `json:"use-fqdn"`
	// Client identifier in the hex-colon format or "mac" for the
	// identifier derived from the hardware address.
	ClientID string `json:"client-id"`
	// DUID in the hex-colon format.
	DUID string `json:"duid"`
	// Uses the configured DUID even if the backend persisted another one.
	EnforceDUID bool `json:"enforce-duid"`
	// DHCPv6 information-only mode.
	InfoOnly bool `json:"info-only"`
	// Number of the delegated prefixes to request.
	Prefixes uint `json:"prefixes"`
	// IPv6 privacy extensions: disabled, prefer-public or
	// prefer-temporary.
	Privacy string `json:"privacy"`
	// Anycast hardware address.
	AnycastAddress string `json:"anycast-address"`
	// Address requested in the DHCPv4 discovery.
	LastAddress string `json:"last-address"`
	RouteTable  uint32 `json:"route-table"`
	RouteMetric uint32 `json:"route-metric"`
	// Releases the lease when the daemon stops.
	ReleaseOnStop bool `json:"release-on-stop"`
}

// Reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read the configuration file %s", path)
	}
	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration file %s", path)
	}
	return config, nil
}

// Parses and validates the configuration.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := jsonc.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "problem parsing the configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Checks the configuration.
func (c *Config) Validate() error {
	if c.Hostname != "" && !govalidator.IsDNSName(c.Hostname) {
		return errors.Errorf("invalid hostname %s", c.Hostname)
	}
	type key struct {
		name   string
		family ipconfig.Family
	}
	seen := make(map[key]bool)
	for i := range c.Interfaces {
		iface := &c.Interfaces[i]
		if err := iface.Validate(); err != nil {
			return errors.WithMessagef(err, "interface #%d", i+1)
		}
		k := key{iface.Name, iface.AddressFamily()}
		if seen[k] {
			return errors.Errorf("duplicate %s configuration of interface %s", iface.Family, iface.Name)
		}
		seen[k] = true
	}
	return nil
}

// Returns the restart delay in seconds. The negative value means the
// restarts are disabled.
func (c *Config) RestartDelaySeconds() int {
	if c.RestartDelay == nil {
		return DefaultRestartDelay
	}
	return *c.RestartDelay
}

// Checks the interface configuration.
func (c *InterfaceConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("missing interface name")
	}
	family := c.AddressFamily()
	if family == 0 {
		return errors.Errorf("invalid address family %s of interface %s", c.Family, c.Name)
	}
	if c.Timeout < timeoutInfinity {
		return errors.Errorf("invalid timeout %d of interface %s", c.Timeout, c.Name)
	}
	if c.Hostname != "" && !govalidator.IsDNSName(c.Hostname) {
		return errors.Errorf("invalid hostname %s of interface %s", c.Hostname, c.Name)
	}
	if c.AnycastAddress != "" && !govalidator.IsMAC(c.AnycastAddress) {
		return errors.Errorf("invalid anycast address %s of interface %s", c.AnycastAddress, c.Name)
	}
	if c.LastAddress != "" && !govalidator.IsIPv4(c.LastAddress) {
		return errors.Errorf("invalid last address %s of interface %s", c.LastAddress, c.Name)
	}
	if c.ClientID != "" && c.ClientID != "mac" {
		if _, err := leaseutil.ParseHexColon(c.ClientID); err != nil {
			return errors.WithMessagef(err, "invalid client identifier of interface %s", c.Name)
		}
	}
	if c.DUID != "" {
		if _, err := leaseutil.ParseHexColon(c.DUID); err != nil {
			return errors.WithMessagef(err, "invalid DUID of interface %s", c.Name)
		}
	}
	if _, ok := parsePrivacy(c.Privacy); !ok {
		return errors.Errorf("invalid privacy mode %s of interface %s", c.Privacy, c.Name)
	}

	switch family {
	case ipconfig.FamilyIPv4:
		if c.InfoOnly || c.Prefixes > 0 || c.DUID != "" || c.EnforceDUID || c.Privacy != "" {
			return errors.Errorf("DHCPv6 settings specified for the DHCPv4 client of interface %s", c.Name)
		}
	case ipconfig.FamilyIPv6:
		if c.ClientID != "" || c.LastAddress != "" {
			return errors.Errorf("DHCPv4 settings specified for the DHCPv6 client of interface %s", c.Name)
		}
		if c.EnforceDUID && c.DUID == "" {
			return errors.Errorf("DUID enforced but not specified for interface %s", c.Name)
		}
	}
	return nil
}

// Returns the address family. Zero means an invalid family.
func (c *InterfaceConfig) AddressFamily() ipconfig.Family {
	switch strings.ToLower(strings.TrimSpace(c.Family)) {
	case "ipv4", "inet", "4":
		return ipconfig.FamilyIPv4
	case "ipv6", "inet6", "6":
		return ipconfig.FamilyIPv6
	default:
		return 0
	}
}

// Returns the transaction timeout in seconds accepted by the client.
func (c *InterfaceConfig) TimeoutSeconds() uint32 {
	switch c.Timeout {
	case timeoutDefault:
		return dhcpclient.TimeoutDefault
	case timeoutInfinity:
		return dhcpclient.TimeoutInfinity
	default:
		return uint32(c.Timeout)
	}
}

// Indicates if the hostname is sent.
func (c *InterfaceConfig) SendsHostname() bool {
	return c.SendHostname == nil || *c.SendHostname
}

// Returns the privacy mode.
func (c *InterfaceConfig) PrivacyMode() dhcpclient.PrivacyMode {
	mode, _ := parsePrivacy(c.Privacy)
	return mode
}

// Parses the privacy mode name. The empty name means the unknown mode.
func parsePrivacy(name string) (dhcpclient.PrivacyMode, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return dhcpclient.PrivacyUnknown, true
	case "disabled":
		return dhcpclient.PrivacyDisabled, true
	case "prefer-public":
		return dhcpclient.PrivacyPreferPublic, true
	case "prefer-temporary":
		return dhcpclient.PrivacyPreferTemporary, true
	default:
		return dhcpclient.PrivacyUnknown, false
	}
}
