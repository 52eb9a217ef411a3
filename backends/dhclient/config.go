package dhclient

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"isc.org/leasekeeper/ipconfig"
	leaseutil "isc.org/leasekeeper/util"
)

// Options requested in addition to the dhclient defaults.
var (
	//nolint:gochecknoglobals
	requestOptions4 = []string{
		"rfc3442-classless-static-routes",
		"static-routes",
		"ntp-servers",
		"interface-mtu",
	}
	//nolint:gochecknoglobals
	requestOptions6 = []string{
		"dhcp6.name-servers",
		"dhcp6.domain-search",
		"dhcp6.client-id",
	}
)

// Parameters of the generated configuration.
type configParams struct {
	family      ipconfig.Family
	iface       string
	hostname    string
	useFQDN     bool
	clientID    []byte
	anycastMAC  net.HardwareAddr
	lastAddress netip.Addr
}

// Generates the dhclient configuration.
func generateConfig(params configParams) string {
	var builder strings.Builder
	builder.WriteString("# Generated by leasekeeper. Changes will be overwritten.\n\n")

	switch {
	case params.hostname == "":
	case params.useFQDN || params.family == ipconfig.FamilyIPv6:
		fmt.Fprintf(&builder, "send fqdn.fqdn \"%s\";\n", params.hostname)
		builder.WriteString("send fqdn.encoded on;\n")
		builder.WriteString("send fqdn.server-update on;\n")
	default:
		fmt.Fprintf(&builder, "send host-name \"%s\";\n", params.hostname)
	}

	if params.family == ipconfig.FamilyIPv4 {
		if len(params.clientID) > 0 {
			fmt.Fprintf(&builder, "send dhcp-client-identifier %s;\n", leaseutil.FormatHexColon(params.clientID))
		}
		if params.lastAddress.IsValid() {
			fmt.Fprintf(&builder, "send dhcp-requested-address %s;\n", params.lastAddress)
		}
		builder.WriteString("\noption rfc3442-classless-static-routes code 121 = array of unsigned integer 8;\n")
	}

	builder.WriteString("\n")
	requested := requestOptions4
	if params.family == ipconfig.FamilyIPv6 {
		requested = requestOptions6
	}
	for _, option := range requested {
		fmt.Fprintf(&builder, "also request %s;\n", option)
	}

	if len(params.anycastMAC) > 0 {
		fmt.Fprintf(&builder, "\ninterface \"%s\" {\n", params.iface)
		fmt.Fprintf(&builder, "\tinitial-interval 1;\n")
		fmt.Fprintf(&builder, "\tanycast-mac ethernet %s;\n", params.anycastMAC)
		builder.WriteString("}\n")
	}
	return builder.String()
}

// Writes the configuration file.
func writeConfig(path string, params configParams) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create the directory of %s", path)
	}
	err := os.WriteFile(path, []byte(generateConfig(params)), 0o644)
	return errors.Wrapf(err, "cannot write dhclient configuration %s", path)
}
