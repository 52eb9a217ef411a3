package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/ipconfig"
	"isc.org/leasekeeper/testutil"
)

// Test that the configuration with comments is parsed.
func TestParseConfig(t *testing.T) {
	// Arrange
	data := []byte(`
		// Daemon configuration.
		{
			"backend": "dhclient",
			"enable-experimental": true,
			"hostname": "host.example.org",
			"restart-delay": 30,
			"interfaces": [
				/* Uplink. */
				{ "name": "eth0", "family": "ipv4", "client-id": "mac", "timeout": -1 },
				{ "name": "eth0", "family": "ipv6", "prefixes": 1, "privacy": "prefer-temporary" }
			]
		}
	`)

	// Act
	config, err := ParseConfig(data)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "dhclient", config.Backend)
	require.True(t, config.EnableExperimental)
	require.Equal(t, 30, config.RestartDelaySeconds())
	require.Len(t, config.Interfaces, 2)

	require.Equal(t, ipconfig.FamilyIPv4, config.Interfaces[0].AddressFamily())
	require.Equal(t, dhcpclient.TimeoutInfinity, config.Interfaces[0].TimeoutSeconds())
	require.True(t, config.Interfaces[0].SendsHostname())

	require.Equal(t, ipconfig.FamilyIPv6, config.Interfaces[1].AddressFamily())
	require.Equal(t, dhcpclient.TimeoutDefault, config.Interfaces[1].TimeoutSeconds())
	require.EqualValues(t, 1, config.Interfaces[1].Prefixes)
	require.Equal(t, dhcpclient.PrivacyPreferTemporary, config.Interfaces[1].PrivacyMode())
}

// Test that the default restart delay is used when not specified.
func TestRestartDelayDefault(t *testing.T) {
	config, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, DefaultRestartDelay, config.RestartDelaySeconds())
	require.Empty(t, config.Interfaces)
}

// Test that the malformed configuration is rejected.
func TestParseConfigMalformed(t *testing.T) {
	_, err := ParseConfig([]byte(`{ "interfaces": [ `))
	require.ErrorContains(t, err, "problem parsing the configuration")
}

// Test that the invalid configurations are rejected.
func TestParseConfigInvalid(t *testing.T) {
	testCases := map[string]string{
		"invalid global hostname":   `{ "hostname": "-bad-" }`,
		"missing name":              `{ "interfaces": [ { "family": "ipv4" } ] }`,
		"invalid family":            `{ "interfaces": [ { "name": "eth0", "family": "ipx" } ] }`,
		"invalid timeout":           `{ "interfaces": [ { "name": "eth0", "family": "ipv4", "timeout": -2 } ] }`,
		"invalid hostname":          `{ "interfaces": [ { "name": "eth0", "family": "ipv4", "hostname": "a b" } ] }`,
		"invalid anycast":           `{ "interfaces": [ { "name": "eth0", "family": "ipv4", "anycast-address": "xyz" } ] }`,
		"invalid last address":      `{ "interfaces": [ { "name": "eth0", "family": "ipv4", "last-address": "2001:db8::1" } ] }`,
		"invalid client id":         `{ "interfaces": [ { "name": "eth0", "family": "ipv4", "client-id": "zz:01" } ] }`,
		"invalid duid":              `{ "interfaces": [ { "name": "eth0", "family": "ipv6", "duid": "0g" } ] }`,
		"invalid privacy":           `{ "interfaces": [ { "name": "eth0", "family": "ipv6", "privacy": "always" } ] }`,
		"prefixes for ipv4":         `{ "interfaces": [ { "name": "eth0", "family": "ipv4", "prefixes": 1 } ] }`,
		"client id for ipv6":        `{ "interfaces": [ { "name": "eth0", "family": "ipv6", "client-id": "mac" } ] }`,
		"enforced missing duid":     `{ "interfaces": [ { "name": "eth0", "family": "ipv6", "enforce-duid": true } ] }`,
		"duplicate interface entry": `{ "interfaces": [ { "name": "eth0", "family": "ipv4" }, { "name": "eth0", "family": "4" } ] }`,
	}
	for name, data := range testCases {
		data := data
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			require.Error(t, err)
		})
	}
}

// Test that the configuration is read from the file.
func TestLoadConfig(t *testing.T) {
	// Arrange
	sb := testutil.NewSandbox()
	defer sb.Close()
	path, err := sb.Write("leasekeeper.conf", `{ "interfaces": [ { "name": "eth1", "family": "inet6", "duid": "00:03:00:01:00:11:22:33:44:55", "enforce-duid": true } ] }`)
	require.NoError(t, err)

	// Act
	config, err := LoadConfig(path)

	// Assert
	require.NoError(t, err)
	require.Len(t, config.Interfaces, 1)
	require.Equal(t, "eth1", config.Interfaces[0].Name)
	require.True(t, config.Interfaces[0].EnforceDUID)
}

// Test that the missing file is reported.
func TestLoadConfigMissing(t *testing.T) {
	sb := testutil.NewSandbox()
	defer sb.Close()

	_, err := LoadConfig(sb.Path("missing.conf"))

	require.ErrorContains(t, err, "cannot read the configuration file")
}

// Test that the hostname is not sent when disabled.
func TestSendsHostname(t *testing.T) {
	disabled := false
	config := InterfaceConfig{SendHostname: &disabled}
	require.False(t, config.SendsHostname())
	require.True(t, (&InterfaceConfig{}).SendsHostname())
}
