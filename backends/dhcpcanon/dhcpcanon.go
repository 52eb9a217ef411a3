// Package dhcpcanon implements the experimental backend running
// dhcpcanon, the DHCPv4 client implementing the anonymity profiles
// (RFC 7844). The client identifier and the hostname are never sent.
package dhcpcanon

import (
	"net/netip"

	"github.com/pkg/errors"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/dhcpclient"
)

// Name of the backend.
const BackendName = "dhcpcanon"

const binaryName = "dhcpcanon"

// dhcpcanon backend.
type Backend struct {
	*program.Base
	pidFile string
}

var _ dhcpclient.Backend = (*Backend)(nil)

// Returns the registry entry of the backend.
func Entry(env *program.Environment) dhcpclient.BackendEntry {
	return dhcpclient.BackendEntry{
		Name:         BackendName,
		Experimental: true,
		New:          New(env),
		Available:    env.Available(binaryName),
	}
}

// Returns the constructor of the backend.
func New(env *program.Environment) dhcpclient.Constructor {
	return func(client *dhcpclient.Client) (dhcpclient.Backend, error) {
		path, err := env.FindBinary(binaryName)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Base:    program.NewBase(client, env, path),
			pidFile: env.PidFile(binaryName, client.Family(), client.Interface()),
		}, nil
	}
}

// Runs dhcpcanon for the interface.
func (b *Backend) StartIPv4(anycast string, lastAddress string) error {
	client := b.Client()
	env := b.Env()
	if err := env.MakeDirs(); err != nil {
		return err
	}
	if err := client.Killer().StopExisting(b.pidFile, b.BinaryPath()); err != nil {
		client.Logger().WithError(err).Warn("Cannot stop the previous dhcpcanon instance")
	}
	if len(client.ClientID()) > 0 || client.Hostname() != "" {
		client.Logger().Debug("dhcpcanon does not send the client identifier and the hostname")
	}
	_, err := b.Start("-sf", env.HelperPath, "-pf", b.pidFile, client.Interface())
	return err
}

// DHCPv6 is not supported.
func (b *Backend) StartIPv6(anycast string, linkLocal netip.Addr, privacy dhcpclient.PrivacyMode, neededPrefixes uint) error {
	return errors.WithMessage(dhcpclient.ErrUnsupported, "dhcpcanon backend does not support DHCPv6")
}

// Stops dhcpcanon. The lease release is not supported.
func (b *Backend) Stop(release bool) {
	if release {
		b.Client().Logger().Debug("dhcpcanon does not support the lease release")
	}
	b.StopProcess()
}
