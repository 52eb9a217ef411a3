// Package dhcpcd implements the backend running the dhcpcd daemon in the
// foreground. Only DHCPv4 is supported. dhcpcd keeps its DUID in its own
// database directory.
package dhcpcd

import (
	"net/netip"
	"os"
	"strings"

	"github.com/pkg/errors"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/dhcpclient"
	leaseutil "isc.org/leasekeeper/util"
)

// Name of the backend.
const BackendName = "dhcpcd"

// Location of the DUID file in the dhcpcd database directory.
const DefaultDUIDFile = "/var/lib/dhcpcd/duid"

const binaryName = "dhcpcd"

// dhcpcd backend.
type Backend struct {
	*program.Base
	pidFile  string
	duidFile string
}

var _ dhcpclient.Backend = (*Backend)(nil)

// Returns the registry entry of the backend.
func Entry(env *program.Environment) dhcpclient.BackendEntry {
	return dhcpclient.BackendEntry{
		Name:      BackendName,
		New:       New(env, DefaultDUIDFile),
		Available: env.Available(binaryName),
	}
}

// Returns the constructor of the backend reading the DUID from a given
// file.
func New(env *program.Environment, duidFile string) dhcpclient.Constructor {
	return func(client *dhcpclient.Client) (dhcpclient.Backend, error) {
		path, err := env.FindBinary(binaryName)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Base:     program.NewBase(client, env, path),
			pidFile:  env.PidFile(binaryName, client.Family(), client.Interface()),
			duidFile: duidFile,
		}, nil
	}
}

// Runs dhcpcd for the interface. dhcpcd does not manage the routes and
// does not fall back to IPv4LL; the lease is applied by the owner of the
// interface.
func (b *Backend) StartIPv4(anycast string, lastAddress string) error {
	client := b.Client()
	env := b.Env()
	if err := env.MakeDirs(); err != nil {
		return err
	}
	if err := client.Killer().StopExisting(b.pidFile, b.BinaryPath()); err != nil {
		client.Logger().WithError(err).Warn("Cannot stop the previous dhcpcd instance")
	}

	args := []string{"-B", "-K", "-L", "-G", "-c", env.HelperPath}
	if hostname := client.RequestHostname(); hostname != "" {
		if client.UseFQDN() && strings.Contains(hostname, ".") {
			args = append(args, "-F", "both")
		}
		args = append(args, "-h", hostname)
	}
	if clientID := client.ClientID(); len(clientID) > 0 {
		args = append(args, "-I", leaseutil.FormatHexColon(clientID))
	}
	if lastAddress != "" {
		if address, err := netip.ParseAddr(lastAddress); err == nil && address.Is4() {
			args = append(args, "-r", address.String())
		}
	}
	if anycast != "" {
		client.Logger().WithField("anycast", anycast).Debug("dhcpcd does not support the anycast address")
	}
	args = append(args, "-4", client.Interface())

	process, err := b.Start(args...)
	if err != nil {
		return err
	}
	if err = program.WritePidFile(b.pidFile, process.Pid()); err != nil {
		client.Logger().WithError(err).Warn("Cannot write dhcpcd pid file")
	}
	return nil
}

// DHCPv6 is not supported.
func (b *Backend) StartIPv6(anycast string, linkLocal netip.Addr, privacy dhcpclient.PrivacyMode, neededPrefixes uint) error {
	return errors.WithMessage(dhcpclient.ErrUnsupported, "dhcpcd backend does not support DHCPv6")
}

// Stops dhcpcd. The release asks the running dhcpcd to release the lease
// before it is terminated.
func (b *Backend) Stop(release bool) {
	client := b.Client()
	if release && b.Process() != nil {
		if _, err := b.Run("-k", "-4", client.Interface()); err != nil {
			client.Logger().WithError(err).Warn("Cannot release the dhcpcd lease")
		}
	}
	b.StopProcess()
	if err := os.Remove(b.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		client.Logger().WithError(err).Warn("Cannot remove dhcpcd pid file")
	}
}

// Returns the DUID from the dhcpcd DUID file.
func (b *Backend) GetDUID() []byte {
	data, err := os.ReadFile(b.duidFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.Client().Logger().WithError(err).Warn("Cannot read dhcpcd DUID file")
		}
		return nil
	}
	duid, err := leaseutil.ParseHexColon(strings.TrimSpace(string(data)))
	if err != nil {
		b.Client().Logger().WithError(err).Warn("Invalid dhcpcd DUID file")
		return nil
	}
	return duid
}
