// Package dhclient implements the backend running the ISC dhclient
// program. dhclient reports the lease events through the helper set as
// its script. Both address families are supported. The DHCPv6 DUID is
// kept in the lease file.
package dhclient

import (
	"net"
	"net/netip"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/ipconfig"
)

// Name of the backend.
const BackendName = "dhclient"

const binaryName = "dhclient"

// dhclient backend.
type Backend struct {
	*program.Base
	pidFile    string
	leaseFile  string
	configFile string
}

var _ dhcpclient.Backend = (*Backend)(nil)

// Returns the registry entry of the backend.
func Entry(env *program.Environment) dhcpclient.BackendEntry {
	return dhcpclient.BackendEntry{
		Name:      BackendName,
		New:       New(env),
		Available: env.Available(binaryName),
	}
}

// Returns the constructor of the backend.
func New(env *program.Environment) dhcpclient.Constructor {
	return func(client *dhcpclient.Client) (dhcpclient.Backend, error) {
		path, err := env.FindBinary(binaryName)
		if err != nil {
			return nil, err
		}
		family := client.Family()
		iface := client.Interface()
		return &Backend{
			Base:       program.NewBase(client, env, path),
			pidFile:    env.PidFile(binaryName, family, iface),
			leaseFile:  env.LeaseFile(binaryName, family, client.UUID(), iface),
			configFile: env.ConfigFile(binaryName, family, iface),
		}, nil
	}
}

// Starts dhclient in the DHCPv4 mode. Without the last address, the
// address of the last lease in the lease file is requested.
func (b *Backend) StartIPv4(anycast string, lastAddress string) error {
	client := b.Client()
	params := configParams{
		family:   ipconfig.FamilyIPv4,
		iface:    client.Interface(),
		hostname: client.RequestHostname(),
		useFQDN:  client.UseFQDN(),
		clientID: client.ClientID(),
	}
	if anycast != "" {
		mac, err := net.ParseMAC(anycast)
		if err != nil {
			return errors.Wrapf(err, "invalid anycast address %s", anycast)
		}
		params.anycastMAC = mac
	}
	if lastAddress == "" {
		leases, err := ParseLeaseFile(b.leaseFile)
		if err != nil {
			client.Logger().WithError(err).Warn("Cannot read the last dhclient lease")
		} else {
			lastAddress = leases.GetLastAddress(client.Interface())
		}
	}
	if lastAddress != "" {
		if address, err := netip.ParseAddr(lastAddress); err == nil && address.Is4() {
			params.lastAddress = address
		}
	}
	return b.start(params)
}

// Starts dhclient in the DHCPv6 mode. The DUID chosen by the client is
// written to the lease file where dhclient reads it from. dhclient has
// no control over the privacy extensions.
func (b *Backend) StartIPv6(anycast string, linkLocal netip.Addr, privacy dhcpclient.PrivacyMode, neededPrefixes uint) error {
	client := b.Client()
	if duid := client.DUID(); len(duid) > 0 {
		if err := WriteDUID(b.leaseFile, duid); err != nil {
			return err
		}
	}
	client.Logger().WithFields(log.Fields{
		"link-local": linkLocal,
		"privacy":    privacy,
	}).Debug("Link-local address and privacy mode are managed by dhclient")

	params := configParams{
		family:   ipconfig.FamilyIPv6,
		iface:    client.Interface(),
		hostname: client.RequestHostname(),
		useFQDN:  client.UseFQDN(),
	}
	args := []string{"-6"}
	switch {
	case client.InfoOnly():
		args = append(args, "-S")
	default:
		args = append(args, "-N")
		if neededPrefixes > 0 {
			args = append(args, "-P")
		}
	}
	return b.start(params, args...)
}

// Writes the configuration and runs dhclient in the foreground. The
// dhclient instance left on the interface by the previous run is
// stopped first.
func (b *Backend) start(params configParams, familyArgs ...string) error {
	client := b.Client()
	env := b.Env()
	if err := env.MakeDirs(); err != nil {
		return err
	}
	if err := client.Killer().StopExisting(b.pidFile, b.BinaryPath()); err != nil {
		client.Logger().WithError(err).Warn("Cannot stop the previous dhclient instance")
	}
	if err := writeConfig(b.configFile, params); err != nil {
		return err
	}

	args := []string{
		"-d", "-q",
		"-sf", env.HelperPath,
		"-pf", b.pidFile,
		"-lf", b.leaseFile,
		"-cf", b.configFile,
	}
	args = append(args, familyArgs...)
	for _, variable := range env.HelperEnv() {
		args = append(args, "-e", variable)
	}
	args = append(args, client.Interface())

	_, err := b.Start(args...)
	return err
}

// Stops dhclient. The release runs a separate dhclient instance which
// sends the release message and exits. It runs the helper program too, so
// the release is reported to the daemon instead of the default script.
func (b *Backend) Stop(release bool) {
	b.StopProcess()
	if err := os.Remove(b.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.Client().Logger().WithError(err).Warn("Cannot remove dhclient pid file")
	}
	if !release {
		return
	}

	args := []string{"-r"}
	if b.Client().Family() == ipconfig.FamilyIPv6 {
		args = append(args, "-6")
	}
	env := b.Env()
	args = append(args,
		"-sf", env.HelperPath,
		"-pf", b.pidFile,
		"-lf", b.leaseFile,
		"-cf", b.configFile,
	)
	for _, variable := range env.HelperEnv() {
		args = append(args, "-e", variable)
	}
	args = append(args, b.Client().Interface())
	if _, err := b.Run(args...); err != nil {
		b.Client().Logger().WithError(err).Warn("Cannot release the dhclient lease")
	}
}

// Returns the DUID stored in the DHCPv6 lease file.
func (b *Backend) GetDUID() []byte {
	if b.Client().Family() != ipconfig.FamilyIPv6 {
		return nil
	}
	leases, err := ParseLeaseFile(b.leaseFile)
	if err != nil {
		b.Client().Logger().WithError(err).Warn("Cannot read the DUID from the dhclient lease file")
		return nil
	}
	return leases.GetDefaultDUID()
}
