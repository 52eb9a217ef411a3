// Package backends wires every DHCP backend variant into the registry
// used by the daemon.
package backends

import (
	"isc.org/leasekeeper/backends/builtin"
	"isc.org/leasekeeper/backends/dhclient"
	"isc.org/leasekeeper/backends/dhcpcanon"
	"isc.org/leasekeeper/backends/dhcpcd"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/dhcpclient"
)

// Name of the backend used when none is configured.
const DefaultBackend = builtin.BackendName

// Creates the registry with the program backends running in the given
// environment and the built-in backend keeping its state in the state
// directory of the environment.
func NewDefaultRegistry(env *program.Environment) (*dhcpclient.Registry, error) {
	return dhcpclient.NewRegistry(
		dhclient.Entry(env),
		dhcpcd.Entry(env),
		dhcpcanon.Entry(env),
		builtin.Entry(env.StateDir),
	)
}
