package program

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/dhcpclient"
)

// Common part of the program backends. It runs the client program and
// hands it over to the client for supervision.
type Base struct {
	client     *dhcpclient.Client
	env        *Environment
	binaryPath string
	process    dhcpclient.Process
}

// Creates the base running the given binary.
func NewBase(client *dhcpclient.Client, env *Environment, binaryPath string) *Base {
	return &Base{
		client:     client,
		env:        env,
		binaryPath: binaryPath,
	}
}

// Returns the owning client.
func (b *Base) Client() *dhcpclient.Client {
	return b.client
}

// Returns the environment.
func (b *Base) Env() *Environment {
	return b.env
}

// Returns the path of the client program.
func (b *Base) BinaryPath() string {
	return b.binaryPath
}

// Runs the program without supervising it.
func (b *Base) Run(args ...string) (dhcpclient.Process, error) {
	b.client.Logger().WithFields(log.Fields{
		"binary": b.binaryPath,
		"args":   strings.Join(args, " "),
	}).Debug("Running DHCP client program")

	process, err := b.env.Spawner.Spawn(b.binaryPath, args, b.env.HelperEnv())
	if err != nil {
		return nil, errors.WithMessage(err, "cannot run DHCP client program")
	}
	return process, nil
}

// Runs the program and makes the client supervise it. The events
// reported by the helper are accepted only from this process.
func (b *Base) Start(args ...string) (dhcpclient.Process, error) {
	process, err := b.Run(args...)
	if err != nil {
		return nil, err
	}
	b.process = process
	b.client.WatchChild(process)
	b.client.Logger().WithField("pid", process.Pid()).Info("DHCP client program started")
	return process, nil
}

// Stops the supervised program unless it already exited.
func (b *Base) StopProcess() {
	process := b.process
	b.process = nil
	if process == nil {
		return
	}
	select {
	case <-process.Done():
		return
	default:
	}
	b.client.Killer().StopProcess(process, b.client.Interface())
}

// Returns the supervised program or nil.
func (b *Base) Process() dhcpclient.Process {
	return b.process
}

// The program applies the lease on its own.
func (b *Base) Accept() error {
	return nil
}

// The program declines the lease on its own.
func (b *Base) Decline(reason string) error {
	return nil
}

// The program does not expose its DUID.
func (b *Base) GetDUID() []byte {
	return nil
}
