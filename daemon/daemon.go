// Package daemon runs the DHCP clients configured for the network
// interfaces. Each configured interface and address family is owned by a
// device that creates the client with the selected backend, accepts the
// bound leases and starts a new client after a failure. The helper events
// arrive through the event server and the lease metrics are exported by
// the collector.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/backends"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/eventserver"
	"isc.org/leasekeeper/metrics"
)

// Daemon settings given on the command line.
type Settings struct {
	// Socket receiving the helper events.
	SocketPath string
	// Directory of the lease and DUID files.
	StateDir string
	// Directory of the pid and generated configuration files.
	RunDir string
	// Helper executed by the client programs.
	HelperPath string
	// Metrics endpoint. The metrics are not exported when disabled.
	EnableMetrics  bool
	MetricsAddress string
	MetricsPort    int
}

// Optional daemon setting.
type Option func(*Daemon)

// Sets the backend registry. The default registry contains all backends.
func WithRegistry(registry *dhcpclient.Registry) Option {
	return func(d *Daemon) {
		d.registry = registry
	}
}

// Sets the clock of the event loop.
func WithClock(clk clock.Clock) Option {
	return func(d *Daemon) {
		d.clock = clk
	}
}

// Sets the resolver of the network links.
func WithLinkResolver(resolver LinkResolver) Option {
	return func(d *Daemon) {
		d.resolver = resolver
	}
}

// Sets the function returning the default hostname.
func WithHostnameFunc(hostname HostnameFunc) Option {
	return func(d *Daemon) {
		d.hostnameFunc = hostname
	}
}

// Sets the killer stopping the helper processes.
func WithProcessKiller(killer *dhcpclient.ProcessKiller) Option {
	return func(d *Daemon) {
		d.killer = killer
	}
}

// DHCP client daemon.
type Daemon struct {
	settings     Settings
	config       *Config
	clock        clock.Clock
	loop         *dhcpclient.Loop
	registry     *dhcpclient.Registry
	bridge       *dhcpclient.EventBridge
	killer       *dhcpclient.ProcessKiller
	server       *eventserver.Server
	collector    *metrics.Collector
	resolver     LinkResolver
	hostnameFunc HostnameFunc

	// Hostname determined once on the first use.
	hostnameOnce   sync.Once
	systemHostname string

	devices []*device
}

// Creates the daemon. The clients are not started until Start is called.
func New(settings Settings, config *Config, opts ...Option) (*Daemon, error) {
	if config == nil {
		return nil, errors.New("missing daemon configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	d := &Daemon{
		settings:     settings,
		config:       config,
		resolver:     systemLinkResolver{},
		hostnameFunc: systemHostname,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.killer == nil {
		d.killer = dhcpclient.NewProcessKiller(d.clock)
	}
	if d.registry == nil {
		registry, err := backends.NewDefaultRegistry(d.environment())
		if err != nil {
			return nil, err
		}
		d.registry = registry
	}

	d.loop = dhcpclient.NewLoop(d.clock)
	d.bridge = dhcpclient.NewEventBridge(d.loop)
	d.collector = metrics.NewCollector()
	d.bridge.OnDrop(d.collector.OnEventDropped)
	d.server = eventserver.NewServer(settings.SocketPath, d.bridge)

	for _, iface := range config.Interfaces {
		d.devices = append(d.devices, newDevice(d, iface))
	}
	return d, nil
}

// Returns the environment of the program backends.
func (d *Daemon) environment() *program.Environment {
	env := program.NewEnvironment()
	if d.settings.StateDir != "" {
		env.StateDir = d.settings.StateDir
	}
	if d.settings.RunDir != "" {
		env.RunDir = d.settings.RunDir
	}
	if d.settings.HelperPath != "" {
		env.HelperPath = d.settings.HelperPath
	}
	if d.settings.SocketPath != "" {
		env.HelperSocket = d.settings.SocketPath
	}
	return env
}

// Returns the name of the default backend.
func (d *Daemon) backend() string {
	if d.config.Backend != "" {
		return d.config.Backend
	}
	return backends.DefaultBackend
}

// Returns the hostname used by the interfaces not configuring one.
func (d *Daemon) hostname() string {
	if d.config.Hostname != "" {
		return d.config.Hostname
	}
	d.hostnameOnce.Do(func() {
		hostname, err := d.hostnameFunc()
		if err != nil {
			log.WithError(err).Warn("Hostname is not sent to the DHCP servers")
			return
		}
		d.systemHostname = hostname
	})
	return d.systemHostname
}

// Returns the event loop driving the clients.
func (d *Daemon) Loop() *dhcpclient.Loop {
	return d.loop
}

// Returns the metrics collector.
func (d *Daemon) Collector() *metrics.Collector {
	return d.collector
}

// Returns the event server.
func (d *Daemon) EventServer() *eventserver.Server {
	return d.server
}

// Starts the metrics endpoint, the event server and the clients. The
// configuration error of any client stops the daemon.
func (d *Daemon) Start() error {
	if d.settings.EnableMetrics {
		if _, err := d.collector.Start(d.settings.MetricsAddress, d.settings.MetricsPort); err != nil {
			d.Shutdown()
			return err
		}
	}
	if err := d.server.Start(); err != nil {
		d.Shutdown()
		return err
	}
	log.WithField("interfaces", len(d.devices)).Info("Starting DHCP clients")
	err := d.loop.Call(func() error {
		for _, device := range d.devices {
			if err := device.start(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.Shutdown()
		return err
	}
	return nil
}

// Stops the clients, releasing the leases where configured, and the
// servers. The events still pending in the loop are discarded.
func (d *Daemon) Shutdown() {
	err := d.loop.Call(func() error {
		for _, device := range d.devices {
			device.stop()
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Debug("DHCP clients already stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Cannot shut down the event server")
	}
	d.collector.Shutdown()
	d.loop.Shutdown()
	log.Info("Stopped DHCP clients")
}

// Returns the status of all devices.
func (d *Daemon) Status() ([]DeviceStatus, error) {
	var statuses []DeviceStatus
	err := d.loop.Call(func() error {
		for _, device := range d.devices {
			statuses = append(statuses, device.status())
		}
		return nil
	})
	return statuses, err
}
