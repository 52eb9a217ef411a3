package daemon

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/ipconfig"
	leaseutil "isc.org/leasekeeper/util"
)

// Owner of the DHCP client configured for the interface and the address
// family. It starts the client, accepts the bound leases and starts a new
// client when the previous one reaches a final state. All methods are
// executed on the event loop.
type device struct {
	daemon  *Daemon
	config  InterfaceConfig
	backend string
	logger  *log.Entry

	client       *dhcpclient.Client
	restartTimer *clock.Timer
	starts       int
	stopped      bool
}

var _ dhcpclient.Observer = (*device)(nil)

// Creates the device.
func newDevice(daemon *Daemon, config InterfaceConfig) *device {
	backend := config.Backend
	if backend == "" {
		backend = daemon.backend()
	}
	return &device{
		daemon:  daemon,
		config:  config,
		backend: backend,
		logger: log.WithFields(log.Fields{
			"iface":  config.Name,
			"family": config.AddressFamily(),
		}),
	}
}

// Returns the hostname sent to the server.
func (d *device) hostname() string {
	if !d.config.SendsHostname() {
		return ""
	}
	if d.config.Hostname != "" {
		return d.config.Hostname
	}
	return d.daemon.hostname()
}

// Builds the client settings for the link.
func (d *device) settings(link *Link) dhcpclient.Settings {
	var flags dhcpclient.Flags
	if d.config.InfoOnly {
		flags |= dhcpclient.FlagInfoOnly
	}
	if d.config.UseFQDN {
		flags |= dhcpclient.FlagUseFQDN
	}
	return dhcpclient.Settings{
		Family:      d.config.AddressFamily(),
		Flags:       flags,
		HWAddr:      link.HardwareAddr,
		IfIndex:     link.Index,
		Interface:   d.config.Name,
		Hostname:    d.hostname(),
		RouteMetric: d.config.RouteMetric,
		RouteTable:  d.config.RouteTable,
		Timeout:     d.config.TimeoutSeconds(),
	}
}

// Creates and starts the client. The configuration errors are returned.
// Other problems are logged and the start is retried later.
func (d *device) start() error {
	d.restartTimer = nil
	if d.stopped {
		return nil
	}
	link, err := d.daemon.resolver.Resolve(d.config.Name)
	if err != nil {
		d.logger.WithError(err).Warn("Cannot start DHCP client")
		d.scheduleRestart()
		return nil
	}

	client, err := d.daemon.registry.NewClient(d.backend, d.daemon.config.EnableExperimental,
		d.settings(link), d.daemon.loop,
		dhcpclient.WithObserver(d),
		dhcpclient.WithObserver(d.daemon.collector),
		dhcpclient.WithProcessKiller(d.daemon.killer),
	)
	if err != nil {
		var configErr *dhcpclient.ConfigurationError
		if errors.As(err, &configErr) {
			return err
		}
		d.logger.WithError(err).Warn("Cannot create DHCP client")
		d.scheduleRestart()
		return nil
	}
	d.client = client
	d.starts++
	d.daemon.collector.OnClientStarted()
	d.daemon.bridge.Register(client)

	if err = d.startTransaction(link); err != nil {
		d.logger.WithError(err).Warn("Cannot start DHCP transaction")
		// The termination schedules the restart.
		client.Stop(false)
	}
	return nil
}

// Starts the transaction of the configured address family.
func (d *device) startTransaction(link *Link) error {
	switch d.config.AddressFamily() {
	case ipconfig.FamilyIPv4:
		var clientID []byte
		switch d.config.ClientID {
		case "":
		case "mac":
			clientID = dhcpclient.ClientIDFromHWAddr(link.HardwareAddr)
		default:
			var err error
			if clientID, err = leaseutil.ParseHexColon(d.config.ClientID); err != nil {
				return errors.WithMessage(err, "invalid client identifier")
			}
		}
		return d.client.StartIPv4(clientID, d.config.AnycastAddress, d.config.LastAddress)
	default:
		var duid []byte
		if d.config.DUID != "" {
			var err error
			if duid, err = leaseutil.ParseHexColon(d.config.DUID); err != nil {
				return errors.WithMessage(err, "invalid DUID")
			}
		}
		return d.client.StartIPv6(duid, d.config.EnforceDUID, d.config.AnycastAddress,
			link.LinkLocal, d.config.PrivacyMode(), d.config.Prefixes)
	}
}

// Handles the client notifications.
func (d *device) OnNotification(notification dhcpclient.Notification) {
	client := notification.Client
	if client != d.client {
		return
	}
	if notification.Kind == dhcpclient.NotificationPrefixDelegated {
		d.logger.WithFields(log.Fields{
			"prefix":   notification.Prefix.Prefix,
			"lifetime": notification.Prefix.Lifetime,
		}).Info("Delegated prefix available")
		return
	}

	switch state := notification.State; {
	case state == dhcpclient.StateBound:
		fields := log.Fields{}
		if config := notification.Config; config != nil && len(config.Addresses) > 0 {
			fields["address"] = config.Addresses[0].Prefix
			fields["lifetime"] = config.Addresses[0].Lifetime
		}
		d.logger.WithFields(fields).Info("DHCP lease bound")
		if err := client.Accept(); err != nil {
			d.logger.WithError(err).Warn("Cannot accept DHCP lease")
		}
	case state == dhcpclient.StateTerminated:
		d.daemon.bridge.Unregister(client)
		d.client = nil
		d.scheduleRestart()
	case state.IsFinal():
		d.logger.WithField("state", state).Warn("DHCP client stopped obtaining the lease")
		// The client is stopped outside of the notification delivery.
		_ = d.daemon.loop.Post(func() {
			if d.client == client {
				client.Stop(false)
			}
		})
	}
}

// Starts a new client after the restart delay unless the restarts are
// disabled or the device is stopped.
func (d *device) scheduleRestart() {
	delay := d.daemon.config.RestartDelaySeconds()
	if d.stopped || delay < 0 || d.restartTimer != nil {
		return
	}
	d.logger.WithField("delay", delay).Info("Restarting DHCP client")
	d.restartTimer = d.daemon.loop.AfterFunc(time.Duration(delay)*time.Second, func() {
		if err := d.start(); err != nil {
			d.logger.WithError(err).Error("Cannot restart DHCP client")
		}
	})
}

// Stops the client and the restarts.
func (d *device) stop() {
	d.stopped = true
	if d.restartTimer != nil {
		d.restartTimer.Stop()
		d.restartTimer = nil
	}
	if d.client != nil {
		d.client.Stop(d.config.ReleaseOnStop)
	}
}

// Status of the device.
type DeviceStatus struct {
	Interface string
	Family    ipconfig.Family
	Backend   string
	State     dhcpclient.State
	Pid       int
	// Number of the created clients.
	Starts int
	// Bound lease configuration.
	Config *ipconfig.Config
}

// Returns the device status.
func (d *device) status() DeviceStatus {
	status := DeviceStatus{
		Interface: d.config.Name,
		Family:    d.config.AddressFamily(),
		Backend:   d.backend,
		State:     dhcpclient.StateTerminated,
		Starts:    d.starts,
	}
	if d.client != nil {
		status.State = d.client.State()
		status.Pid = d.client.Pid()
		status.Config = d.client.IPConfig()
	}
	return status
}
