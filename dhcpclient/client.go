package dhcpclient

import (
	"maps"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/ipconfig"
	leaseutil "isc.org/leasekeeper/util"
)

// DHCP client instance driving the lease of one interface and one address
// family. It owns exactly one backend chosen at construction. All methods
// must be called on the event loop the client was created with.
type Client struct {
	loop        *Loop
	settings    Settings
	backendName string
	backend     Backend
	builder     ipconfig.Builder
	killer      *ProcessKiller
	logger      *log.Entry
	observers   []Observer

	state    State
	started  bool
	clientID []byte
	duid     []byte

	pid       int
	process   Process
	watchID   uint64
	watchStop chan struct{}

	timer   *clock.Timer
	timerID uint64

	config  *ipconfig.Config
	options map[string]string
}

// Optional client setting.
type ClientOption func(*Client)

// Sets the builder converting the option bags to the IP configurations.
func WithConfigBuilder(builder ipconfig.Builder) ClientOption {
	return func(c *Client) {
		c.builder = builder
	}
}

// Registers the observer receiving the notifications.
func WithObserver(observer Observer) ClientOption {
	return func(c *Client) {
		c.observers = append(c.observers, observer)
	}
}

// Sets the killer used to stop the helper processes.
func WithProcessKiller(killer *ProcessKiller) ClientOption {
	return func(c *Client) {
		c.killer = killer
	}
}

// Creates a new client using the backend created by the constructor.
func NewClient(settings Settings, loop *Loop, backendName string, constructor Constructor, opts ...ClientOption) (*Client, error) {
	if err := settings.validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid DHCP client settings")
	}
	if loop == nil {
		return nil, errors.New("event loop is required")
	}
	if constructor == nil {
		return nil, newConfigurationError(backendName, "missing backend constructor")
	}
	settings.HWAddr = slices.Clone(settings.HWAddr)
	settings.BroadcastHWAddr = slices.Clone(settings.BroadcastHWAddr)

	c := &Client{
		loop:        loop,
		settings:    settings,
		backendName: backendName,
		builder:     ipconfig.OptionsBuilder{},
		state:       StateUnknown,
		logger: log.WithFields(log.Fields{
			"iface":   settings.Interface,
			"family":  settings.Family,
			"backend": backendName,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.killer == nil {
		c.killer = NewProcessKiller(loop.Clock())
	}

	backend, err := constructor(c)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot create the %s DHCP backend for %s", backendName, settings.Interface)
	}
	c.backend = backend
	return c, nil
}

// Registers the observer receiving the notifications.
func (c *Client) AddObserver(observer Observer) {
	c.observers = append(c.observers, observer)
}

// Starts the DHCPv4 transaction. The client identifier replaces the
// current one when not empty. On failure the state remains unknown and
// the identifier can still be changed.
func (c *Client) StartIPv4(clientID []byte, anycast string, lastAddress string) error {
	if c.settings.Family != ipconfig.FamilyIPv4 {
		return errors.WithMessage(ErrInvalidState, "cannot start DHCPv4 on an IPv6 client")
	}
	if c.started || c.state != StateUnknown {
		return errors.WithMessagef(ErrInvalidState, "cannot start DHCPv4 in the %s state", c.state)
	}

	if len(clientID) == 1 {
		return errors.Errorf("client identifier %s is too short", leaseutil.FormatHexColon(clientID))
	}

	previous := c.clientID
	if len(clientID) > 0 {
		c.clientID = slices.Clone(clientID)
	}
	c.logger.WithField("timeout", c.timeoutText()).Info("Activation: beginning DHCPv4 transaction")

	if err := c.backend.StartIPv4(anycast, lastAddress); err != nil {
		c.clientID = previous
		return errors.WithMessage(err, "cannot start DHCPv4 transaction")
	}
	c.started = true
	c.StartTimeout()
	return nil
}

// Starts the DHCPv6 transaction. Unless the DUID is enforced, the DUID
// persisted by the backend takes precedence over the supplied one. The
// start fails when no DUID is available.
func (c *Client) StartIPv6(duid []byte, enforceDUID bool, anycast string, linkLocal netip.Addr, privacy PrivacyMode, neededPrefixes uint) error {
	if c.settings.Family != ipconfig.FamilyIPv6 {
		return errors.WithMessage(ErrInvalidState, "cannot start DHCPv6 on an IPv4 client")
	}
	if c.started || c.state != StateUnknown {
		return errors.WithMessagef(ErrInvalidState, "cannot start DHCPv6 in the %s state", c.state)
	}

	effective := duid
	if !enforceDUID {
		if persisted := c.backend.GetDUID(); len(persisted) > 0 {
			effective = persisted
		}
	}
	if len(effective) == 0 {
		return errors.New("cannot start DHCPv6 transaction without a DUID")
	}

	previous := c.duid
	c.duid = slices.Clone(effective)
	c.logger.WithFields(log.Fields{
		"timeout":  c.timeoutText(),
		"duid":     leaseutil.FormatHexColon(c.duid),
		"prefixes": neededPrefixes,
	}).Info("Activation: beginning DHCPv6 transaction")

	if err := c.backend.StartIPv6(anycast, linkLocal, privacy, neededPrefixes); err != nil {
		c.duid = previous
		return errors.WithMessage(err, "cannot start DHCPv6 transaction")
	}
	c.started = true
	c.StartTimeout()
	return nil
}

// Accepts the offered lease.
func (c *Client) Accept() error {
	if c.state != StateBound {
		return errors.WithMessagef(ErrInvalidState, "cannot accept a lease in the %s state", c.state)
	}
	return c.backend.Accept()
}

// Declines the offered lease.
func (c *Client) Decline(reason string) error {
	if c.state != StateBound {
		return errors.WithMessagef(ErrInvalidState, "cannot decline a lease in the %s state", c.state)
	}
	return c.backend.Decline(reason)
}

// Stops the client: disarms the timer and the process watch, stops the
// backend and enters the terminated state. It does nothing when the
// client is already terminated.
func (c *Client) Stop(release bool) {
	if c.state == StateTerminated {
		return
	}
	c.logger.WithField("release", release).Debug("Stopping DHCP client")
	c.stopTimeout()
	c.stopWatch()
	c.backend.Stop(release)
	c.pid = 0
	c.process = nil
	if err := c.SetState(StateTerminated, nil, nil); err != nil {
		c.logger.WithError(err).Error("Cannot terminate DHCP client")
	}
}

// Validates the transition to a given state. It returns true when the
// transition is a no-op, i.e., the client is already in that state.
func (c *Client) checkTransition(state State) (bool, error) {
	if c.state.CanTransitionTo(state) {
		return false, nil
	}
	if c.state == state && state != StateBound {
		return true, nil
	}
	return false, errors.WithMessagef(ErrInvalidTransition, "%s -> %s", c.state, state)
}

// Advances the lease state. Only the bound state carries the IP
// configuration and the options. Setting the current non-bound state
// again does nothing. Every successful transition emits the
// state-changed notification.
func (c *Client) SetState(state State, config *ipconfig.Config, options map[string]string) error {
	if state == StateBound && config == nil {
		return errors.WithMessage(ErrInvalidTransition, "bound state requires the IP configuration")
	}
	if state != StateBound && (config != nil || len(options) > 0) {
		return errors.WithMessagef(ErrInvalidTransition, "%s state cannot carry the IP configuration", state)
	}
	noop, err := c.checkTransition(state)
	if err != nil || noop {
		return err
	}

	if state.IsFinal() {
		c.stopTimeout()
		c.stopWatch()
	} else if state == StateBound {
		c.stopTimeout()
	}

	if state == StateBound {
		c.config = config
		c.options = maps.Clone(options)
	} else {
		c.config = nil
		c.options = nil
	}

	previous := c.state
	c.state = state
	c.logger.WithFields(log.Fields{
		"from": previous,
		"to":   state,
	}).Info("DHCP lease state changed")

	c.emit(Notification{
		Kind:    NotificationStateChanged,
		Client:  c,
		State:   state,
		Config:  c.config,
		Options: maps.Clone(c.options),
	})
	return nil
}

// Applies the outcome of the DHCP exchange reported as the option bag. The
// bound state requires an IP configuration built from the options; the
// bag yielding no configuration turns into a failure unless it carried
// only a delegated prefix. The delegated prefix is notified before the
// state change.
func (c *Client) ApplyLease(state State, options map[string]string) error {
	if _, err := c.checkTransition(state); err != nil {
		return err
	}
	options = ipconfig.NormalizeOptions(options)

	prefixDelegated := false
	if c.settings.Family == ipconfig.FamilyIPv6 {
		prefix, ok, err := ipconfig.PrefixFromOptions(options, c.loop.Clock().Now())
		switch {
		case err != nil:
			c.logger.WithError(err).Warn("Ignoring invalid delegated prefix")
		case ok:
			if err = c.EmitPrefixDelegated(prefix); err == nil {
				prefixDelegated = true
			}
		}
	}

	if state != StateBound {
		return c.SetState(state, nil, nil)
	}

	config, err := c.builder.Build(c.settings.Family, c.IPParams(), options)
	if err != nil {
		if prefixDelegated && strings.TrimSpace(options[ipconfig.OptionIP6Address]) == "" {
			c.logger.Debug("Lease carries only a delegated prefix")
			return nil
		}
		c.logger.WithError(err).Warn("Cannot build IP configuration from the lease")
		return c.SetState(StateFail, nil, nil)
	}
	return c.SetState(StateBound, config, options)
}

// Emits the prefix-delegated notification.
func (c *Client) EmitPrefixDelegated(prefix *ipconfig.Prefix) error {
	if c.settings.Family != ipconfig.FamilyIPv6 {
		return errors.WithMessage(ErrUnsupported, "prefix delegation requires DHCPv6")
	}
	if prefix == nil {
		return errors.New("missing delegated prefix")
	}
	if c.state == StateTerminated {
		return errors.WithMessage(ErrInvalidState, "client is terminated")
	}
	c.logger.WithFields(log.Fields{
		"prefix":   prefix.Prefix,
		"lifetime": prefix.Lifetime,
	}).Info("Received delegated prefix")
	c.emit(Notification{
		Kind:   NotificationPrefixDelegated,
		Client: c,
		State:  c.state,
		Prefix: prefix,
	})
	return nil
}

// Delivers the notification to all observers.
func (c *Client) emit(notification Notification) {
	for _, observer := range c.observers {
		observer.OnNotification(notification)
	}
}

// Sets the client identifier used by the DHCPv4 transaction. The
// identifier consists of a type byte followed by at least one data byte.
// A nil identifier clears it.
func (c *Client) SetClientID(clientID []byte) error {
	if c.started {
		return ErrIdentifierLocked
	}
	if clientID != nil && len(clientID) < 2 {
		return errors.Errorf("client identifier %s is too short", leaseutil.FormatHexColon(clientID))
	}
	c.clientID = slices.Clone(clientID)
	return nil
}

// Sets the client identifier from the type and the data.
func (c *Client) SetClientIDBin(idType byte, data []byte) error {
	if len(data) == 0 {
		return errors.New("client identifier data must not be empty")
	}
	return c.SetClientID(append([]byte{idType}, data...))
}

// Changes the route metric used for the routes of the lease.
func (c *Client) SetRouteMetric(metric uint32) {
	c.settings.RouteMetric = metric
}

// Changes the route table used for the routes of the lease.
func (c *Client) SetRouteTable(table uint32) {
	c.settings.RouteTable = table
}

// Returns the parameters of the IP configuration builder.
func (c *Client) IPParams() ipconfig.Params {
	return ipconfig.Params{
		Interface:   c.settings.Interface,
		IfIndex:     c.settings.IfIndex,
		RouteTable:  c.settings.RouteTable,
		RouteMetric: c.settings.RouteMetric,
		InfoOnly:    c.InfoOnly(),
	}
}

// Returns the hostname to send to the server. Unless the FQDN is enabled,
// only the first label is sent.
func (c *Client) RequestHostname() string {
	hostname := strings.TrimSuffix(c.settings.Hostname, ".")
	if hostname == "" || c.UseFQDN() {
		return hostname
	}
	short, _, _ := strings.Cut(hostname, ".")
	return short
}

// Returns the effective timeout formatted for the logs.
func (c *Client) timeoutText() string {
	timeout := c.Timeout()
	if timeout == TimeoutInfinity {
		return "infinity"
	}
	return (secondsToDuration(timeout)).String()
}

// Accessors.

func (c *Client) Family() ipconfig.Family { return c.settings.Family }

func (c *Client) Interface() string { return c.settings.Interface }

func (c *Client) IfIndex() int { return c.settings.IfIndex }

func (c *Client) UUID() string { return c.settings.UUID }

func (c *Client) Hostname() string { return c.settings.Hostname }

func (c *Client) RouteTable() uint32 { return c.settings.RouteTable }

func (c *Client) RouteMetric() uint32 { return c.settings.RouteMetric }

// Returns the effective timeout in seconds.
func (c *Client) Timeout() uint32 { return c.settings.effectiveTimeout() }

func (c *Client) ClientID() []byte { return slices.Clone(c.clientID) }

func (c *Client) DUID() []byte { return slices.Clone(c.duid) }

func (c *Client) HWAddr() net.HardwareAddr { return slices.Clone(c.settings.HWAddr) }

func (c *Client) BroadcastHWAddr() net.HardwareAddr {
	return slices.Clone(c.settings.BroadcastHWAddr)
}

func (c *Client) InfoOnly() bool { return c.settings.Flags&FlagInfoOnly != 0 }

func (c *Client) UseFQDN() bool { return c.settings.Flags&FlagUseFQDN != 0 }

// Returns the pid of the supervised helper process or zero.
func (c *Client) Pid() int { return c.pid }

func (c *Client) State() State { return c.state }

// Returns the IP configuration of the bound lease or nil.
func (c *Client) IPConfig() *ipconfig.Config { return c.config }

// Returns the options of the bound lease or nil.
func (c *Client) Options() map[string]string { return maps.Clone(c.options) }

func (c *Client) BackendName() string { return c.backendName }

// Returns the event loop the client runs on.
func (c *Client) Loop() *Loop { return c.loop }

// Returns the killer stopping the helper processes.
func (c *Client) Killer() *ProcessKiller { return c.killer }

// Returns the logger with the client fields.
func (c *Client) Logger() *log.Entry { return c.logger }
