// Package builtin implements the in-process backend registered as
// "internal". The DHCP exchanges run on goroutines using the
// insomniacslk/dhcp clients; their outcomes are posted to the event
// loop. DHCPv4 leases are renewed at T1 until they expire. DHCPv6
// leases, including the delegated prefixes, are refreshed the same way.
package builtin

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/ipconfig"
	leaseutil "isc.org/leasekeeper/util"
)

// Name of the backend.
const BackendName = "internal"

// Delay between the failed exchanges.
const DefaultRetryInterval = 10 * time.Second

// Built-in backend.
type Backend struct {
	client        *dhcpclient.Client
	factory       Factory
	stateDir      string
	retryInterval time.Duration

	session    session
	ctx        context.Context
	cancel     context.CancelCauseFunc
	generation uint64
	timer      *clock.Timer
	expiry     time.Time
}

var _ dhcpclient.Backend = (*Backend)(nil)

// Returns the registry entry of the backend. The DUID is kept in the
// state directory.
func Entry(stateDir string) dhcpclient.BackendEntry {
	return dhcpclient.BackendEntry{
		Name: BackendName,
		New:  New(NewSystemFactory(), stateDir),
	}
}

// Returns the constructor of the backend using the exchangers created by
// the factory.
func New(factory Factory, stateDir string) dhcpclient.Constructor {
	return func(client *dhcpclient.Client) (dhcpclient.Backend, error) {
		if factory == nil {
			return nil, errors.New("missing DHCP exchanger factory")
		}
		return &Backend{
			client:        client,
			factory:       factory,
			stateDir:      stateDir,
			retryInterval: DefaultRetryInterval,
		}, nil
	}
}

// Sets the delay between the failed exchanges.
func (b *Backend) SetRetryInterval(interval time.Duration) {
	b.retryInterval = interval
}

// Starts the DHCPv4 acquisition.
func (b *Backend) StartIPv4(anycast string, lastAddress string) error {
	exchanger, err := b.factory.NewExchanger4(b.client.Interface(), b.client.HWAddr())
	if err != nil {
		return err
	}
	if anycast != "" {
		b.client.Logger().WithField("anycast", anycast).Debug("Anycast address is not supported by the internal backend")
	}
	var last net.IP
	if address, err := netip.ParseAddr(lastAddress); err == nil && address.Is4() {
		last = net.IP(address.AsSlice())
	}
	b.begin(newSession4(exchanger, b.client.ClientID(), b.client.RequestHostname(), last))
	return nil
}

// Starts the DHCPv6 acquisition. The information-only mode is not
// supported.
func (b *Backend) StartIPv6(anycast string, linkLocal netip.Addr, privacy dhcpclient.PrivacyMode, neededPrefixes uint) error {
	if b.client.InfoOnly() {
		return errors.WithMessage(dhcpclient.ErrUnsupported, "internal backend does not support the information-only mode")
	}
	duid, err := dhcpv6.DUIDFromBytes(b.client.DUID())
	if err != nil {
		return errors.Wrap(err, "invalid DUID")
	}
	if err = b.writeDUID(b.client.DUID()); err != nil {
		b.client.Logger().WithError(err).Warn("Cannot persist the DUID")
	}
	exchanger, err := b.factory.NewExchanger6(b.client.Interface())
	if err != nil {
		return err
	}
	b.client.Logger().WithFields(log.Fields{
		"link-local": linkLocal,
		"privacy":    privacy,
	}).Debug("Starting DHCPv6 exchange")

	hostname := b.client.RequestHostname()
	b.begin(newSession6(exchanger, duid, iaidFromIfIndex(b.client.IfIndex()), hostname, neededPrefixes))
	return nil
}

// Returns the IAID derived from the interface index.
func iaidFromIfIndex(ifIndex int) [4]byte {
	return [4]byte{byte(ifIndex >> 24), byte(ifIndex >> 16), byte(ifIndex >> 8), byte(ifIndex)}
}

// Starts the session.
func (b *Backend) begin(s session) {
	b.session = s
	b.ctx, b.cancel = context.WithCancelCause(context.Background())
	b.acquire()
}

// Kind of the background exchange.
type exchange int

const (
	exchangeAcquire exchange = iota
	exchangeRenew
	// Declines the current lease and acquires a new one.
	exchangeDecline
)

// Runs the acquisition in the background.
func (b *Backend) acquire() {
	b.run(exchangeAcquire)
}

// Runs the renewal in the background.
func (b *Backend) renew() {
	b.run(exchangeRenew)
}

// Runs the exchange on a goroutine and posts its outcome to the loop.
// The outcome of the exchange superseded by another one or by the stop
// is ignored.
func (b *Backend) run(kind exchange) {
	b.stopTimer()
	if b.client.State().IsFinal() {
		return
	}
	b.generation++
	generation := b.generation
	ctx, s := b.ctx, b.session
	logger := b.client.Logger()
	go func() {
		var result *leaseResult
		var err error
		switch kind {
		case exchangeRenew:
			result, err = s.Renew(ctx)
		case exchangeDecline:
			if err := s.Decline(); err != nil {
				logger.WithError(err).Warn("Cannot decline DHCP lease")
			}
			result, err = s.Acquire(ctx)
		default:
			result, err = s.Acquire(ctx)
		}
		_ = b.client.Loop().Post(func() {
			b.onResult(generation, kind == exchangeRenew, result, err)
		})
	}()
}

// Handles the outcome of the exchange.
func (b *Backend) onResult(generation uint64, renewing bool, result *leaseResult, err error) {
	if generation != b.generation || b.session == nil || b.ctx.Err() != nil {
		return
	}
	if b.client.State().IsFinal() {
		return
	}
	now := b.client.Loop().Clock().Now()
	logger := b.client.Logger()

	if err != nil {
		logger.WithError(err).Warn("DHCP exchange failed")
		if !renewing {
			b.schedule(b.retryInterval, b.acquire)
			return
		}
		remaining := b.expiry.Sub(now)
		if remaining <= 0 {
			logger.Warn("DHCP lease expired")
			b.stopTimer()
			if err := b.client.SetState(dhcpclient.StateExpire, nil, nil); err != nil {
				logger.WithError(err).Error("Cannot expire DHCP lease")
			}
			return
		}
		b.schedule(min(b.retryInterval, remaining), b.renew)
		return
	}

	b.expiry = now.Add(result.lifetime)
	if err := b.client.ApplyLease(dhcpclient.StateBound, result.options); err != nil {
		logger.WithError(err).Warn("Cannot apply DHCP lease")
		return
	}
	// The prefix-only reply leaves the state unchanged but the delegated
	// prefix is still refreshed.
	_, delegated := result.options[ipconfig.OptionIP6Prefix]
	if b.client.State() != dhcpclient.StateBound && !delegated {
		return
	}
	logger.WithFields(log.Fields{
		"renewal":  result.renewal,
		"lifetime": result.lifetime,
	}).Debug("Scheduled DHCP lease renewal")
	b.schedule(result.renewal, b.renew)
}

// Arms the timer executing the function on the loop.
func (b *Backend) schedule(delay time.Duration, f func()) {
	b.stopTimer()
	generation := b.generation
	b.timer = b.client.Loop().AfterFunc(delay, func() {
		if generation == b.generation && b.session != nil {
			f()
		}
	})
}

// Disarms the timer.
func (b *Backend) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// The lease is applied by the owner.
func (b *Backend) Accept() error {
	return nil
}

// Sends the DHCPDECLINE for the lease and acquires a new one.
func (b *Backend) Decline(reason string) error {
	if b.session == nil {
		return errors.WithMessage(dhcpclient.ErrInvalidState, "no DHCP session")
	}
	b.client.Logger().WithField("reason", reason).Info("Declined DHCP lease, acquiring a new one")
	b.run(exchangeDecline)
	return nil
}

// Cancels the exchanges in progress with ErrDisposed as the cause and
// optionally releases the lease. The sockets are closed in the
// background.
func (b *Backend) Stop(release bool) {
	b.stopTimer()
	b.generation++
	if b.cancel != nil {
		b.cancel(dhcpclient.ErrDisposed)
	}
	s := b.session
	b.session = nil
	if s == nil {
		return
	}
	logger := b.client.Logger()
	go func() {
		if release {
			if err := s.Release(); err != nil {
				logger.WithError(err).Warn("Cannot release DHCP lease")
			}
		}
		if err := s.Close(); err != nil {
			logger.WithError(err).Debug("Cannot close DHCP exchanger")
		}
	}()
}

// Path of the DUID file.
func (b *Backend) duidFile() string {
	return filepath.Join(b.stateDir, "internal6-"+b.client.Interface()+".duid")
}

// Returns the persisted DUID. When there is none, the link-layer DUID is
// created from the hardware address and persisted.
func (b *Backend) GetDUID() []byte {
	if b.client.Family() != ipconfig.FamilyIPv6 {
		return nil
	}
	data, err := os.ReadFile(b.duidFile())
	if err == nil {
		duid, err := leaseutil.ParseHexColon(strings.TrimSpace(string(data)))
		if err == nil && len(duid) > 0 {
			return duid
		}
		b.client.Logger().WithError(err).Warn("Ignoring invalid DUID file")
	}

	hwAddr := b.client.HWAddr()
	if len(hwAddr) == 0 {
		return nil
	}
	duid := (&dhcpv6.DUIDLL{
		HWType:        iana.HWTypeEthernet,
		LinkLayerAddr: hwAddr,
	}).ToBytes()
	if err := b.writeDUID(duid); err != nil {
		b.client.Logger().WithError(err).Warn("Cannot persist the DUID")
	}
	return duid
}

// Writes the DUID file.
func (b *Backend) writeDUID(duid []byte) error {
	if b.stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.stateDir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create directory %s", b.stateDir)
	}
	err := os.WriteFile(b.duidFile(), []byte(leaseutil.FormatHexColon(duid)+"\n"), 0o644)
	return errors.Wrapf(err, "cannot write DUID file %s", b.duidFile())
}
