package builtin

import (
	"context"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/nclient6"
	"github.com/pkg/errors"
)

// DHCPv4 message exchanges. It is implemented by nclient4.Client
// extended with the decline.
type Exchanger4 interface {
	Request(ctx context.Context, modifiers ...dhcpv4.Modifier) (*nclient4.Lease, error)
	Renew(ctx context.Context, lease *nclient4.Lease, modifiers ...dhcpv4.Modifier) (*nclient4.Lease, error)
	Release(lease *nclient4.Lease, modifiers ...dhcpv4.Modifier) error
	Decline(lease *nclient4.Lease, modifiers ...dhcpv4.Modifier) error
	Close() error
}

// DHCPv6 message exchanges. It is implemented by nclient6.Client.
type Exchanger6 interface {
	Solicit(ctx context.Context, modifiers ...dhcpv6.Modifier) (*dhcpv6.Message, error)
	Request(ctx context.Context, advertise *dhcpv6.Message, modifiers ...dhcpv6.Modifier) (*dhcpv6.Message, error)
	Close() error
}

// Creates the exchangers bound to the interface.
type Factory interface {
	NewExchanger4(iface string, hwAddr net.HardwareAddr) (Exchanger4, error)
	NewExchanger6(iface string) (Exchanger6, error)
}

// Creates the exchangers using the sockets of the operating system.
type systemFactory struct{}

var (
	_ Exchanger4 = (*systemExchanger4)(nil)
	_ Exchanger6 = (*nclient6.Client)(nil)
)

// DHCPv4 client able to decline the lease.
type systemExchanger4 struct {
	*nclient4.Client
}

// Broadcasts the DHCPDECLINE for the acknowledged address. No response
// is expected so the exchange is cancelled as soon as the message is
// written.
func (e *systemExchanger4) Decline(lease *nclient4.Lease, modifiers ...dhcpv4.Modifier) error {
	decline, err := newDecline(lease, modifiers...)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.SendAndRead(ctx, nclient4.DefaultServers, decline, nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "cannot send DHCPDECLINE")
	}
	return nil
}

// Builds the DHCPDECLINE for the address acknowledged in the lease.
func newDecline(lease *nclient4.Lease, modifiers ...dhcpv4.Modifier) (*dhcpv4.DHCPv4, error) {
	if lease == nil || lease.ACK == nil {
		return nil, errors.New("no acknowledged lease to decline")
	}
	ack := lease.ACK
	base := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDecline),
		dhcpv4.WithHwAddr(ack.ClientHWAddr),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(ack.YourIPAddr)),
	}
	if server := ack.ServerIdentifier(); server != nil {
		base = append(base, dhcpv4.WithOption(dhcpv4.OptServerIdentifier(server)))
	}
	decline, err := dhcpv4.New(dhcpv4.PrependModifiers(modifiers, base...)...)
	return decline, errors.Wrap(err, "cannot build DHCPDECLINE")
}

// Returns the factory creating the exchangers on the system sockets.
func NewSystemFactory() Factory {
	return systemFactory{}
}

// Opens the DHCPv4 raw socket on the interface.
func (systemFactory) NewExchanger4(iface string, hwAddr net.HardwareAddr) (Exchanger4, error) {
	var opts []nclient4.ClientOpt
	if len(hwAddr) > 0 {
		opts = append(opts, nclient4.WithHWAddr(hwAddr))
	}
	client, err := nclient4.New(iface, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open DHCPv4 socket on %s", iface)
	}
	return &systemExchanger4{Client: client}, nil
}

// Opens the DHCPv6 socket on the interface.
func (systemFactory) NewExchanger6(iface string) (Exchanger6, error) {
	client, err := nclient6.New(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open DHCPv6 socket on %s", iface)
	}
	return client, nil
}
