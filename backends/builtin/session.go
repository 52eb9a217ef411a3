package builtin

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/pkg/errors"
	"isc.org/leasekeeper/ipconfig"
)

// Lease time assumed when the server does not send one.
const defaultLeaseTime = time.Hour

// Returns the option value in seconds as the duration. Missing or
// invalid values yield zero.
func secondsOption(options map[string]string, key string) time.Duration {
	seconds, err := strconv.ParseUint(options[key], 10, 32)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Outcome of the successful exchange.
type leaseResult struct {
	options map[string]string
	// Time after which the lease is renewed.
	renewal time.Duration
	// Time after which the lease expires.
	lifetime time.Duration
}

// Lease negotiation of one address family. The methods except Release
// and Close are executed one at a time outside of the event loop.
type session interface {
	Acquire(ctx context.Context) (*leaseResult, error)
	Renew(ctx context.Context) (*leaseResult, error)
	Release() error
	// Declines the current lease; the next acquisition starts over.
	Decline() error
	Close() error
}

// DHCPv4 session.
type session4 struct {
	exchanger Exchanger4
	modifiers []dhcpv4.Modifier
	// Modifiers identifying the client in the messages other than the
	// requests.
	identity []dhcpv4.Modifier
	mutex    sync.Mutex
	lease     *nclient4.Lease
}

// Creates the DHCPv4 session sending the client identifier, the hostname
// and the last address when specified.
func newSession4(exchanger Exchanger4, clientID []byte, hostname string, lastAddress net.IP) *session4 {
	modifiers := []dhcpv4.Modifier{
		dhcpv4.WithRequestedOptions(
			dhcpv4.OptionSubnetMask,
			dhcpv4.OptionRouter,
			dhcpv4.OptionDomainNameServer,
			dhcpv4.OptionDomainName,
			dhcpv4.OptionDNSDomainSearchList,
			dhcpv4.OptionInterfaceMTU,
			dhcpv4.OptionNTPServers,
			dhcpv4.OptionClasslessStaticRoute,
		),
	}
	var identity []dhcpv4.Modifier
	if len(clientID) > 0 {
		identity = append(identity, dhcpv4.WithOption(dhcpv4.OptClientIdentifier(clientID)))
		modifiers = append(modifiers, identity...)
	}
	if hostname != "" {
		modifiers = append(modifiers, dhcpv4.WithOption(dhcpv4.OptHostName(hostname)))
	}
	if lastAddress != nil {
		modifiers = append(modifiers, dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(lastAddress)))
	}
	return &session4{exchanger: exchanger, modifiers: modifiers, identity: identity}
}

// Converts the lease to the result.
func resultFromLease(lease *nclient4.Lease) (*leaseResult, error) {
	if lease == nil || lease.ACK == nil {
		return nil, errors.New("DHCPv4 exchange returned no acknowledgment")
	}
	lifetime := lease.ACK.IPAddressLeaseTime(defaultLeaseTime)
	return &leaseResult{
		options:  OptionsFromACK(lease.ACK),
		renewal:  lease.ACK.IPAddressRenewalTime(lifetime / 2),
		lifetime: lifetime,
	}, nil
}

// Runs the DISCOVER-OFFER-REQUEST-ACK exchange.
func (s *session4) Acquire(ctx context.Context) (*leaseResult, error) {
	lease, err := s.exchanger.Request(ctx, s.modifiers...)
	if err != nil {
		return nil, errors.Wrap(err, "DHCPv4 request failed")
	}
	result, err := resultFromLease(lease)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	s.lease = lease
	s.mutex.Unlock()
	return result, nil
}

// Renews the current lease or acquires a new one when there is none.
func (s *session4) Renew(ctx context.Context) (*leaseResult, error) {
	s.mutex.Lock()
	current := s.lease
	s.mutex.Unlock()
	if current == nil {
		return s.Acquire(ctx)
	}
	lease, err := s.exchanger.Renew(ctx, current, s.modifiers...)
	if err != nil {
		return nil, errors.Wrap(err, "DHCPv4 renewal failed")
	}
	result, err := resultFromLease(lease)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	s.lease = lease
	s.mutex.Unlock()
	return result, nil
}

// Releases the current lease.
func (s *session4) Release() error {
	s.mutex.Lock()
	lease := s.lease
	s.lease = nil
	s.mutex.Unlock()
	if lease == nil {
		return nil
	}
	return errors.Wrap(s.exchanger.Release(lease, s.identity...), "DHCPv4 release failed")
}

// Sends the DHCPDECLINE for the current lease and forgets it.
func (s *session4) Decline() error {
	s.mutex.Lock()
	lease := s.lease
	s.lease = nil
	s.mutex.Unlock()
	if lease == nil {
		return nil
	}
	return errors.Wrap(s.exchanger.Decline(lease, s.identity...), "DHCPv4 decline failed")
}

func (s *session4) Close() error {
	return s.exchanger.Close()
}

// DHCPv6 session. The exchanger has no renewal exchange so the lease is
// refreshed with the SOLICIT-ADVERTISE-REQUEST-REPLY exchange.
type session6 struct {
	exchanger Exchanger6
	modifiers []dhcpv6.Modifier
}

// Creates the DHCPv6 session requesting the prefix when needed.
func newSession6(exchanger Exchanger6, duid dhcpv6.DUID, iaid [4]byte, hostname string, neededPrefixes uint) *session6 {
	modifiers := []dhcpv6.Modifier{
		dhcpv6.WithClientID(duid),
		dhcpv6.WithIAID(iaid),
		dhcpv6.WithRequestedOptions(dhcpv6.OptionDNSRecursiveNameServer, dhcpv6.OptionDomainSearchList),
	}
	if hostname != "" {
		modifiers = append(modifiers, dhcpv6.WithFQDN(0, hostname))
	}
	if neededPrefixes > 0 {
		modifiers = append(modifiers, dhcpv6.WithIAPD(iaid))
	}
	return &session6{exchanger: exchanger, modifiers: modifiers}
}

// Runs the SOLICIT-ADVERTISE-REQUEST-REPLY exchange.
func (s *session6) Acquire(ctx context.Context) (*leaseResult, error) {
	advertise, err := s.exchanger.Solicit(ctx, s.modifiers...)
	if err != nil {
		return nil, errors.Wrap(err, "DHCPv6 solicit failed")
	}
	reply, err := s.exchanger.Request(ctx, advertise, s.modifiers...)
	if err != nil {
		return nil, errors.Wrap(err, "DHCPv6 request failed")
	}
	options := OptionsFromReply(reply)
	lifetime := secondsOption(options, ipconfig.OptionMaxLife)
	if lifetime == 0 {
		lifetime = defaultLeaseTime
	}
	renewal := secondsOption(options, ipconfig.OptionRenewalTime)
	if renewal == 0 || renewal >= lifetime {
		renewal = lifetime / 2
	}
	return &leaseResult{
		options:  options,
		renewal:  renewal,
		lifetime: lifetime,
	}, nil
}

func (s *session6) Renew(ctx context.Context) (*leaseResult, error) {
	return s.Acquire(ctx)
}

// The DHCPv6 exchanger has no release exchange; the lease expires.
func (s *session6) Release() error {
	return nil
}

// The DHCPv6 exchanger has no decline exchange; the next acquisition
// solicits a new lease.
func (s *session6) Decline() error {
	return nil
}

func (s *session6) Close() error {
	return s.exchanger.Close()
}
