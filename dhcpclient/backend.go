package dhcpclient

import (
	"net/netip"
)

// IPv6 privacy extensions mode requested for the temporary addresses.
type PrivacyMode int

// Privacy modes.
const (
	PrivacyUnknown PrivacyMode = iota
	PrivacyDisabled
	PrivacyPreferPublic
	PrivacyPreferTemporary
)

// Returns the privacy mode name.
func (m PrivacyMode) String() string {
	switch m {
	case PrivacyDisabled:
		return "disabled"
	case PrivacyPreferPublic:
		return "prefer-public"
	case PrivacyPreferTemporary:
		return "prefer-temporary"
	default:
		return "unknown"
	}
}

//go:generate mockgen -package=dhcpclient -destination=backendmock_test.go isc.org/leasekeeper/dhcpclient Backend

// Backend performing the DHCP exchanges for the client. The backend is
// bound to exactly one client and never swapped. All methods are called on
// the event loop. The asynchronous outcomes are reported with
// Client.ApplyLease or Client.SetState, or through the event bridge when
// a helper program reports them.
type Backend interface {
	// Starts the DHCPv4 transaction. The anycast address and the last
	// known address may be empty.
	StartIPv4(anycast string, lastAddress string) error
	// Starts the DHCPv6 transaction. The DUID is already set on the client.
	StartIPv6(anycast string, linkLocal netip.Addr, privacy PrivacyMode, neededPrefixes uint) error
	// Accepts the offered lease.
	Accept() error
	// Declines the offered lease.
	Decline(reason string) error
	// Stops the transaction, optionally releasing the lease first.
	Stop(release bool)
	// Returns the DUID persisted by the backend or nil.
	GetDUID() []byte
}

// Creates the backend for the client.
type Constructor func(client *Client) (Backend, error)
