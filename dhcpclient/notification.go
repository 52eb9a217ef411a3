package dhcpclient

import (
	"isc.org/leasekeeper/ipconfig"
)

// Kind of the notification emitted by the client.
type NotificationKind int

// Notification kinds.
const (
	NotificationStateChanged NotificationKind = iota
	NotificationPrefixDelegated
)

// Returns the notification kind name.
func (k NotificationKind) String() string {
	switch k {
	case NotificationStateChanged:
		return "state-changed"
	case NotificationPrefixDelegated:
		return "prefix-delegated"
	default:
		return "unknown"
	}
}

// Notification emitted to the owner of the client. The state-changed
// notification carries the new state and, for the bound state, the IP
// configuration and the raw options. The prefix-delegated notification
// carries only the delegated prefix.
type Notification struct {
	Kind    NotificationKind
	Client  *Client
	State   State
	Config  *ipconfig.Config
	Options map[string]string
	Prefix  *ipconfig.Prefix
}

// Receives the client notifications. The notifications are delivered
// synchronously on the event loop in the emission order.
type Observer interface {
	OnNotification(notification Notification)
}

// Adapter allowing the use of ordinary functions as observers.
type ObserverFunc func(notification Notification)

// Calls the function.
func (f ObserverFunc) OnNotification(notification Notification) {
	f(notification)
}
