package dhcpclient

import (
	"maps"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Result of mapping the reason reported by a helper program.
type reasonAction int

const (
	reasonUnknown reasonAction = iota
	reasonIgnored
	reasonState
)

// Maps the reasons reported by the helper programs to the lease states.
var reasonStates = map[string]State{
	"bound":   StateBound,
	"bound6":  StateBound,
	"renew":   StateBound,
	"renew6":  StateBound,
	"reboot":  StateBound,
	"rebind":  StateBound,
	"rebind6": StateBound,
	"timeout": StateTimeout,
	"nak":     StateExpire,
	"expire":  StateExpire,
	"expire6": StateExpire,
	"end":     StateDone,
	"fail":    StateFail,
	"abend":   StateFail,
}

// Maps the reason to the lease state (case-insensitive).
func reasonToState(reason string) (State, reasonAction) {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if state, ok := reasonStates[reason]; ok {
		return state, reasonState
	}
	if reason == "preinit" {
		return StateUnknown, reasonIgnored
	}
	return StateUnknown, reasonUnknown
}

// Reason of dropping an event.
type DropReason string

// Drop reasons.
const (
	DropUnknownInterface DropReason = "unknown-interface"
	DropPidMismatch      DropReason = "pid-mismatch"
	DropUnknownReason    DropReason = "unknown-reason"
	DropRejected         DropReason = "rejected"
)

// Called when the event is dropped.
type DropHandler func(iface string, reason DropReason)

// Routes the events reported by the helper programs to the clients. The
// event is accepted only when a client runs on the interface and its
// helper process has the reported pid; other events are considered stale
// or foreign and are dropped.
type EventBridge struct {
	loop    *Loop
	clients map[string][]*Client
	// Protects the drop handlers which are registered from any goroutine.
	mutex        sync.RWMutex
	dropHandlers []DropHandler
}

// Creates the event bridge bound to the event loop.
func NewEventBridge(loop *Loop) *EventBridge {
	return &EventBridge{
		loop:    loop,
		clients: make(map[string][]*Client),
	}
}

// Registers the handler called for each dropped event.
func (b *EventBridge) OnDrop(handler DropHandler) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.dropHandlers = append(b.dropHandlers, handler)
}

// Starts routing the events to the client. Must be called on the loop.
func (b *EventBridge) Register(client *Client) {
	iface := client.Interface()
	for _, registered := range b.clients[iface] {
		if registered == client {
			return
		}
	}
	b.clients[iface] = append(b.clients[iface], client)
}

// Stops routing the events to the client. Must be called on the loop.
func (b *EventBridge) Unregister(client *Client) {
	iface := client.Interface()
	clients := b.clients[iface]
	for i, registered := range clients {
		if registered == client {
			clients = append(clients[:i:i], clients[i+1:]...)
			break
		}
	}
	if len(clients) == 0 {
		delete(b.clients, iface)
	} else {
		b.clients[iface] = clients
	}
}

// Handles the event reported for the interface by the helper process
// with a given pid. It returns true when the event was accepted by a
// client. Must be called on the loop.
func (b *EventBridge) HandleEvent(iface string, pid int, options map[string]string, reason string) bool {
	logger := log.WithFields(log.Fields{
		"iface":  iface,
		"pid":    pid,
		"reason": reason,
	})

	clients, ok := b.clients[iface]
	if !ok {
		logger.Debug("Dropping DHCP event for unknown interface")
		b.drop(iface, DropUnknownInterface)
		return false
	}
	var client *Client
	for _, candidate := range clients {
		if pid > 0 && candidate.Pid() == pid {
			client = candidate
			break
		}
	}
	if client == nil {
		logger.Debug("Dropping DHCP event from unknown helper process")
		b.drop(iface, DropPidMismatch)
		return false
	}

	state, action := reasonToState(reason)
	switch action {
	case reasonIgnored:
		logger.Debug("Ignoring DHCP event")
		return true
	case reasonUnknown:
		logger.Warn("Ignoring DHCP event with unknown reason")
		b.drop(iface, DropUnknownReason)
		return false
	}

	if err := client.ApplyLease(state, options); err != nil {
		logger.WithError(err).Debug("DHCP event rejected by the client")
		b.drop(iface, DropRejected)
		return false
	}
	return true
}

// Hands the event over to the loop. It can be called from any goroutine.
func (b *EventBridge) Submit(iface string, pid int, options map[string]string, reason string) error {
	options = maps.Clone(options)
	return b.loop.Post(func() {
		b.HandleEvent(iface, pid, options, reason)
	})
}

// Notifies the drop handlers.
func (b *EventBridge) drop(iface string, reason DropReason) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, handler := range b.dropHandlers {
		handler(iface, reason)
	}
}
