// Package eventserver implements the channel between the helper programs
// and the daemon. The helper executed by a DHCP client program as its
// script posts the event to the daemon over a unix socket; the server
// hands it over to the event bridge.
package eventserver

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	// Default path of the unix socket the daemon listens on.
	DefaultSocketPath = "/run/leasekeeper/helper.sock"
	// Environment variable passing the socket path to the helper.
	SocketEnvironmentVariable = "LEASEKEEPER_HELPER_SOCKET"
	// Endpoint receiving the events.
	EventsPath = "/v1/events"
)

// Event reported by the helper program.
type Event struct {
	Interface string            `json:"interface"`
	Pid       int               `json:"pid"`
	Reason    string            `json:"reason"`
	Options   map[string]string `json:"options,omitempty"`
}

// Validates the mandatory fields of the event.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Interface) == "" {
		return errors.New("missing interface name")
	}
	if e.Pid <= 0 {
		return errors.Errorf("invalid pid %d", e.Pid)
	}
	if strings.TrimSpace(e.Reason) == "" {
		return errors.New("missing reason")
	}
	return nil
}
