package dhcpclient

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// The operation is not valid in the current lease state, e.g. accepting
	// an offer when no lease is bound or starting the client twice.
	ErrInvalidState = errors.New("operation not valid in the current lease state")
	// The requested lease state transition is not allowed.
	ErrInvalidTransition = errors.New("invalid lease state transition")
	// The client identifier or DUID cannot change after the client started.
	ErrIdentifierLocked = errors.New("client identifier is locked after start")
	// The backend does not support the operation.
	ErrUnsupported = errors.New("operation not supported by the backend")
	// The client or the event loop has been disposed. It is used as the
	// cancellation cause of the in-flight operations torn down by stop.
	ErrDisposed = errors.New("DHCP client disposed")
)

// Error returned when the client cannot be constructed with the requested
// backend: the backend is unknown, experimental but not enabled, or its
// program is not available on the system.
type ConfigurationError struct {
	Backend string
	Reason  string
}

// Returns the error message.
func (e *ConfigurationError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("invalid DHCP backend configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid DHCP backend %s: %s", e.Backend, e.Reason)
}

// Creates a new configuration error.
func newConfigurationError(backend, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Backend: backend,
		Reason:  fmt.Sprintf(format, args...),
	}
}
