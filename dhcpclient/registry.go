package dhcpclient

import (
	"sort"

	"github.com/pkg/errors"
)

// Backend registered in the registry.
type BackendEntry struct {
	Name string
	// Experimental backends are selectable only when explicitly enabled.
	Experimental bool
	New          Constructor
	// Checks if the backend can run on the system, e.g. its program is
	// installed. Nil means always available.
	Available func() bool
}

// Set of the backends the clients can be constructed with. It is built
// once at startup and passed explicitly to the client owners.
type Registry struct {
	entries map[string]BackendEntry
}

// Creates the registry with the given backends.
func NewRegistry(entries ...BackendEntry) (*Registry, error) {
	registry := &Registry{
		entries: make(map[string]BackendEntry),
	}
	for _, entry := range entries {
		if err := registry.Register(entry); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Adds the backend to the registry.
func (r *Registry) Register(entry BackendEntry) error {
	if entry.Name == "" {
		return errors.New("backend name must not be empty")
	}
	if entry.New == nil {
		return errors.Errorf("backend %s has no constructor", entry.Name)
	}
	if _, ok := r.entries[entry.Name]; ok {
		return errors.Errorf("backend %s is already registered", entry.Name)
	}
	r.entries[entry.Name] = entry
	return nil
}

// Returns the sorted names of the registered backends.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Selects the backend by name. An unknown backend, an experimental
// backend when experimental backends are not enabled, or a backend not
// available on the system yields the configuration error. There is no
// fallback to another backend.
func (r *Registry) Select(name string, enableExperimental bool) (BackendEntry, error) {
	if name == "" {
		return BackendEntry{}, newConfigurationError("", "backend name not specified")
	}
	entry, ok := r.entries[name]
	if !ok {
		return BackendEntry{}, newConfigurationError(name, "unknown backend")
	}
	if entry.Experimental && !enableExperimental {
		return BackendEntry{}, newConfigurationError(name, "experimental backend not enabled")
	}
	if entry.Available != nil && !entry.Available() {
		return BackendEntry{}, newConfigurationError(name, "backend not available on this system")
	}
	return entry, nil
}

// Creates a new client using the selected backend.
func (r *Registry) NewClient(name string, enableExperimental bool, settings Settings, loop *Loop, opts ...ClientOption) (*Client, error) {
	entry, err := r.Select(name, enableExperimental)
	if err != nil {
		return nil, err
	}
	return NewClient(settings, loop, entry.Name, entry.New, opts...)
}
