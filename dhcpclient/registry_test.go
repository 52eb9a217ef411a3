package dhcpclient

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Creates the registry with a stable, an experimental and an unavailable
// backend.
func newTestRegistry(backend Backend) *Registry {
	constructor := func(*Client) (Backend, error) { return backend, nil }
	registry, _ := NewRegistry(
		BackendEntry{Name: "stable", New: constructor},
		BackendEntry{Name: "experimental", Experimental: true, New: constructor},
		BackendEntry{Name: "missing", New: constructor, Available: func() bool { return false }},
		BackendEntry{Name: "installed", New: constructor, Available: func() bool { return true }},
	)
	return registry
}

// Test that the registered backends are listed.
func TestRegistryNames(t *testing.T) {
	registry := newTestRegistry(nil)
	require.Equal(t, []string{"experimental", "installed", "missing", "stable"}, registry.Names())
}

// Test that invalid entries are rejected.
func TestRegistryRegisterInvalid(t *testing.T) {
	registry := newTestRegistry(nil)
	constructor := func(*Client) (Backend, error) { return nil, nil }

	require.Error(t, registry.Register(BackendEntry{New: constructor}))
	require.Error(t, registry.Register(BackendEntry{Name: "foo"}))
	require.Error(t, registry.Register(BackendEntry{Name: "stable", New: constructor}))

	_, err := NewRegistry(BackendEntry{Name: "a", New: constructor}, BackendEntry{Name: "a", New: constructor})
	require.Error(t, err)
}

// Test selecting the backends.
func TestRegistrySelect(t *testing.T) {
	registry := newTestRegistry(nil)

	entry, err := registry.Select("stable", false)
	require.NoError(t, err)
	require.Equal(t, "stable", entry.Name)

	entry, err = registry.Select("installed", false)
	require.NoError(t, err)
	require.Equal(t, "installed", entry.Name)

	entry, err = registry.Select("experimental", true)
	require.NoError(t, err)
	require.True(t, entry.Experimental)
}

// Test that the selection errors are configuration errors and there is
// no fallback.
func TestRegistrySelectErrors(t *testing.T) {
	registry := newTestRegistry(nil)

	testCases := map[string]struct {
		name         string
		experimental bool
		reason       string
	}{
		"empty":        {"", true, "not specified"},
		"unknown":      {"foo", true, "unknown backend"},
		"experimental": {"experimental", false, "experimental backend not enabled"},
		"unavailable":  {"missing", true, "not available"},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			entry, err := registry.Select(testCase.name, testCase.experimental)

			var configErr *ConfigurationError
			require.ErrorAs(t, err, &configErr)
			require.Equal(t, testCase.name, configErr.Backend)
			require.Contains(t, configErr.Reason, testCase.reason)
			require.Contains(t, err.Error(), testCase.reason)
			require.Empty(t, entry.Name)
		})
	}
}

// Test creating the client through the registry.
func TestRegistryNewClient(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	backend := NewMockBackend(ctrl)
	registry := newTestRegistry(backend)
	loop := NewLoop(nil)
	defer loop.Shutdown()

	// Act
	client, err := registry.NewClient("stable", false, testSettings4(), loop)
	_, errExperimental := registry.NewClient("experimental", false, testSettings4(), loop)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "stable", client.BackendName())
	require.Equal(t, StateUnknown, client.State())
	var configErr *ConfigurationError
	require.ErrorAs(t, errExperimental, &configErr)
}
