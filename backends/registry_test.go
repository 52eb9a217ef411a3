package backends

import (
	"testing"

	"github.com/stretchr/testify/require"
	"isc.org/leasekeeper/backends/program/programtest"
	"isc.org/leasekeeper/dhcpclient"
)

// Test that the default registry contains every backend.
func TestNewDefaultRegistry(t *testing.T) {
	// Arrange
	fixture := programtest.NewFixture(t)

	// Act
	registry, err := NewDefaultRegistry(fixture.Env)

	// Assert
	require.NoError(t, err)
	require.Equal(t, []string{"dhclient", "dhcpcanon", "dhcpcd", "internal"}, registry.Names())
}

// Test that the built-in backend is always selectable.
func TestSelectDefaultBackend(t *testing.T) {
	fixture := programtest.NewFixture(t)
	registry, err := NewDefaultRegistry(fixture.Env)
	require.NoError(t, err)

	entry, err := registry.Select(DefaultBackend, false)

	require.NoError(t, err)
	require.Equal(t, "internal", entry.Name)
}

// Test that the program backends are selectable only when their binaries
// are installed.
func TestSelectProgramBackend(t *testing.T) {
	// Arrange
	fixture := programtest.NewFixture(t)
	registry, err := NewDefaultRegistry(fixture.Env)
	require.NoError(t, err)

	// Act
	_, errMissing := registry.Select("dhclient", false)
	fixture.InstallBinary(t, "dhclient")
	entry, errInstalled := registry.Select("dhclient", false)

	// Assert
	var configErr *dhcpclient.ConfigurationError
	require.ErrorAs(t, errMissing, &configErr)
	require.Equal(t, "dhclient", configErr.Backend)
	require.NoError(t, errInstalled)
	require.Equal(t, "dhclient", entry.Name)
}

// Test that the experimental backend requires the explicit enable.
func TestSelectExperimentalBackend(t *testing.T) {
	// Arrange
	fixture := programtest.NewFixture(t)
	fixture.InstallBinary(t, "dhcpcanon")
	registry, err := NewDefaultRegistry(fixture.Env)
	require.NoError(t, err)

	// Act
	_, errDisabled := registry.Select("dhcpcanon", false)
	_, errEnabled := registry.Select("dhcpcanon", true)

	// Assert
	require.ErrorContains(t, errDisabled, "experimental backend not enabled")
	require.NoError(t, errEnabled)
}
