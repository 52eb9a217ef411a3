package leaseutil

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
	"isc.org/leasekeeper/testutil"
)

// Test that the executor recognizes the files and the executables.
func TestSystemCommandExecutorFiles(t *testing.T) {
	// Arrange
	sb := testutil.NewSandbox()
	defer sb.Close()
	plain, _ := sb.Write("plain", "foo")
	script, _ := sb.Write("script.sh", "#!/bin/sh\n")
	_ = os.Chmod(script, 0o700)
	executor := NewSystemCommandExecutor()

	// Act & Assert
	require.True(t, executor.IsFileExist(plain))
	require.False(t, executor.IsExecutable(plain))
	require.True(t, executor.IsExecutable(script))
	require.False(t, executor.IsFileExist(sb.BasePath))
	require.False(t, executor.IsFileExist(path.Join(sb.BasePath, "missing")))
}

// Test looking up the executable by an absolute path.
func TestSystemCommandExecutorLookPath(t *testing.T) {
	// Arrange
	sb := testutil.NewSandbox()
	defer sb.Close()
	script, _ := sb.Write("helper", "#!/bin/sh\n")
	_ = os.Chmod(script, 0o700)
	executor := NewSystemCommandExecutor()

	// Act
	found, err := executor.LookPath(script)
	_, missingErr := executor.LookPath(path.Join(sb.BasePath, "missing"))

	// Assert
	require.NoError(t, err)
	require.Equal(t, script, found)
	require.Error(t, missingErr)
}
