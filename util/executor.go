package leaseutil

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// The command executor is an abstraction layer on top of the exec package to
// improve testability and allow mocking the operating system operations.
type CommandExecutor interface {
	LookPath(string) (string, error)
	IsFileExist(string) bool
	IsExecutable(string) bool
}

// Executes the given command in the operating system.
type systemCommandExecutor struct{}

// Constructs the command executor that looks up the binaries in the system.
func NewSystemCommandExecutor() CommandExecutor {
	return &systemCommandExecutor{}
}

// Looks for a given command in the system PATH and returns absolute path if
// found. An absolute or relative path is checked directly.
func (e *systemCommandExecutor) LookPath(command string) (string, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return "", errors.Wrapf(err, "cannot find %s", command)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil //nolint:nilerr
	}
	return abs, nil
}

// Looks for a given file. Returns true is the path exist, is accessible, and
// points to a file.
func (e *systemCommandExecutor) IsFileExist(path string) bool {
	if stat, err := os.Stat(path); err == nil {
		return stat.Mode().IsRegular()
	}
	return false
}

// Checks if the path points to a regular file with any execute bit set.
func (e *systemCommandExecutor) IsExecutable(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return stat.Mode().IsRegular() && stat.Mode().Perm()&0o111 != 0
}
