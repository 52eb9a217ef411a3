// Package program contains the machinery shared by the backends running
// an external DHCP client program: locating the binary, the layout of
// the pid, lease and configuration files, spawning the program with the
// helper as its script and supervising it.
package program

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"isc.org/leasekeeper/eventserver"
	"isc.org/leasekeeper/ipconfig"
	leaseutil "isc.org/leasekeeper/util"
)

// Default locations.
const (
	DefaultStateDir   = "/var/lib/leasekeeper"
	DefaultRunDir     = "/run/leasekeeper"
	DefaultHelperPath = "/usr/libexec/leasekeeper-helper"
)

// Directories searched for the client programs missing in PATH.
var DefaultSearchDirs = []string{"/sbin", "/usr/sbin", "/usr/local/sbin"}

// Environment of the program backends.
type Environment struct {
	Executor leaseutil.CommandExecutor
	Spawner  Spawner
	// Directory of the lease and DUID files.
	StateDir string
	// Directory of the pid and generated configuration files.
	RunDir string
	// Helper executed by the client programs as their script.
	HelperPath string
	// Socket the helper reports the events to.
	HelperSocket string
	// Directories searched for the binaries besides PATH.
	SearchDirs []string
}

// Creates the environment using the default locations and the system
// executor and spawner.
func NewEnvironment() *Environment {
	return &Environment{
		Executor:     leaseutil.NewSystemCommandExecutor(),
		Spawner:      NewSystemSpawner(),
		StateDir:     DefaultStateDir,
		RunDir:       DefaultRunDir,
		HelperPath:   DefaultHelperPath,
		HelperSocket: eventserver.DefaultSocketPath,
		SearchDirs:   DefaultSearchDirs,
	}
}

// Looks for the binary in PATH and then in the search directories. An
// absolute path is only checked for being executable.
func (e *Environment) FindBinary(name string) (string, error) {
	if filepath.IsAbs(name) {
		if e.Executor.IsExecutable(name) {
			return name, nil
		}
		return "", errors.Errorf("%s is not an executable file", name)
	}
	if path, err := e.Executor.LookPath(name); err == nil {
		return path, nil
	}
	for _, dir := range e.SearchDirs {
		path := filepath.Join(dir, name)
		if e.Executor.IsExecutable(path) {
			return path, nil
		}
	}
	return "", errors.Errorf("cannot find the %s binary", name)
}

// Returns the function checking if the binary is installed.
func (e *Environment) Available(name string) func() bool {
	return func() bool {
		_, err := e.FindBinary(name)
		return err == nil
	}
}

// Returns the environment variables passed to the client program.
func (e *Environment) HelperEnv() []string {
	return []string{fmt.Sprintf("%s=%s", eventserver.SocketEnvironmentVariable, e.HelperSocket)}
}

// Prepares the directories of the state and run files.
func (e *Environment) MakeDirs() error {
	for _, dir := range []string{e.StateDir, e.RunDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "cannot create directory %s", dir)
		}
	}
	return nil
}

// Returns the base name of the per-interface files.
func fileBase(binary string, family ipconfig.Family, iface string) string {
	if family == ipconfig.FamilyIPv6 {
		binary += "6"
	}
	return fmt.Sprintf("%s-%s", binary, iface)
}

// Path of the pid file of the program running on the interface.
func (e *Environment) PidFile(binary string, family ipconfig.Family, iface string) string {
	return filepath.Join(e.RunDir, fileBase(binary, family, iface)+".pid")
}

// Path of the generated configuration file.
func (e *Environment) ConfigFile(binary string, family ipconfig.Family, iface string) string {
	return filepath.Join(e.RunDir, fileBase(binary, family, iface)+".conf")
}

// Path of the lease file. The connection UUID, when known, keeps the
// leases of the different connections on the same interface apart.
func (e *Environment) LeaseFile(binary string, family ipconfig.Family, uuid string, iface string) string {
	name := fileBase(binary, family, iface)
	if uuid != "" {
		name = fmt.Sprintf("%s-%s", binary, uuid)
		if family == ipconfig.FamilyIPv6 {
			name = fmt.Sprintf("%s6-%s", binary, uuid)
		}
		name += "-" + iface
	}
	return filepath.Join(e.StateDir, name+".lease")
}

// Writes the pid file.
func WritePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create the directory of %s", path)
	}
	err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
	return errors.Wrapf(err, "cannot write pid file %s", path)
}

// Reads the pid file. It returns zero when the file does not exist.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "cannot read pid file %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid pid file %s", path)
	}
	return pid, nil
}
