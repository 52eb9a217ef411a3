// Package programtest provides the fakes used to test the program
// backends without starting the real client programs.
package programtest

import (
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/dhcpclient"
	"isc.org/leasekeeper/testutil"
)

// Fake process exiting on demand.
type Process struct {
	pid  int
	done chan struct{}
	once sync.Once
	err  error
}

// Creates the running fake process.
func NewProcess(pid int) *Process {
	return &Process{pid: pid, done: make(chan struct{})}
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) ExitStatus() error {
	return p.err
}

// Terminates the process with a given status.
func (p *Process) Exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Program run by the fake spawner.
type Invocation struct {
	Path    string
	Args    []string
	Env     []string
	Process *Process
}

// Spawner recording the invocations and returning the fake processes.
// The processes exit immediately when ExitImmediately is set, e.g., to
// imitate a release command.
type Spawner struct {
	mutex       sync.Mutex
	nextPid     int
	invocations []Invocation
	// Error returned instead of spawning.
	Err error
	// Paths of the programs exiting right after the start.
	ExitImmediately []string
}

// Creates the fake spawner.
func NewSpawner() *Spawner {
	return &Spawner{nextPid: 4000}
}

// Records the invocation.
func (s *Spawner) Spawn(path string, args []string, env []string) (dhcpclient.Process, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.nextPid++
	process := NewProcess(s.nextPid)
	if slices.Contains(s.ExitImmediately, path) {
		process.Exit(nil)
	}
	s.invocations = append(s.invocations, Invocation{
		Path:    path,
		Args:    slices.Clone(args),
		Env:     slices.Clone(env),
		Process: process,
	})
	return process, nil
}

// Returns the recorded invocations.
func (s *Spawner) Invocations() []Invocation {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.invocations)
}

// Sent signal.
type Signal struct {
	Pid    int
	Signal unix.Signal
}

// Test fixture: the event loop driven by the mock clock, the sandboxed
// environment with the fake spawner and executor, and the killer
// recording the signals instead of sending them.
type Fixture struct {
	Clock    *clock.Mock
	Loop     *dhcpclient.Loop
	Sandbox  *testutil.Sandbox
	Spawner  *Spawner
	Executor *Executor
	Env      *program.Environment
	Killer   *dhcpclient.ProcessKiller

	mutex   sync.Mutex
	signals []Signal
}

// Creates the fixture. It is disposed when the test finishes.
func NewFixture(t *testing.T) *Fixture {
	fixture := &Fixture{
		Clock:    clock.NewMock(),
		Sandbox:  testutil.NewSandbox(),
		Spawner:  NewSpawner(),
		Executor: NewExecutor(),
	}
	fixture.Loop = dhcpclient.NewLoop(fixture.Clock)
	fixture.Env = &program.Environment{
		Executor:     fixture.Executor,
		Spawner:      fixture.Spawner,
		StateDir:     fixture.Sandbox.Path("state"),
		RunDir:       fixture.Sandbox.Path("run"),
		HelperPath:   "/usr/libexec/leasekeeper-helper",
		HelperSocket: fixture.Sandbox.Path("helper.sock"),
	}
	fixture.Killer = dhcpclient.NewProcessKiller(fixture.Clock)
	fixture.Killer.SetSignalFunc(func(pid int, signal unix.Signal) error {
		fixture.mutex.Lock()
		defer fixture.mutex.Unlock()
		fixture.signals = append(fixture.signals, Signal{Pid: pid, Signal: signal})
		return errors.WithStack(unix.ESRCH)
	})
	t.Cleanup(func() {
		fixture.Loop.Shutdown()
		fixture.Sandbox.Close()
	})
	return fixture
}

// Returns the signals sent by the killer.
func (f *Fixture) Signals() []Signal {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return slices.Clone(f.signals)
}

// Creates the client on the loop.
func (f *Fixture) NewClient(t *testing.T, settings dhcpclient.Settings, name string, constructor dhcpclient.Constructor, opts ...dhcpclient.ClientOption) *dhcpclient.Client {
	t.Helper()
	var client *dhcpclient.Client
	opts = append([]dhcpclient.ClientOption{dhcpclient.WithProcessKiller(f.Killer)}, opts...)
	err := f.Loop.Call(func() (err error) {
		client, err = dhcpclient.NewClient(settings, f.Loop, name, constructor, opts...)
		return
	})
	require.NoError(t, err)
	return client
}

// Executes the function on the loop and returns its error.
func (f *Fixture) Call(t *testing.T, fn func() error) error {
	t.Helper()
	return f.Loop.Call(fn)
}

// Executes the function on the loop.
func (f *Fixture) Do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, f.Loop.Call(func() error {
		fn()
		return nil
	}))
}

// Returns the client state read on the loop.
func (f *Fixture) State(t *testing.T, client *dhcpclient.Client) dhcpclient.State {
	t.Helper()
	var state dhcpclient.State
	f.Do(t, func() { state = client.State() })
	return state
}

// Waits until the client reaches the state.
func (f *Fixture) WaitForState(t *testing.T, client *dhcpclient.Client, state dhcpclient.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.State(t, client) == state
	}, 5*time.Second, 5*time.Millisecond)
}

// Executor finding only the installed binaries.
type Executor struct {
	mutex    sync.Mutex
	binaries map[string]string
}

// Creates the executor without any binaries.
func NewExecutor() *Executor {
	return &Executor{binaries: make(map[string]string)}
}

// Registers the binary under its base name.
func (e *Executor) Install(path string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.binaries[filepath.Base(path)] = path
}

func (e *Executor) LookPath(command string) (string, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if path, ok := e.binaries[filepath.Base(command)]; ok {
		return path, nil
	}
	return "", errors.Errorf("cannot find %s", command)
}

func (e *Executor) IsFileExist(path string) bool {
	return e.IsExecutable(path)
}

func (e *Executor) IsExecutable(path string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.binaries[filepath.Base(path)] == path
}

// Writes the fake binary to the sandbox and makes it visible to the
// environment.
func (f *Fixture) InstallBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := f.Sandbox.WriteExecutable(filepath.Join("sbin", name), "#!/bin/sh\n")
	require.NoError(t, err)
	f.Executor.Install(path)
	return path
}
