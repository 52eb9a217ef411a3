package program

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"isc.org/leasekeeper/dhcpclient"
)

// Starts the client programs.
type Spawner interface {
	Spawn(path string, args []string, env []string) (dhcpclient.Process, error)
}

// Spawns the programs as the operating system processes.
type systemSpawner struct{}

// Creates the spawner starting the operating system processes.
func NewSystemSpawner() Spawner {
	return &systemSpawner{}
}

// Process started by the system spawner.
type systemProcess struct {
	pid  int
	done chan struct{}
	err  error
}

func (p *systemProcess) Pid() int {
	return p.pid
}

func (p *systemProcess) Done() <-chan struct{} {
	return p.done
}

func (p *systemProcess) ExitStatus() error {
	return p.err
}

// Starts the program in its own process group with the given variables
// appended to the daemon environment. The program receives SIGTERM when
// the daemon dies. Its output goes to the debug log.
func (s *systemSpawner) Spawn(path string, args []string, env []string) (dhcpclient.Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}
	output := log.WithField("binary", filepath.Base(path)).WriterLevel(log.DebugLevel)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		output.Close()
		return nil, errors.Wrapf(err, "cannot start %s", path)
	}

	process := &systemProcess{
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		process.err = cmd.Wait()
		output.Close()
		close(process.done)
	}()
	return process, nil
}
