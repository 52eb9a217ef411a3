package dhcpclient

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Time given to the helper process to exit after SIGTERM before it is
// killed.
const DefaultKillGracePeriod = time.Second

// Sends the signals to the processes.
type signaler interface {
	Signal(pid int, signal unix.Signal) error
}

// Sends the signals using the kill system call.
type systemSignaler struct{}

// Sends the signal to the process.
func (systemSignaler) Signal(pid int, signal unix.Signal) error {
	return unix.Kill(pid, signal)
}

// Function sending the signal to the process.
type SignalFunc func(pid int, signal unix.Signal) error

// Sends the signal to the process.
func (f SignalFunc) Signal(pid int, signal unix.Signal) error {
	return f(pid, signal)
}

// Inspects the running processes.
type processInspector interface {
	// Returns the executable name of the process.
	Name(pid int32) (string, error)
	// Checks if the process exists.
	IsRunning(pid int32) (bool, error)
	// Returns the creation time of the process in milliseconds since the
	// epoch. It tells the process apart from a later one reusing the pid.
	CreateTime(pid int32) (int64, error)
}

// Process inspector based on gopsutil.
type systemProcessInspector struct{}

// Returns the executable name of the process.
func (systemProcessInspector) Name(pid int32) (string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", errors.Wrapf(err, "cannot find process %d", pid)
	}
	name, err := proc.Name()
	if err != nil {
		return "", errors.Wrapf(err, "cannot read the name of process %d", pid)
	}
	return name, nil
}

// Checks if the process exists.
func (systemProcessInspector) IsRunning(pid int32) (bool, error) {
	running, err := process.PidExists(pid)
	return running, errors.Wrapf(err, "cannot check process %d", pid)
}

// Returns the creation time of the process.
func (systemProcessInspector) CreateTime(pid int32) (int64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot find process %d", pid)
	}
	created, err := proc.CreateTime()
	return created, errors.Wrapf(err, "cannot read the creation time of process %d", pid)
}

// Stops the DHCP helper processes: sends SIGTERM and, when the process
// does not exit within the grace period, SIGKILL. It never blocks.
type ProcessKiller struct {
	clock       clock.Clock
	gracePeriod time.Duration
	signaler    signaler
	inspector   processInspector
	mutex       sync.Mutex
	pending     map[int]*clock.Timer
}

// Creates the process killer. A nil clock means the system clock.
func NewProcessKiller(clk clock.Clock) *ProcessKiller {
	if clk == nil {
		clk = clock.New()
	}
	return &ProcessKiller{
		clock:       clk,
		gracePeriod: DefaultKillGracePeriod,
		signaler:    systemSignaler{},
		inspector:   systemProcessInspector{},
		pending:     make(map[int]*clock.Timer),
	}
}

// Stops the supervised process. SIGKILL is not sent once the process
// has been reaped.
func (k *ProcessKiller) StopProcess(proc Process, iface string) {
	if proc == nil {
		return
	}
	k.stop(proc.Pid(), iface, func() bool {
		select {
		case <-proc.Done():
			return false
		default:
			return true
		}
	})
}

// Stops the process not supervised by this daemon. SIGKILL is sent only
// when the process holding the pid after the grace period was created at
// the same time as the one terminated.
func (k *ProcessKiller) StopPid(pid int, iface string) {
	if pid <= 0 {
		return
	}
	created, err := k.inspector.CreateTime(int32(pid))
	k.stop(pid, iface, func() bool {
		if err != nil {
			return false
		}
		current, err := k.inspector.CreateTime(int32(pid))
		return err == nil && current == created
	})
}

// Sends SIGTERM and arms the SIGKILL. The function tells if the pid still
// refers to the terminated process. The repeated calls for the same pid
// are ignored until the grace period elapses.
func (k *ProcessKiller) stop(pid int, iface string, same func() bool) {
	if pid <= 0 {
		return
	}
	logger := log.WithFields(log.Fields{
		"pid":   pid,
		"iface": iface,
	})

	k.mutex.Lock()
	defer k.mutex.Unlock()
	if _, ok := k.pending[pid]; ok {
		return
	}

	err := k.signaler.Signal(pid, unix.SIGTERM)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			logger.Debug("DHCP helper process already exited")
		} else {
			logger.WithError(err).Warn("Cannot terminate DHCP helper process")
		}
		return
	}
	logger.Debug("Sent SIGTERM to DHCP helper process")

	k.pending[pid] = k.clock.AfterFunc(k.gracePeriod, func() {
		k.killIfRunning(pid, same, logger)
	})
}

// Sends SIGKILL when the process is still running after the grace period.
func (k *ProcessKiller) killIfRunning(pid int, same func() bool, logger *log.Entry) {
	k.mutex.Lock()
	delete(k.pending, pid)
	k.mutex.Unlock()

	if !same() {
		logger.Debug("DHCP helper process exited, the pid is not killed")
		return
	}
	running, err := k.inspector.IsRunning(int32(pid))
	if err != nil || !running {
		return
	}
	if err = k.signaler.Signal(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.WithError(err).Warn("Cannot kill DHCP helper process")
		return
	}
	logger.Warn("DHCP helper process did not exit in time and was killed")
}

// Stops the process recorded in the pid file, e.g. an orphan left by the
// previous daemon instance. The process is stopped only when its
// executable name matches the binary. The pid file is removed.
func (k *ProcessKiller) StopExisting(pidFile string, binaryName string) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "cannot read pid file %s", pidFile)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	switch {
	case err != nil || pid <= 0:
		log.WithField("file", pidFile).Debug("Ignoring invalid pid file")
	default:
		name, err := k.inspector.Name(int32(pid))
		expected := filepath.Base(binaryName)
		if err == nil && name == expected {
			log.WithFields(log.Fields{
				"pid":    pid,
				"binary": expected,
			}).Info("Stopping orphaned DHCP helper process")
			k.StopPid(pid, "")
		}
	}

	if err = os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "cannot remove pid file %s", pidFile)
	}
	return nil
}

// Replaces the function sending the signals to the processes.
func (k *ProcessKiller) SetSignalFunc(signal SignalFunc) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.signaler = signal
}
