package dhcpclient

import (
	"time"
)

// Supervised helper process.
type Process interface {
	// Process identifier.
	Pid() int
	// Closed when the process exits.
	Done() <-chan struct{}
	// Exit status, valid after Done is closed.
	ExitStatus() error
}

// Converts the timeout in seconds to the duration.
func secondsToDuration(seconds uint32) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Arms the one-shot transaction timer. When it fires before the lease is
// bound, the client enters the timeout state. The previously armed timer
// is disarmed. The infinite timeout disables the timer.
func (c *Client) StartTimeout() {
	c.stopTimeout()

	timeout := c.Timeout()
	if timeout == TimeoutInfinity {
		c.logger.Debug("Transaction timeout disabled")
		return
	}

	id := c.timerID
	c.timer = c.loop.AfterFunc(secondsToDuration(timeout), func() {
		c.onTimeout(id)
	})
}

// Disarms the transaction timer. The timer firing concurrently is
// recognized as stale by its token.
func (c *Client) stopTimeout() {
	c.timerID++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Handles the timer expiration.
func (c *Client) onTimeout(id uint64) {
	if id != c.timerID || c.timer == nil {
		return
	}
	c.timer = nil
	if c.state == StateBound {
		return
	}
	c.logger.WithField("timeout", c.timeoutText()).Warn("DHCP transaction timed out")
	if err := c.SetState(StateTimeout, nil, nil); err != nil {
		c.logger.WithError(err).Debug("Ignoring transaction timeout")
	}
}

// Indicates if the transaction timer is armed.
func (c *Client) TimeoutArmed() bool {
	return c.timer != nil
}

// Supervises the helper process. The process exiting while the client is
// running fails the lease and terminates the client. The previously
// watched process is no longer supervised.
func (c *Client) WatchChild(process Process) {
	c.stopWatch()

	id := c.watchID
	stop := make(chan struct{})
	c.watchStop = stop
	c.process = process
	c.pid = process.Pid()

	c.logger.WithField("pid", c.pid).Debug("Watching DHCP helper process")

	go func() {
		select {
		case <-process.Done():
			_ = c.loop.Post(func() {
				c.onChildExit(id, process)
			})
		case <-stop:
		}
	}()
}

// Stops supervising the helper process. The pid remains tracked until the
// client stops so the late events of the process are still accepted.
func (c *Client) stopWatch() {
	c.watchID++
	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}
}

// Handles the exit of the supervised process.
func (c *Client) onChildExit(id uint64, process Process) {
	if id != c.watchID {
		return
	}
	c.watchStop = nil
	c.process = nil
	c.pid = 0

	logger := c.logger.WithField("pid", process.Pid())
	if err := process.ExitStatus(); err != nil {
		logger = logger.WithError(err)
	}
	logger.Warn("DHCP helper process exited")

	if c.state == StateUnknown || c.state == StateBound {
		if err := c.SetState(StateFail, nil, nil); err != nil {
			logger.WithError(err).Error("Cannot fail DHCP lease")
		}
	}
	c.Stop(false)
}

// Returns the supervised process or nil.
func (c *Client) Process() Process {
	return c.process
}
