package dhcpclient

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// Event loop executing the posted functions one by one on a single
// goroutine. The clients, the event bridge and the backends keep their
// state confined to the loop; the other goroutines (timers, process
// waiters, network exchanges, the event server) only post functions.
type Loop struct {
	clock  clock.Clock
	mutex  sync.Mutex
	queue  []func()
	wakeup chan struct{}
	done   chan struct{}
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
}

// Creates and starts the event loop. A nil clock means the system clock.
func NewLoop(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	loop := &Loop{
		clock:  clk,
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	loop.wg.Add(1)
	go loop.mainLoop()
	return loop
}

// Returns the clock used by the loop timers.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Schedules the function for the execution on the loop. It returns
// ErrDisposed when the loop has been shut down.
func (l *Loop) Post(f func()) error {
	l.mutex.Lock()
	if l.closed {
		l.mutex.Unlock()
		return ErrDisposed
	}
	l.queue = append(l.queue, f)
	l.mutex.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// Executes the function on the loop and waits for its result. It must not
// be called from the loop itself. It returns ErrDisposed when the loop is
// shut down before the function is executed.
func (l *Loop) Call(f func() error) error {
	result := make(chan error, 1)
	err := l.Post(func() {
		result <- f()
	})
	if err != nil {
		return err
	}
	select {
	case err = <-result:
		return err
	case <-l.done:
		// The function may have completed right before the shutdown.
		select {
		case err = <-result:
			return err
		default:
			return ErrDisposed
		}
	}
}

// Waits until all functions posted so far are executed.
func (l *Loop) Sync() error {
	return l.Call(func() error { return nil })
}

// Arms a one-shot timer. Its function is executed on the loop.
func (l *Loop) AfterFunc(d time.Duration, f func()) *clock.Timer {
	return l.clock.AfterFunc(d, func() {
		// The loop may be gone when the timer fires.
		_ = l.Post(f)
	})
}

// Stops the loop. The functions still waiting in the queue are discarded
// and the subsequent posts fail with ErrDisposed. It waits for the
// function currently executed, so it must not be called from the loop.
func (l *Loop) Shutdown() {
	l.once.Do(func() {
		l.mutex.Lock()
		l.closed = true
		discarded := len(l.queue)
		l.queue = nil
		l.mutex.Unlock()

		close(l.done)
		l.wg.Wait()

		if discarded > 0 {
			log.WithField("discarded", discarded).Debug("Discarded pending events of the stopped event loop")
		}
	})
}

// Takes the next function from the queue. It returns nil when the queue is
// empty or the loop has been closed.
func (l *Loop) next() func() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f
}

// Loop goroutine.
func (l *Loop) mainLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.wakeup:
			for f := l.next(); f != nil; f = l.next() {
				f()
			}
		}
	}
}
