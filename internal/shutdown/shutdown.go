// Package shutdown bridges OS signals into the reactor's waker-driven
// event loop. The reactor never calls signal.Notify itself — it only
// ever observes an atomic flag and its waker — so this package owns all
// os/signal plumbing, tripping the flag and waking the reactor instead
// of tearing down a list of subsystems directly.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/oriys/quest/internal/logging"
)

// exit terminates the process. A package-level var so tests can
// substitute a non-terminating stand-in for the second-signal path.
var exit = os.Exit

// Waker is the same contract the queue manager wakes on: an idempotent,
// cross-context notification that the reactor's poller must observe.
type Waker interface {
	Wake() error
}

// Flag is a lock-free, repeatedly-readable shutdown signal. The reactor
// checks it every time its waker fires: if set, it sends a terminate
// request to the queue manager and returns from the event loop.
type Flag struct {
	set atomic.Bool
}

// Requested reports whether shutdown has been asked for.
func (f *Flag) Requested() bool {
	return f.set.Load()
}

// Trigger marks shutdown requested. Safe to call more than once.
func (f *Flag) Trigger() {
	f.set.Store(true)
}

// Notify registers a signal handler for SIGINT and SIGTERM that sets
// flag and wakes w on the first signal received. A second signal,
// received while shutdown is still in progress, unconditionally aborts
// the process rather than waiting on a shutdown that may never finish
// draining. It returns a stop function that undoes the registration,
// mirroring signal.NotifyContext's cleanup contract.
func Notify(flag *Flag, w Waker) (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		triggered := false
		for {
			select {
			case sig := <-sigCh:
				if triggered {
					logging.Op().Warn("second termination signal received, aborting", "signal", sig)
					exit(1)
					continue
				}
				triggered = true
				flag.Trigger()
				w.Wake()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
