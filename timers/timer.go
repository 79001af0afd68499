// Package timers implements the Timer and Scheduler primitives of spec
// §4.8: a phase-aligned periodic timer and a debounced one-shot re-armable
// scheduler, both reporting callback failures to the trapdoor sink instead
// of tearing down the loop.
package timers

import (
	"fmt"
	"sync"
	"time"

	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Timer fires a callback every interval, staying aligned to the original
// epoch modulo interval so a slow callback does not accumulate drift:
// delay = interval - ((now - started) mod interval).
type Timer struct {
	component string
	interval  time.Duration
	cb        func()
	sink      *trapdoor.Sink

	started time.Time
	done    chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

// Start constructs and immediately starts a Timer.
func Start(component string, sink *trapdoor.Sink, interval time.Duration, cb func()) *Timer {
	t := &Timer{
		component: component,
		interval:  interval,
		cb:        cb,
		sink:      sink,
		started:   time.Now(),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Timer) nextDelay() time.Duration {
	elapsed := time.Since(t.started) % t.interval
	return t.interval - elapsed
}

func (t *Timer) run() {
	defer close(t.done)
	timer := time.NewTimer(t.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			t.safeCall()
			select {
			case <-t.stop:
				return
			default:
			}
			timer.Reset(t.nextDelay())
		}
	}
}

func (t *Timer) safeCall() {
	defer func() {
		if r := recover(); r != nil {
			t.sink.Report(t.component, fmt.Errorf("panic in timer callback: %v", r))
		}
	}()
	t.cb()
}

// Destroy cancels the pending tick. A tick already in flight runs to
// completion and does not reschedule afterward.
func (t *Timer) Destroy() error {
	t.stopped.Do(func() {
		close(t.stop)
	})
	<-t.done
	return nil
}
