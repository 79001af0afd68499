package timers

import (
	"fmt"
	"sync"
	"time"

	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Scheduler is a one-shot, re-armable timer. Schedule debounces to the
// first requested delay: once armed, further calls before the tick fires
// are no-ops. The callback receives (now, schedule) so it can re-arm
// itself with the next computed delay.
type Scheduler struct {
	component string
	sink      *trapdoor.Sink
	cb        func(now time.Time, schedule func(time.Duration))

	mu        sync.Mutex
	armed     bool
	destroyed bool
	timer     *time.Timer
}

// New constructs an unarmed Scheduler.
func New(component string, sink *trapdoor.Sink, cb func(now time.Time, schedule func(time.Duration))) *Scheduler {
	return &Scheduler{component: component, sink: sink, cb: cb}
}

// Schedule arms the scheduler to fire after delay, unless it is already
// armed or has been destroyed.
func (s *Scheduler) Schedule(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.armed {
		return
	}
	s.armed = true
	s.timer = time.AfterFunc(delay, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.armed = false
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return
	}
	s.safeCall()
}

func (s *Scheduler) safeCall() {
	defer func() {
		if r := recover(); r != nil {
			s.sink.Report(s.component, fmt.Errorf("panic in scheduler callback: %v", r))
		}
	}()
	s.cb(time.Now(), s.Schedule)
}

// Destroy disarms the scheduler. A tick already in flight runs to
// completion but its re-arm attempts become no-ops.
func (s *Scheduler) Destroy() error {
	s.mu.Lock()
	s.destroyed = true
	timer := s.timer
	s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return nil
}
