// Package trapdoor implements the process-wide uncaught-exception sink:
// listeners, timers, and schedulers wrap callback failures with a component
// tag and push them here instead of tearing down their producing loop.
//
// The pub/sub shape (Subscribe returning a channel plus an unsubscribe
// func, non-blocking publish with a bounded per-subscriber buffer, and a
// Metrics snapshot) is carried over from gastown's internal/eventbus, the
// only piece of that package the retrieval pack kept.
package trapdoor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 100

// Failure is one reported, uncaught error.
type Failure struct {
	Component string
	Err       error
	At        time.Time
}

// Metrics is a snapshot of sink activity.
type Metrics struct {
	Published         int64
	Delivered         int64
	Dropped           int64
	SubscribersActive int
	SubscribersTotal  int64
}

// Sink is the trapdoor itself. The zero value is not usable; construct one
// with New.
type Sink struct {
	logger zerolog.Logger

	mu        sync.Mutex
	subs      map[int64]chan Failure
	nextID    int64
	totalSubs int64
	published int64
	delivered int64
	dropped   int64
}

// New constructs an empty Sink.
func New(logger zerolog.Logger) *Sink {
	return &Sink{
		logger: logger.With().Str("component", "trapdoor").Logger(),
		subs:   make(map[int64]chan Failure),
	}
}

// Subscribe returns a channel of failures and an unsubscribe function. The
// channel is buffered; once full, further failures are dropped for that
// subscriber rather than blocking the reporter.
func (s *Sink) Subscribe() (<-chan Failure, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.totalSubs++
	ch := make(chan Failure, subscriberBuffer)
	s.subs[id] = ch
	s.mu.Unlock()

	unsub := func() {
		s.mu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.mu.Unlock()
	}
	return ch, unsub
}

// Report records a failure attributed to component and delivers it to every
// subscriber. Shutdown is not a failure: a nil error or one whose root cause
// is context.Canceled is silently ignored, matching the spec's rule that
// AutoabortableError instances never reach the sink.
func (s *Sink) Report(component string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	f := Failure{Component: component, Err: err, At: time.Now()}
	s.logger.Error().Str("component", component).Err(err).Msg("uncaught error")

	s.mu.Lock()
	s.published++
	for _, ch := range s.subs {
		select {
		case ch <- f:
			s.delivered++
		default:
			s.dropped++
		}
	}
	s.mu.Unlock()
}

// Metrics returns a snapshot of sink activity.
func (s *Sink) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		Published:         s.published,
		Delivered:         s.delivered,
		Dropped:           s.dropped,
		SubscribersActive: len(s.subs),
		SubscribersTotal:  s.totalSubs,
	}
}

// SubscriberCount returns the number of currently active subscribers.
func (s *Sink) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes every subscriber channel. The Sink is unusable afterward.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
