// Package listener drains an async sequence into a user callback. It is the
// leaf-most component: kv.Watcher and rpc.Subscription each drain their
// channel through one of these.
package listener

import (
	"fmt"

	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Listener drains source into handle until source closes. Failures
// returned by handle are reported through sink and do not stop the loop —
// only the source closing (or a caller calling Destroy after closing it)
// ends it. Destroy does not close source itself; the caller must do that
// first (e.g. a Subscription drains its subscription, a Watcher stops its
// KV watch), then call Destroy to await the goroutine's natural exit.
type Listener[T any] struct {
	done chan struct{}
}

// Start spawns the drain goroutine immediately and returns a handle to it.
func Start[T any](component string, sink *trapdoor.Sink, source <-chan T, handle func(T) error) *Listener[T] {
	l := &Listener[T]{done: make(chan struct{})}
	go l.run(component, sink, source, handle)
	return l
}

func (l *Listener[T]) run(component string, sink *trapdoor.Sink, source <-chan T, handle func(T) error) {
	defer close(l.done)
	for item := range source {
		if err := l.safeHandle(handle, item); err != nil {
			sink.Report(component, err)
		}
	}
}

func (l *Listener[T]) safeHandle(handle func(T) error, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in listener callback: %v", r)
		}
	}()
	return handle(item)
}

// Destroy blocks until the drain goroutine has exited naturally, i.e. until
// whoever owns source has closed it.
func (l *Listener[T]) Destroy() {
	<-l.done
}
