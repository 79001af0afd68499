package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yaroslav-korotaev/overnats/listener"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Watcher turns a KV watch into a callback stream with an online flag that
// flips true exactly once, after the initial snapshot has been replayed —
// the underlying Watch signals that moment by delivering a nil Entry on its
// update channel.
type Watcher[V any] struct {
	w         Watch
	component string
	cb        func(Update[V])

	onlineCh   chan struct{}
	onlineOnce sync.Once
	online     atomic.Bool

	l *listener.Listener[Entry]
}

func newWatcher[V any](w Watch, component string, cb func(Update[V]), sink *trapdoor.Sink) *Watcher[V] {
	watcher := &Watcher[V]{
		w:         w,
		component: component,
		cb:        cb,
		onlineCh:  make(chan struct{}),
	}
	watcher.l = listener.Start(component, sink, w.Updates(), watcher.handle)
	return watcher
}

func (w *Watcher[V]) handle(entry Entry) error {
	if entry == nil {
		w.onlineOnce.Do(func() {
			w.online.Store(true)
			close(w.onlineCh)
		})
		return nil
	}

	u := Update[V]{
		Revision: entry.Revision(),
		Key:      entry.Key(),
		Online:   w.online.Load(),
	}

	switch entry.Operation() {
	case OpDelete:
		u.Operation = OpDelete
	default:
		u.Operation = OpPut
		if data := entry.Value(); len(data) > 0 {
			var v V
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("kv: decoding %s entry %s: %w", w.component, entry.Key(), err)
			}
			u.Value = v
		}
	}

	w.safeCallback(u)
	return nil
}

func (w *Watcher[V]) safeCallback(u Update[V]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in watcher callback: %v", r)
		}
	}()
	w.cb(u)
	return nil
}

// Init blocks until the initial snapshot has been replayed (Online()
// becomes true) or ctx is done.
func (w *Watcher[V]) Init(ctx context.Context) error {
	select {
	case <-w.onlineCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Online reports whether the initial snapshot has been replayed.
func (w *Watcher[V]) Online() bool { return w.online.Load() }

// Destroy stops the underlying KV watch and waits for the drain goroutine
// to exit.
func (w *Watcher[V]) Destroy() error {
	if err := w.w.Stop(); err != nil {
		return fmt.Errorf("kv: stopping watch %s: %w", w.component, err)
	}
	w.l.Destroy()
	return nil
}
