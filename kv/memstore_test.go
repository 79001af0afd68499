package kv

import (
	"strings"
	"sync"
)

// memStore is an in-memory Store fake used to test Bucket/Watcher without a
// live NATS server.
type memStore struct {
	mu       sync.Mutex
	data     map[string]*memEntry
	rev      uint64
	watchers []*memWatch
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*memEntry)}
}

type memEntry struct {
	key      string
	value    []byte
	revision uint64
	op       Operation
}

func (e *memEntry) Key() string          { return e.key }
func (e *memEntry) Value() []byte        { return e.value }
func (e *memEntry) Revision() uint64     { return e.revision }
func (e *memEntry) Operation() Operation { return e.op }

func (s *memStore) Get(key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *memStore) Put(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	s.rev++
	e := &memEntry{key: key, value: value, revision: s.rev, op: OpPut}
	s.data[key] = e
	s.mu.Unlock()
	s.publish(e)
	return e.revision, nil
}

func (s *memStore) Create(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	if existing, ok := s.data[key]; ok && existing.op != OpDelete {
		s.mu.Unlock()
		return 0, ErrConflict
	}
	s.rev++
	e := &memEntry{key: key, value: value, revision: s.rev, op: OpPut}
	s.data[key] = e
	s.mu.Unlock()
	s.publish(e)
	return e.revision, nil
}

func (s *memStore) Update(key string, value []byte, last uint64) (uint64, error) {
	s.mu.Lock()
	existing, ok := s.data[key]
	if !ok || existing.op == OpDelete || existing.revision != last {
		s.mu.Unlock()
		return 0, ErrConflict
	}
	s.rev++
	e := &memEntry{key: key, value: value, revision: s.rev, op: OpPut}
	s.data[key] = e
	s.mu.Unlock()
	s.publish(e)
	return e.revision, nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	s.rev++
	e := &memEntry{key: key, revision: s.rev, op: OpDelete}
	s.data[key] = e
	s.mu.Unlock()
	s.publish(e)
	return nil
}

func (s *memStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.data {
		if e.op == OpPut {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Watch(filter string) (Watch, error) {
	return s.watch(filter)
}

func (s *memStore) WatchAll() (Watch, error) {
	return s.watch("")
}

func (s *memStore) watch(filter string) (Watch, error) {
	s.mu.Lock()
	w := &memWatch{ch: make(chan Entry, 256), filter: filter, store: s}
	var snapshot []*memEntry
	for _, e := range s.data {
		if matchFilter(filter, e.key) {
			snapshot = append(snapshot, e)
		}
	}
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	go func() {
		for _, e := range snapshot {
			w.send(e)
		}
		w.send(nil)
	}()
	return w, nil
}

func (s *memStore) publish(e *memEntry) {
	s.mu.Lock()
	watchers := append([]*memWatch(nil), s.watchers...)
	s.mu.Unlock()
	for _, w := range watchers {
		if matchFilter(w.filter, e.key) {
			w.send(e)
		}
	}
}

func (s *memStore) removeWatcher(target *memWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.watchers[:0]
	for _, w := range s.watchers {
		if w != target {
			out = append(out, w)
		}
	}
	s.watchers = out
}

func matchFilter(filter, key string) bool {
	if filter == "" {
		return true
	}
	if strings.HasSuffix(filter, ".>") {
		return strings.HasPrefix(key, strings.TrimSuffix(filter, ">"))
	}
	return filter == key
}

type memWatch struct {
	mu      sync.Mutex
	ch      chan Entry
	filter  string
	store   *memStore
	stopped bool
}

func (w *memWatch) send(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.ch <- e:
	default:
	}
}

func (w *memWatch) Updates() <-chan Entry { return w.ch }

func (w *memWatch) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.ch)
	w.mu.Unlock()
	w.store.removeWatcher(w)
	return nil
}
