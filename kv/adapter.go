package kv

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Wrap adapts a real nats.KeyValue store to the Store interface this
// package builds Bucket on top of.
func Wrap(store nats.KeyValue) Store {
	return &natsStore{store: store}
}

type natsStore struct {
	store nats.KeyValue
}

func (s *natsStore) Get(key string) (Entry, error) {
	entry, err := s.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return natsEntry{entry}, nil
}

func (s *natsStore) Put(key string, value []byte) (uint64, error) {
	return s.store.Put(key, value)
}

func (s *natsStore) Create(key string, value []byte) (uint64, error) {
	rev, err := s.store.Create(key, value)
	if err != nil && IsWrongLastSequence(err) {
		return 0, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return rev, err
}

func (s *natsStore) Update(key string, value []byte, last uint64) (uint64, error) {
	rev, err := s.store.Update(key, value, last)
	if err != nil && IsWrongLastSequence(err) {
		return 0, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return rev, err
}

func (s *natsStore) Delete(key string) error {
	return s.store.Delete(key)
}

func (s *natsStore) Keys() ([]string, error) {
	keys, err := s.store.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

func (s *natsStore) Watch(keys string) (Watch, error) {
	w, err := s.store.Watch(keys)
	if err != nil {
		return nil, err
	}
	return wrapWatch(w), nil
}

func (s *natsStore) WatchAll() (Watch, error) {
	w, err := s.store.WatchAll()
	if err != nil {
		return nil, err
	}
	return wrapWatch(w), nil
}

type natsEntry struct {
	entry nats.KeyValueEntry
}

func (e natsEntry) Key() string      { return e.entry.Key() }
func (e natsEntry) Value() []byte    { return e.entry.Value() }
func (e natsEntry) Revision() uint64 { return e.entry.Revision() }
func (e natsEntry) Operation() Operation {
	switch e.entry.Operation() {
	case nats.KeyValueDelete, nats.KeyValuePurge:
		return OpDelete
	default:
		return OpPut
	}
}

type natsWatch struct {
	kw  nats.KeyWatcher
	out chan Entry
}

func wrapWatch(kw nats.KeyWatcher) Watch {
	w := &natsWatch{kw: kw, out: make(chan Entry)}
	go w.pump()
	return w
}

// pump translates the nats.KeyValueEntry channel (which uses a nil entry to
// signal "initial snapshot replayed") into our Entry channel, preserving the
// nil sentinel as a nil Entry interface value.
func (w *natsWatch) pump() {
	defer close(w.out)
	for entry := range w.kw.Updates() {
		if entry == nil {
			w.out <- nil
			continue
		}
		w.out <- natsEntry{entry}
	}
}

func (w *natsWatch) Updates() <-chan Entry { return w.out }
func (w *natsWatch) Stop() error           { return w.kw.Stop() }
