// Package lifecycle implements the Spawner and Summoner lifecycle managers
// (spec §4.5, §4.6): keyed and single-slot registries of owned children,
// whose change detection is entirely by canonical-JSON hash equality.
package lifecycle

import (
	"errors"
	"sync"

	"github.com/yaroslav-korotaev/overnats/canon"
)

// Child is the destroy contract every spawned/summoned object must satisfy.
type Child interface {
	Destroy() error
}

// Spawner is a keyed registry of owned children. Every mutating method
// serializes on an internal mutex (spec §5, "per-component serialization").
type Spawner[K comparable, V any, C Child] struct {
	mu      sync.Mutex
	factory func(k K, v V) (C, error)
	items   map[K]spawnerItem[C]
}

type spawnerItem[C Child] struct {
	hash  string
	child C
}

// NewSpawner constructs a Spawner whose children are produced by factory.
func NewSpawner[K comparable, V any, C Child](factory func(k K, v V) (C, error)) *Spawner[K, V, C] {
	return &Spawner[K, V, C]{
		factory: factory,
		items:   make(map[K]spawnerItem[C]),
	}
}

// SpawnItem fails if k already has a live child; otherwise it invokes the
// factory and stores the result keyed by k, tagged with hash(v).
func (s *Spawner[K, V, C]) SpawnItem(k K, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLocked(k, v)
}

func (s *Spawner[K, V, C]) spawnLocked(k K, v V) error {
	if _, ok := s.items[k]; ok {
		return errAlreadySpawned
	}
	child, err := s.factory(k, v)
	if err != nil {
		return err
	}
	s.items[k] = spawnerItem[C]{hash: canon.MustHashOf(v), child: child}
	return nil
}

// DestroyItem destroys and removes k's child. Idempotent for unknown keys.
func (s *Spawner[K, V, C]) DestroyItem(k K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyLocked(k)
}

func (s *Spawner[K, V, C]) destroyLocked(k K) error {
	item, ok := s.items[k]
	if !ok {
		return nil
	}
	delete(s.items, k)
	return item.child.Destroy()
}

// MaybeRespawnItem spawns k if absent; no-ops if present with an
// unchanged hash(v); otherwise destroys the old child and spawns a new one.
func (s *Spawner[K, V, C]) MaybeRespawnItem(k K, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[k]
	if !ok {
		return s.spawnLocked(k, v)
	}
	if item.hash == canon.MustHashOf(v) {
		return nil
	}
	if err := s.destroyLocked(k); err != nil {
		return err
	}
	return s.spawnLocked(k, v)
}

// ResetItems converges the live set of children to exactly the keys of m:
// every key in m is respawned (spawn or no-op, per MaybeRespawnItem), and
// every currently-live key absent from m is destroyed.
func (s *Spawner[K, V, C]) ResetItems(m map[K]V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.items {
		if _, ok := m[k]; !ok {
			if err := s.destroyLocked(k); err != nil {
				return err
			}
		}
	}
	for k, v := range m {
		item, ok := s.items[k]
		if !ok {
			if err := s.spawnLocked(k, v); err != nil {
				return err
			}
			continue
		}
		if item.hash == canon.MustHashOf(v) {
			continue
		}
		if err := s.destroyLocked(k); err != nil {
			return err
		}
		if err := s.spawnLocked(k, v); err != nil {
			return err
		}
	}
	return nil
}

// ForEach iterates all live children under the lock.
func (s *Spawner[K, V, C]) ForEach(cb func(k K, child C)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, item := range s.items {
		cb(k, item.child)
	}
}

// Keys returns the currently-live keys.
func (s *Spawner[K, V, C]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]K, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys
}

// Destroy tears down every live child. A failing child Destroy does not
// stop the others; all failures are joined into the returned error.
func (s *Spawner[K, V, C]) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failures []error
	for k := range s.items {
		if err := s.destroyLocked(k); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

type spawnerError string

func (e spawnerError) Error() string { return string(e) }

const errAlreadySpawned = spawnerError("lifecycle: item already spawned")
