package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/yaroslav-korotaev/overnats/retry"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Bucket is a typed façade over a Store. Multiple Bucket[V] instances of
// different V may wrap the same physical KV bucket concurrently — each only
// tracks the Watchers it personally created.
type Bucket[V any] struct {
	store  Store
	logger zerolog.Logger
	sink   *trapdoor.Sink

	mu    sync.Mutex
	owned []*Watcher[V]
}

// NewBucket wraps an already-opened Store (typically kv.Wrap(natsKV)).
func NewBucket[V any](store Store, logger zerolog.Logger, sink *trapdoor.Sink) *Bucket[V] {
	return &Bucket[V]{store: store, logger: logger, sink: sink}
}

// Slice returns a prefix-scoped typed view: keys are synthesized as
// "prefix.subkey".
func (b *Bucket[V]) Slice(prefix string) *Slice[V] {
	return &Slice[V]{bucket: b, prefix: prefix}
}

// Cell returns a single-key typed view.
func (b *Bucket[V]) Cell(key string) *Cell[V] {
	return &Cell[V]{bucket: b, key: key}
}

// Get returns the decoded value, or ok == false if the key is absent or a
// tombstone.
func (b *Bucket[V]) Get(key string) (V, bool, error) {
	var zero V
	entry, err := b.store.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("kv: getting %s: %w", key, err)
	}
	if entry.Operation() != OpPut {
		return zero, false, nil
	}
	if len(entry.Value()) == 0 {
		return zero, true, nil
	}
	var v V
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return zero, false, fmt.Errorf("kv: decoding %s: %w", key, err)
	}
	return v, true, nil
}

// Put unconditionally sets key to v.
func (b *Bucket[V]) Put(key string, v V) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("kv: encoding %s: %w", key, err)
	}
	rev, err := b.store.Put(key, data)
	if err != nil {
		return 0, fmt.Errorf("kv: putting %s: %w", key, err)
	}
	return rev, nil
}

// Delete tombstones key.
func (b *Bucket[V]) Delete(key string) error {
	if err := b.store.Delete(key); err != nil {
		return fmt.Errorf("kv: deleting %s: %w", key, err)
	}
	return nil
}

// Mutate reads the current value (or absence) of key and calls
// f(prev, ok, write). Calling write issues an Update compared against the
// observed revision, or a Create if the key was absent. f may choose not to
// call write at all.
func (b *Bucket[V]) Mutate(key string, f func(prev V, ok bool, write Write[V]) error) error {
	var prev V
	var ok bool
	var revision uint64

	entry, err := b.store.Get(key)
	switch {
	case err != nil && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("kv: reading %s: %w", key, err)
	case err == nil && entry.Operation() == OpPut:
		ok = true
		revision = entry.Revision()
		if len(entry.Value()) > 0 {
			if uerr := json.Unmarshal(entry.Value(), &prev); uerr != nil {
				return fmt.Errorf("kv: decoding %s: %w", key, uerr)
			}
		}
	}

	write := func(next V) error {
		data, merr := json.Marshal(next)
		if merr != nil {
			return fmt.Errorf("kv: encoding %s: %w", key, merr)
		}
		if ok {
			if _, werr := b.store.Update(key, data, revision); werr != nil {
				return fmt.Errorf("kv: updating %s: %w", key, werr)
			}
			return nil
		}
		if _, werr := b.store.Create(key, data); werr != nil {
			return fmt.Errorf("kv: creating %s: %w", key, werr)
		}
		return nil
	}

	return f(prev, ok, write)
}

// MutateUsing is Mutate wrapped in the canonical compare-and-swap retry
// loop: on a conflict (ErrConflict), the whole read-modify-write cycle is
// retried with exponential backoff.
func (b *Bucket[V]) MutateUsing(ctx context.Context, key string, f func(prev V, ok bool, write Write[V]) error) error {
	return retry.Do(ctx, retry.DefaultPolicy(), func(err error, attempt int) bool {
		return errors.Is(err, ErrConflict)
	}, func() error {
		return b.Mutate(key, f)
	})
}

// Keys lists keys, optionally restricted to those with the given prefix.
func (b *Bucket[V]) Keys(prefix string) ([]string, error) {
	keys, err := b.store.Keys()
	if err != nil {
		return nil, fmt.Errorf("kv: listing keys: %w", err)
	}
	if prefix == "" {
		return keys, nil
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Watch installs a Watcher. Without Detach, the Bucket co-owns it and tears
// it down on its own Destroy.
func (b *Bucket[V]) Watch(ctx context.Context, component string, cb func(Update[V]), opts WatchOpts) (*Watcher[V], error) {
	var w Watch
	var err error
	if opts.Filter != "" {
		w, err = b.store.Watch(opts.Filter)
	} else {
		w, err = b.store.WatchAll()
	}
	if err != nil {
		return nil, fmt.Errorf("kv: watching %s: %w", component, err)
	}

	watcher := newWatcher[V](w, component, cb, b.sink)
	if !opts.Detach {
		b.mu.Lock()
		b.owned = append(b.owned, watcher)
		b.mu.Unlock()
	}
	return watcher, nil
}

// Destroy tears down every Watcher this Bucket co-owns (i.e. every watch
// installed without Detach).
func (b *Bucket[V]) Destroy() error {
	b.mu.Lock()
	owned := b.owned
	b.owned = nil
	b.mu.Unlock()

	var merr *multierror.Error
	for _, w := range owned {
		if err := w.Destroy(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
