package kv

import (
	"context"
	"strings"
)

// Slice is a prefix-scoped typed view over a Bucket: full keys are
// synthesized as "prefix.subkey" and watch filters as "prefix.>".
type Slice[V any] struct {
	bucket *Bucket[V]
	prefix string
}

func (s *Slice[V]) key(sub string) string { return s.prefix + "." + sub }

// Get returns the decoded value for sub, or ok == false if absent.
func (s *Slice[V]) Get(sub string) (V, bool, error) { return s.bucket.Get(s.key(sub)) }

// Put unconditionally sets sub to v.
func (s *Slice[V]) Put(sub string, v V) (uint64, error) { return s.bucket.Put(s.key(sub), v) }

// Delete tombstones sub.
func (s *Slice[V]) Delete(sub string) error { return s.bucket.Delete(s.key(sub)) }

// Mutate is Bucket.Mutate scoped to sub.
func (s *Slice[V]) Mutate(sub string, f func(prev V, ok bool, write Write[V]) error) error {
	return s.bucket.Mutate(s.key(sub), f)
}

// MutateUsing is Bucket.MutateUsing scoped to sub.
func (s *Slice[V]) MutateUsing(ctx context.Context, sub string, f func(prev V, ok bool, write Write[V]) error) error {
	return s.bucket.MutateUsing(ctx, s.key(sub), f)
}

// Keys lists sub-keys with the slice's prefix stripped.
func (s *Slice[V]) Keys() ([]string, error) {
	keys, err := s.bucket.Keys(s.prefix + ".")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix+"."))
	}
	return out, nil
}

// Watch installs a Watcher scoped to this slice's prefix.
func (s *Slice[V]) Watch(ctx context.Context, component string, cb func(Update[V]), opts WatchOpts) (*Watcher[V], error) {
	opts.Filter = s.prefix + ".>"
	return s.bucket.Watch(ctx, component, cb, opts)
}
