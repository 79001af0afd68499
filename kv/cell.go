package kv

import "context"

// Cell is a single-key typed view over a Bucket.
type Cell[V any] struct {
	bucket *Bucket[V]
	key    string
}

// Get returns the decoded value, or ok == false if absent.
func (c *Cell[V]) Get() (V, bool, error) { return c.bucket.Get(c.key) }

// Put unconditionally sets the cell's value.
func (c *Cell[V]) Put(v V) (uint64, error) { return c.bucket.Put(c.key, v) }

// Delete tombstones the cell.
func (c *Cell[V]) Delete() error { return c.bucket.Delete(c.key) }

// Mutate is Bucket.Mutate pinned to this cell's key.
func (c *Cell[V]) Mutate(f func(prev V, ok bool, write Write[V]) error) error {
	return c.bucket.Mutate(c.key, f)
}

// MutateUsing is Bucket.MutateUsing pinned to this cell's key.
func (c *Cell[V]) MutateUsing(ctx context.Context, f func(prev V, ok bool, write Write[V]) error) error {
	return c.bucket.MutateUsing(ctx, c.key, f)
}

// Watch installs a Watcher pinned to this cell's key.
func (c *Cell[V]) Watch(ctx context.Context, component string, cb func(Update[V]), opts WatchOpts) (*Watcher[V], error) {
	opts.Filter = c.key
	return c.bucket.Watch(ctx, component, cb, opts)
}
