// Package kv is the typed KV façade — Bucket, Slice, Cell, and Watcher —
// described in spec §4.2 and §4.4. It talks to JetStream KV through the
// narrow Store/Entry/Watch interfaces in store.go, with Wrap as the single
// adapter onto a real nats.KeyValue; tests substitute in-memory fakes for
// Store without needing a live NATS server.
package kv

// Operation tags a watch update as a tagged variant instead of the
// dynamic-dispatch "is this a delete" check the source used.
type Operation int

const (
	// OpPut is a create or update.
	OpPut Operation = iota
	// OpDelete is a tombstone (delete or purge).
	OpDelete
)

// Update is one delivered KV change.
type Update[V any] struct {
	Operation Operation
	Revision  uint64
	Key       string
	Value     V
	// Online is true once the Watcher has finished replaying the initial
	// snapshot; PUTs from that replay itself are always delivered with
	// Online == false.
	Online bool
}

// Write issues the actual compare-and-swap write chosen by Mutate: Create
// when the key was absent, Update against the observed revision otherwise.
type Write[V any] func(next V) error

// WatchOpts configures a Bucket/Slice/Cell watch.
type WatchOpts struct {
	// Filter restricts the watch to a key or glob. Empty means all keys in
	// the owning view.
	Filter string
	// Detach transfers ownership of the returned Watcher to the caller.
	// Without it, the Bucket co-owns the Watcher and destroys it on its own
	// teardown.
	Detach bool
}
