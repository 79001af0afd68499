// Package mutex implements the distributed lock described in spec §4.3: a
// TTL-scoped KV key, acquired with atomic create and released with a
// revision-guarded delete.
package mutex

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yaroslav-korotaev/overnats/errs"
	"github.com/yaroslav-korotaev/overnats/kv"
	"github.com/yaroslav-korotaev/overnats/retry"
)

// DefaultTimeout is the default lock TTL (spec §4.3: lockTimeout = 10s).
const DefaultTimeout = 10 * time.Second

// BucketName is the dedicated memory-storage KV bucket all Mutex instances
// share (spec §6, bucket "locks").
const BucketName = "locks"

// OpenLocksBucket opens (or creates) the shared "locks" bucket: a
// memory-storage KV whose per-key TTL equals timeout.
func OpenLocksBucket(js nats.JetStreamContext, timeout time.Duration) (nats.KeyValue, error) {
	store, err := js.KeyValue(BucketName)
	if err == nil {
		return store, nil
	}
	store, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  BucketName,
		TTL:     timeout,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("mutex: opening locks bucket: %w", err)
	}
	return store, nil
}

// Store is the narrow slice of nats.KeyValue that Mutex needs — defined
// locally so tests can substitute an in-memory fake without implementing
// nats.KeyValue's full surface.
type Store interface {
	Create(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
}

// Mutex is a distributed lock on a single key of a TTL KV bucket.
type Mutex struct {
	store   Store
	key     string
	timeout time.Duration
}

// New constructs a Mutex over key in store. timeout documents the bucket's
// TTL; it is not enforced here (the bucket configuration does that).
func New(store Store, key string, timeout time.Duration) *Mutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mutex{store: store, key: key, timeout: timeout}
}

// acquirePolicy retries the create at up to 2s intervals, per spec §4.3.
func acquirePolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxDelay = 2 * time.Second
	return p
}

// Lock acquires the lock, runs fn, and releases the lock regardless of
// whether fn succeeded. It fails with "cannot acquire lock" if the retry
// budget is exhausted while the key is held by another owner.
func (m *Mutex) Lock(ctx context.Context, fn func() error) error {
	revision, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer m.release(revision)

	return fn()
}

func (m *Mutex) acquire(ctx context.Context) (uint64, error) {
	var revision uint64
	err := retry.Do(ctx, acquirePolicy(), func(err error, attempt int) bool {
		return kv.IsWrongLastSequence(err)
	}, func() error {
		rev, cerr := m.store.Create(m.key, nil)
		if cerr != nil {
			return cerr
		}
		revision = rev
		return nil
	})
	if err != nil {
		return 0, errs.Internal("cannot acquire lock", err, map[string]any{"key": m.key})
	}
	return revision, nil
}

// release deletes the key conditioned on the revision this holder acquired.
// A "wrong last sequence" error means another holder already inherited the
// key after TTL expiry, which is not a failure worth reporting.
func (m *Mutex) release(revision uint64) {
	err := m.store.Delete(m.key, nats.LastRevision(revision))
	if err != nil && !kv.IsWrongLastSequence(err) {
		// Best effort: the TTL will reclaim the key regardless.
		_ = err
	}
}
