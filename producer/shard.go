package producer

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/yaroslav-korotaev/overnats/kv"
	"github.com/yaroslav-korotaev/overnats/lifecycle"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// OnSpawn produces the user's worker for one subscription identity. Since
// the subscriptions slice is shared by every replica serving a shard, every
// replica independently invokes OnSpawn for the same paramHash — the work
// it produces must be safe to run concurrently on up to `replicas` peers.
type OnSpawn[P any] func(params P, paramHash string, client *Client) (lifecycle.Child, error)

// shardHandler is the inner Spawner constructed per assigned shard: it
// tracks the shard's subscriptions slice and spawns/destroys one user
// worker per distinct paramHash observed there.
type shardHandler[P any] struct {
	shard   string
	js      nats.JetStreamContext
	slice   *kv.Slice[SubscriptionRecord[P]]
	inner   *lifecycle.Spawner[string, P, lifecycle.Child]
	watcher *kv.Watcher[SubscriptionRecord[P]]
}

func newShardHandler[P any](
	ctx context.Context,
	producerName, shard string,
	js nats.JetStreamContext,
	slice *kv.Slice[SubscriptionRecord[P]],
	sink *trapdoor.Sink,
	onSpawn OnSpawn[P],
) (*shardHandler[P], error) {
	h := &shardHandler[P]{shard: shard, js: js, slice: slice}

	h.inner = lifecycle.NewSpawner[string, P, lifecycle.Child](func(paramHash string, params P) (lifecycle.Child, error) {
		client := &Client{js: js, subject: producerName + "." + paramHash}
		return onSpawn(params, paramHash, client)
	})

	component := fmt.Sprintf("producer.%s.shard.%s", producerName, shard)
	prefix := "subscriptions." + shard + "."
	watcher, err := slice.Watch(ctx, component, func(u kv.Update[SubscriptionRecord[P]]) {
		paramHash := strings.TrimPrefix(u.Key, prefix)
		var werr error
		switch u.Operation {
		case kv.OpPut:
			werr = h.inner.MaybeRespawnItem(paramHash, u.Value.Params)
		case kv.OpDelete:
			werr = h.inner.DestroyItem(paramHash)
		}
		if werr != nil {
			sink.Report(component, werr)
		}
	}, kv.WatchOpts{Detach: true})
	if err != nil {
		return nil, err
	}
	h.watcher = watcher

	if err := watcher.Init(ctx); err != nil {
		_ = watcher.Destroy()
		return nil, err
	}

	return h, nil
}

// Destroy tears down the subscriptions watcher, then every live worker it
// spawned.
func (h *shardHandler[P]) Destroy() error {
	if err := h.watcher.Destroy(); err != nil {
		return err
	}
	return h.inner.Destroy()
}
