package producer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yaroslav-korotaev/overnats/canon"
	"github.com/yaroslav-korotaev/overnats/errs"
	"github.com/yaroslav-korotaev/overnats/ids"
	"github.com/yaroslav-korotaev/overnats/kv"
	"github.com/yaroslav-korotaev/overnats/lifecycle"
	"github.com/yaroslav-korotaev/overnats/rpc"
	"github.com/yaroslav-korotaev/overnats/timers"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// DefaultHeartbeatInterval is the production default recommended by
// SPEC_FULL.md's resolution of the source's 3s/30s split.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultReplicas is the default replica count per shard.
const DefaultReplicas = 2

// Stream limits from spec §6.
const (
	streamMaxMsgs    = 100_000
	streamMaxAge     = 2 * time.Hour
	streamMaxBytes   = 100 * 1024 * 1024
	streamMaxMsgSize = 100 * 1024
)

// Options configures a Producer.
type Options[P any] struct {
	// Shards defaults to ids.Sequence(12) (a,b,c,…,l).
	Shards []string
	// Replicas defaults to DefaultReplicas.
	Replicas int
	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// OnSpawn is required: it produces the worker for each subscription
	// identity a shard handler observes.
	OnSpawn OnSpawn[P]
}

// Producer is a named, sharded event source: it accepts subscribe requests
// and emits events on per-subscription JetStream streams, rebalancing
// shard ownership across peers as they join and leave.
type Producer[P any] struct {
	name   string
	peerID string
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger
	sink   *trapdoor.Sink

	shards   []string
	replicas int
	hbEvery  time.Duration
	onSpawn  OnSpawn[P]

	distBucket *kv.Bucket[DistributionRecord]
	distCell   *kv.Cell[DistributionRecord]
	instBucket *kv.Bucket[InstanceRecord]
	instSlice  *kv.Slice[InstanceRecord]
	subBucket  *kv.Bucket[SubscriptionRecord[P]]

	mu          sync.Mutex
	crowd       map[string]InstanceRecord
	crowdOrder  []string
	disbalanced bool

	spawner     *lifecycle.Spawner[string, struct{}, *shardHandler[P]]
	instWatcher *kv.Watcher[InstanceRecord]
	distWatcher *kv.Watcher[DistributionRecord]
	service     *rpc.Service
	heartbeat   *timers.Timer

	ensureStreamGroup singleflight.Group
}

// New constructs a Producer named name, identified on the bus as peerID.
// store must be kv.Wrap of the bucket "producer.<name>" (callers are
// expected to have opened/created it).
func New[P any](
	name, peerID string,
	conn *nats.Conn,
	js nats.JetStreamContext,
	store kv.Store,
	logger zerolog.Logger,
	sink *trapdoor.Sink,
	opts Options[P],
) (*Producer[P], error) {
	if opts.OnSpawn == nil {
		return nil, fmt.Errorf("producer: OnSpawn is required")
	}
	shards := opts.Shards
	if len(shards) == 0 {
		shards = ids.Sequence(12)
	}
	replicas := opts.Replicas
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	hbEvery := opts.HeartbeatInterval
	if hbEvery <= 0 {
		hbEvery = DefaultHeartbeatInterval
	}

	distBucket := kv.NewBucket[DistributionRecord](store, logger, sink)
	instBucket := kv.NewBucket[InstanceRecord](store, logger, sink)
	subBucket := kv.NewBucket[SubscriptionRecord[P]](store, logger, sink)

	p := &Producer[P]{
		name:       name,
		peerID:     peerID,
		conn:       conn,
		js:         js,
		logger:     logger,
		sink:       sink,
		shards:     shards,
		replicas:   replicas,
		hbEvery:    hbEvery,
		onSpawn:    opts.OnSpawn,
		distBucket: distBucket,
		distCell:   distBucket.Cell("distribution"),
		instBucket: instBucket,
		instSlice:  instBucket.Slice("instances"),
		subBucket:  subBucket,
		crowd:      make(map[string]InstanceRecord),
	}

	p.spawner = lifecycle.NewSpawner[string, struct{}, *shardHandler[P]](func(shard string, _ struct{}) (*shardHandler[P], error) {
		slice := subBucket.Slice("subscriptions." + shard)
		return newShardHandler[P](context.Background(), name, shard, js, slice, sink, opts.OnSpawn)
	})

	return p, nil
}

// Init writes this peer's own heartbeat, registers the subscribe intake
// service, installs the instances and distribution watchers, and starts
// the heartbeat timer. Spec §4.9.1: the peer's own record is durable
// before either watcher's effects can take hold.
func (p *Producer[P]) Init(ctx context.Context) error {
	if _, err := p.instSlice.Put(p.peerID, InstanceRecord{Seen: time.Now()}); err != nil {
		return fmt.Errorf("producer %s: writing own heartbeat: %w", p.name, err)
	}

	p.service = rpc.NewService(p.conn, "producer."+p.name, p.sink)
	if err := rpc.Register[SubscribeParams[P], SubscribeResult](p.service, "subscribe", p.handleSubscribe); err != nil {
		return fmt.Errorf("producer %s: registering subscribe: %w", p.name, err)
	}

	instWatcher, err := p.instSlice.Watch(ctx, "producer."+p.name+".instances", p.handleInstanceUpdate, kv.WatchOpts{Detach: true})
	if err != nil {
		return fmt.Errorf("producer %s: watching instances: %w", p.name, err)
	}
	p.instWatcher = instWatcher
	if err := instWatcher.Init(ctx); err != nil {
		return fmt.Errorf("producer %s: instances watcher init: %w", p.name, err)
	}

	distWatcher, err := p.distCell.Watch(ctx, "producer."+p.name+".distribution", p.handleDistributionUpdate, kv.WatchOpts{Detach: true})
	if err != nil {
		return fmt.Errorf("producer %s: watching distribution: %w", p.name, err)
	}
	p.distWatcher = distWatcher
	if err := distWatcher.Init(ctx); err != nil {
		return fmt.Errorf("producer %s: distribution watcher init: %w", p.name, err)
	}

	p.heartbeat = timers.Start("producer."+p.name+".heartbeat", p.sink, p.hbEvery, func() {
		if _, err := p.instSlice.Put(p.peerID, InstanceRecord{Seen: time.Now()}); err != nil {
			p.sink.Report("producer."+p.name+".heartbeat", err)
		}
	})

	return nil
}

// Destroy tears down the producer in reverse construction order: heartbeat
// timer, shard spawner, watchers, service, and finally its own heartbeat
// entry.
func (p *Producer[P]) Destroy() error {
	if p.heartbeat != nil {
		_ = p.heartbeat.Destroy()
	}
	if err := p.spawner.Destroy(); err != nil {
		return err
	}
	if p.distWatcher != nil {
		if err := p.distWatcher.Destroy(); err != nil {
			return err
		}
	}
	if p.instWatcher != nil {
		if err := p.instWatcher.Destroy(); err != nil {
			return err
		}
	}
	if p.service != nil {
		if err := p.service.Destroy(); err != nil {
			return err
		}
	}
	return p.instSlice.Delete(p.peerID)
}

const instancesPrefix = "instances."

func (p *Producer[P]) handleInstanceUpdate(u kv.Update[InstanceRecord]) {
	peerID := strings.TrimPrefix(u.Key, instancesPrefix)

	p.mu.Lock()
	switch u.Operation {
	case kv.OpPut:
		if _, existed := p.crowd[peerID]; !existed {
			p.crowdOrder = append(p.crowdOrder, peerID)
			p.disbalanced = true
		}
		p.crowd[peerID] = u.Value
	case kv.OpDelete:
		if _, existed := p.crowd[peerID]; existed {
			delete(p.crowd, peerID)
			p.removeFromOrderLocked(peerID)
			p.disbalanced = true
		}
	}
	online := u.Online
	trigger := online && p.disbalanced
	if trigger {
		p.disbalanced = false
	}
	p.mu.Unlock()

	if trigger {
		if err := p.rebalance(context.Background(), u.Revision); err != nil {
			p.sink.Report("producer."+p.name+".rebalance", err)
		}
	}
}

func (p *Producer[P]) removeFromOrderLocked(peerID string) {
	out := p.crowdOrder[:0]
	for _, id := range p.crowdOrder {
		if id != peerID {
			out = append(out, id)
		}
	}
	p.crowdOrder = out
}

func (p *Producer[P]) peerOrderSnapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.crowdOrder...)
}

// rebalance performs the CAS described in spec §4.9.1: write a fresh
// distribution only if the stored record's revision is older than rev.
func (p *Producer[P]) rebalance(ctx context.Context, rev uint64) error {
	return p.distCell.MutateUsing(ctx, func(prev DistributionRecord, ok bool, write kv.Write[DistributionRecord]) error {
		if ok && prev.Revision >= rev {
			return nil
		}
		peers := p.peerOrderSnapshot()
		return write(DistributionRecord{
			Shards:       append([]string(nil), p.shards...),
			Replicas:     p.replicas,
			Distribution: Distribute(peers, p.shards, p.replicas),
			Revision:     rev,
			Author:       p.peerID,
		})
	})
}

func (p *Producer[P]) handleDistributionUpdate(u kv.Update[DistributionRecord]) {
	if !u.Online || u.Operation != kv.OpPut {
		return
	}
	own := u.Value.Distribution[p.peerID]
	want := make(map[string]struct{}, len(own))
	for _, shard := range own {
		want[shard] = struct{}{}
	}
	if err := p.spawner.ResetItems(want); err != nil {
		p.sink.Report("producer."+p.name+".distribution", err)
	}
}

// handleSubscribe implements spec §4.9.5.
func (p *Producer[P]) handleSubscribe(req SubscribeParams[P]) (SubscribeResult, error) {
	hash, err := canon.HashOf(req.Params)
	if err != nil {
		return SubscribeResult{}, errs.Wrap(err, nil)
	}
	shard, err := shardIndex(hash, p.shards)
	if err != nil {
		return SubscribeResult{}, errs.Wrap(err, nil)
	}

	subject := p.name + "." + hash
	if err := p.ensureStream(subject); err != nil {
		return SubscribeResult{}, errs.Wrap(err, map[string]any{"stream": subject})
	}

	slice := p.subBucket.Slice("subscriptions." + shard)
	if _, err := slice.Put(hash, SubscriptionRecord[P]{
		Seen:   time.Now(),
		Stream: subject,
		Params: req.Params,
	}); err != nil {
		return SubscribeResult{}, errs.Wrap(err, nil)
	}

	return SubscribeResult{Stream: subject}, nil
}

// shardIndex picks shards[int(hash[-8:],16) mod len(shards)] (spec §4.9.5).
func shardIndex(paramHash string, shards []string) (string, error) {
	if len(shards) == 0 {
		return "", fmt.Errorf("producer: no shards configured")
	}
	tail := paramHash
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	n, err := strconv.ParseUint(tail, 16, 64)
	if err != nil {
		return "", fmt.Errorf("producer: parsing param hash %q: %w", paramHash, err)
	}
	return shards[int(n%uint64(len(shards)))], nil
}

// PhysicalName replaces dots with underscores: NATS stream/consumer names
// cannot contain dots, even though the logical subject does (spec §6).
func PhysicalName(logical string) string {
	return strings.ReplaceAll(logical, ".", "_")
}

// ensureStream idempotently creates the per-subscription stream described
// in spec §3/§6, deduplicating concurrent callers for the same stream.
func (p *Producer[P]) ensureStream(subject string) error {
	name := PhysicalName(subject)
	_, err, _ := p.ensureStreamGroup.Do(name, func() (any, error) {
		if _, serr := p.js.StreamInfo(name); serr == nil {
			return nil, nil
		} else if serr != nats.ErrStreamNotFound {
			return nil, serr
		}
		_, serr := p.js.AddStream(&nats.StreamConfig{
			Name:       name,
			Subjects:   []string{subject},
			Retention:  nats.InterestPolicy,
			Storage:    nats.FileStorage,
			MaxMsgs:    streamMaxMsgs,
			MaxAge:     streamMaxAge,
			MaxBytes:   streamMaxBytes,
			MaxMsgSize: streamMaxMsgSize,
			Discard:    nats.DiscardOld,
		})
		return nil, serr
	})
	return err
}
