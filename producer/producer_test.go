package producer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/yaroslav-korotaev/overnats/internal/nattest"
	"github.com/yaroslav-korotaev/overnats/kv"
	"github.com/yaroslav-korotaev/overnats/lifecycle"
	"github.com/yaroslav-korotaev/overnats/rpc"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

type testParams struct {
	Topic string `json:"topic"`
}

type recordingWorker struct {
	mu     *sync.Mutex
	events *[]string
	tag    string
}

func (w *recordingWorker) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.events = append(*w.events, "destroy:"+w.tag)
	return nil
}

func openBucket(t *testing.T, srv *nattest.Server, name string) kv.Store {
	t.Helper()
	store, err := srv.JS.CreateKeyValue(&nats.KeyValueConfig{Bucket: name})
	if err != nil {
		t.Fatalf("creating kv bucket %s: %v", name, err)
	}
	return kv.Wrap(store)
}

func newTestProducer(t *testing.T, srv *nattest.Server, name, peerID string, opts Options[testParams]) *Producer[testParams] {
	t.Helper()
	store := openBucket(t, srv, "producer_"+name)
	logger := zerolog.Nop()
	sink := trapdoor.New(logger)

	p, err := New[testParams](name, peerID, srv.Conn, srv.JS, store, logger, sink, opts)
	if err != nil {
		t.Fatalf("producer.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Init(ctx); err != nil {
		t.Fatalf("producer.Init: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })
	return p
}

func TestSubscribeDedupesIdenticalParams(t *testing.T) {
	srv := nattest.Start(t)

	var mu sync.Mutex
	var spawned []string
	p := newTestProducer(t, srv, "events", "peer1", Options[testParams]{
		Shards:            []string{"a", "b"},
		Replicas:          1,
		HeartbeatInterval: 50 * time.Millisecond,
		OnSpawn: func(params testParams, paramHash string, client *Client) (lifecycle.Child, error) {
			mu.Lock()
			spawned = append(spawned, paramHash)
			mu.Unlock()
			return &recordingWorker{mu: &mu, events: &spawned, tag: paramHash}, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res1, err := rpc.Call[SubscribeParams[testParams], SubscribeResult](ctx, srv.Conn, "producer.events.subscribe", SubscribeParams[testParams]{Params: testParams{Topic: "orders"}})
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	res2, err := rpc.Call[SubscribeParams[testParams], SubscribeResult](ctx, srv.Conn, "producer.events.subscribe", SubscribeParams[testParams]{Params: testParams{Topic: "orders"}})
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if res1.Stream != res2.Stream {
		t.Fatalf("expected identical params to map to the same stream, got %q and %q", res1.Stream, res2.Stream)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(spawned)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(spawned) != 1 {
		t.Fatalf("expected exactly one worker spawned for the deduped subscription, got %v", spawned)
	}
}

func TestRebalanceOnJoinAssignsSecondPeer(t *testing.T) {
	srv := nattest.Start(t)

	opts := func() Options[testParams] {
		return Options[testParams]{
			Shards:            []string{"a", "b", "c", "d"},
			Replicas:          1,
			HeartbeatInterval: 50 * time.Millisecond,
			OnSpawn: func(params testParams, paramHash string, client *Client) (lifecycle.Child, error) {
				return &recordingWorker{mu: &sync.Mutex{}, events: &[]string{}, tag: paramHash}, nil
			},
		}
	}

	p1 := newTestProducer(t, srv, "fanout", "peer1", opts())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok, _ := p1.distCell.Get(); ok && len(rec.Distribution["peer1"]) == 4 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	rec, ok, err := p1.distCell.Get()
	if err != nil || !ok {
		t.Fatalf("expected initial distribution, ok=%v err=%v", ok, err)
	}
	if len(rec.Distribution["peer1"]) != 4 {
		t.Fatalf("expected solo peer to own all 4 shards, got %v", rec.Distribution)
	}

	p2 := newTestProducer(t, srv, "fanout", "peer2", opts())

	deadline = time.Now().Add(3 * time.Second)
	var final DistributionRecord
	for time.Now().Before(deadline) {
		final, ok, err = p1.distCell.Get()
		if err == nil && ok && len(final.Distribution["peer1"]) == 2 && len(final.Distribution["peer2"]) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(final.Distribution["peer1"]) != 2 || len(final.Distribution["peer2"]) != 2 {
		t.Fatalf("expected shards split 2/2 after second peer joined, got %v", final.Distribution)
	}
	_ = p2
}
