package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/yaroslav-korotaev/overnats/internal/nattest"
	"github.com/yaroslav-korotaev/overnats/kv"
	"github.com/yaroslav-korotaev/overnats/lifecycle"
	"github.com/yaroslav-korotaev/overnats/producer"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

type event struct {
	Seq int `json:"seq"`
}

type params struct {
	Topic string `json:"topic"`
}

type noopWorker struct{}

func (noopWorker) Destroy() error { return nil }

func startProducer(t *testing.T, srv *nattest.Server) *producer.Producer[params] {
	t.Helper()
	store, err := srv.JS.CreateKeyValue(&nats.KeyValueConfig{Bucket: "producer_events"})
	if err != nil {
		t.Fatalf("creating kv bucket: %v", err)
	}
	logger := zerolog.Nop()
	sink := trapdoor.New(logger)
	p, err := producer.New[params]("events", "peer1", srv.Conn, srv.JS, kv.Wrap(store), logger, sink, producer.Options[params]{
		Shards:            []string{"a", "b"},
		Replicas:          1,
		HeartbeatInterval: 50 * time.Millisecond,
		OnSpawn: func(p params, paramHash string, client *producer.Client) (lifecycle.Child, error) {
			return noopWorker{}, nil
		},
	})
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

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestConsumerReceivesPublishedEvents(t *testing.T) {
	srv := nattest.Start(t)
	startProducer(t, srv)

	var mu sync.Mutex
	var received []int
	logger := zerolog.Nop()
	sink := trapdoor.New(logger)

	c := New[params, event](srv.Conn, srv.JS, logger, sink, Options[params]{
		Producer:          "events",
		Name:              "consumer1",
		Params:            params{Topic: "orders"},
		HeartbeatInterval: 50 * time.Millisecond,
	}, func(ctx context.Context, e event) error {
		mu.Lock()
		received = append(received, e.Seq)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("consumer.Init: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })

	var stream string
	waitFor(t, 3*time.Second, func() bool {
		s, ok := c.Stream()
		stream = s
		return ok && s != ""
	})

	for i := 0; i < 3; i++ {
		data, err := json.Marshal(event{Seq: i})
		if err != nil {
			t.Fatalf("marshaling event %d: %v", i, err)
		}
		if _, err := srv.JS.Publish(stream, data); err != nil {
			t.Fatalf("publishing event %d: %v", i, err)
		}
	}

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 3
	})
}

func TestConsumerNaksFailedEventsForRedelivery(t *testing.T) {
	srv := nattest.Start(t)
	startProducer(t, srv)

	var mu sync.Mutex
	attempts := 0
	logger := zerolog.Nop()
	sink := trapdoor.New(logger)

	c := New[params, event](srv.Conn, srv.JS, logger, sink, Options[params]{
		Producer:          "events",
		Name:              "consumer2",
		Params:            params{Topic: "orders"},
		HeartbeatInterval: 50 * time.Millisecond,
	}, func(ctx context.Context, e event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errFailOnce
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("consumer.Init: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })

	var stream string
	waitFor(t, 3*time.Second, func() bool {
		s, ok := c.Stream()
		stream = s
		return ok && s != ""
	})

	data, _ := json.Marshal(event{Seq: 1})
	if _, err := srv.JS.Publish(stream, data); err != nil {
		t.Fatalf("publishing event: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	})
}

type failOnceError string

func (e failOnceError) Error() string { return string(e) }

const errFailOnce = failOnceError("handler: deliberate first-attempt failure")
