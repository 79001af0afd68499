// Package consumer implements the durable-consumption Consumer of spec
// §4.10: a Summoner over one JetStream durable push consumer, redelivery
// back-off on callback failure, and heartbeat-driven re-subscription
// against its producer's subscribe RPC.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/yaroslav-korotaev/overnats/lifecycle"
	"github.com/yaroslav-korotaev/overnats/retry"
	"github.com/yaroslav-korotaev/overnats/rpc"
	"github.com/yaroslav-korotaev/overnats/timers"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// DefaultHeartbeatInterval matches the Producer's recommended default.
const DefaultHeartbeatInterval = 10 * time.Second

// NakBackoffCap is this implementation's choice of the two caps spec.md §10
// notes (60s vs 120s): 60 seconds, matching the source's non-telemetry
// variant.
const NakBackoffCap = 60 * time.Second

// nakBackoffBase is the 1000ms coefficient in
// delay = min(1000*2^redeliveryCount, 60000)ms.
const nakBackoffBase = time.Second

// subscribeRetryPolicy is the bounded retry guarding the subscribe RPC on
// every heartbeat tick: 2 retries, 1s base, factor 2.
func subscribeRetryPolicy() retry.Policy {
	return retry.Policy{
		Retries:  2,
		MinDelay: time.Second,
		MaxDelay: 2 * time.Second,
		Factor:   2,
		Jitter:   0,
	}
}

// subscribeResult mirrors producer.SubscribeResult without importing the
// producer package, keeping consumer free of a producer dependency.
type subscribeResult struct {
	Stream string `json:"stream"`
}

// subscribeParams mirrors producer.SubscribeParams[P].
type subscribeParams[P any] struct {
	Params P `json:"params"`
}

// Handler decodes and processes one delivered event. A non-nil error naks
// the message with the redelivery backoff instead of acking it.
type Handler[E any] func(ctx context.Context, event E) error

// Options configures a Consumer.
type Options[P any] struct {
	// Producer is the target producer's name (subjects are rooted at
	// "producer.<Producer>").
	Producer string
	// Name is this consumer's durable name; dots are sanitized to
	// underscores for the physical JetStream durable name.
	Name string
	// Params is sent verbatim as {params: Params} on every subscribe call.
	Params P
	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

// Consumer owns a Summoner whose single child is a live JetStream push
// subscription against the stream currently assigned by its producer.
type Consumer[P, E any] struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	sink   *trapdoor.Sink
	logger zerolog.Logger

	opts    Options[P]
	handler Handler[E]

	summoner  *lifecycle.Summoner[subscribeResult, *jetstreamSub]
	heartbeat *timers.Timer
}

// New constructs a Consumer. Call Init to perform the first subscribe and
// start the heartbeat.
func New[P, E any](
	conn *nats.Conn,
	js nats.JetStreamContext,
	logger zerolog.Logger,
	sink *trapdoor.Sink,
	opts Options[P],
	handler Handler[E],
) *Consumer[P, E] {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}

	c := &Consumer[P, E]{
		conn:    conn,
		js:      js,
		sink:    sink,
		logger:  logger,
		opts:    opts,
		handler: handler,
	}
	c.summoner = lifecycle.NewSummoner[subscribeResult, *jetstreamSub](
		func(res subscribeResult) (*jetstreamSub, error) {
			return newJetstreamSub(js, opts.Name, res.Stream, sink, c.onMessage, func() {
				go func() { _ = c.summoner.Kill() }()
			})
		},
		nil,
	)
	return c
}

// Init performs the first subscribe RPC and starts the heartbeat-driven
// re-subscribe loop.
func (c *Consumer[P, E]) Init(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("consumer %s: initial subscribe: %w", c.opts.Name, err)
	}

	component := "consumer." + c.opts.Name + ".heartbeat"
	c.heartbeat = timers.Start(component, c.sink, c.opts.HeartbeatInterval, func() {
		if err := c.refresh(context.Background()); err != nil {
			c.sink.Report(component, err)
		}
	})
	return nil
}

// refresh calls the producer's subscribe RPC (bounded retry) and hands the
// result to the Summoner: a no-op if the stream is unchanged, a
// destroy-then-recreate if it changed, and a Kill (forcing a clean retry
// next tick) if the RPC is exhausted.
func (c *Consumer[P, E]) refresh(ctx context.Context) error {
	subject := "producer." + c.opts.Producer + ".subscribe"

	var res subscribeResult
	err := retry.Do(ctx, subscribeRetryPolicy(), retry.Always, func() error {
		r, callErr := rpc.Call[subscribeParams[P], subscribeResult](ctx, c.conn, subject, subscribeParams[P]{Params: c.opts.Params})
		if callErr != nil {
			return callErr
		}
		res = r
		return nil
	})
	if err != nil {
		_ = c.summoner.Kill()
		return fmt.Errorf("subscribing via %s: %w", subject, err)
	}

	return c.summoner.Spawn(res)
}

// onMessage decodes the delivered payload and invokes the user handler; its
// bool return tells jetstreamSub's subscription callback whether to ack.
func (c *Consumer[P, E]) onMessage(ctx context.Context, data []byte) (bool, error) {
	var event E
	if len(data) > 0 {
		if decErr := json.Unmarshal(data, &event); decErr != nil {
			return false, fmt.Errorf("consumer %s: decoding event: %w", c.opts.Name, decErr)
		}
	}
	if hErr := c.handler(ctx, event); hErr != nil {
		return false, hErr
	}
	return true, nil
}

// NakDelay computes min(1000*2^redeliveryCount, 60000)ms (spec §4.10).
func NakDelay(redeliveryCount int) time.Duration {
	if redeliveryCount < 0 {
		redeliveryCount = 0
	}
	factor := math.Pow(2, float64(redeliveryCount))
	delay := time.Duration(float64(nakBackoffBase) * factor)
	if delay > NakBackoffCap {
		delay = NakBackoffCap
	}
	return delay
}

// Stream returns the stream name this consumer currently reads from, and
// whether a subscription is live at all.
func (c *Consumer[P, E]) Stream() (string, bool) {
	res, ok := c.summoner.Params()
	return res.Stream, ok
}

// Destroy tears down the heartbeat and the live JetStream subscription.
func (c *Consumer[P, E]) Destroy() error {
	if c.heartbeat != nil {
		_ = c.heartbeat.Destroy()
	}
	return c.summoner.Kill()
}
