package consumer

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// idleHeartbeat is the push consumer's server-side idle heartbeat interval
// and the stall detector's polling period. The detector fires the kill path
// once two of these intervals pass with no delivered message, standing in
// for a "HeartbeatsMissed" status event (classic nats.go's
// JetStreamContext push API exposes no such event directly).
const idleHeartbeat = 5 * time.Second

// missedHeartbeatsThreshold mirrors spec §4.10's "count >= 2".
const missedHeartbeatsThreshold = 2

// jetstreamSub is the Summoner's child: one live JetStream push
// subscription against a specific stream, durable-named after the
// consumer itself.
type jetstreamSub struct {
	sub *nats.Subscription

	lastActivity atomic.Int64 // unix nanos
	stallTicker  *time.Ticker
	stallDone    chan struct{}

	sink      *trapdoor.Sink
	component string
}

func newJetstreamSub(
	js nats.JetStreamContext,
	consumerName, stream string,
	sink *trapdoor.Sink,
	onMessage func(ctx context.Context, data []byte) (ack bool, err error),
	onStall func(),
) (*jetstreamSub, error) {
	durable := strings.ReplaceAll(consumerName, ".", "_")
	component := "consumer." + consumerName

	js2 := &jetstreamSub{sink: sink, component: component}
	js2.lastActivity.Store(time.Now().UnixNano())

	sub, err := js.Subscribe(stream, func(msg *nats.Msg) {
		js2.lastActivity.Store(time.Now().UnixNano())

		meta, _ := msg.Metadata()
		redeliveries := 0
		if meta != nil {
			redeliveries = int(meta.NumDelivered) - 1
		}

		ack, herr := onMessage(context.Background(), msg.Data)
		if herr != nil {
			sink.Report(component, herr)
			_ = msg.NakWithDelay(NakDelay(redeliveries))
			return
		}
		if ack {
			_ = msg.Ack()
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverNew(),
		nats.IdleHeartbeat(idleHeartbeat),
	)
	if err != nil {
		return nil, err
	}
	js2.sub = sub

	js2.stallDone = make(chan struct{})
	js2.stallTicker = time.NewTicker(idleHeartbeat)
	go js2.watchStall(onStall)

	return js2, nil
}

// watchStall polls wall-clock time since the last delivered message; after
// missedHeartbeatsThreshold idle intervals elapse with no message, it
// reports the stall and invokes onStall, which kills the owning Summoner so
// the next heartbeat tick re-subscribes from scratch (spec §4.10). Server
// idle heartbeats never reach the message callback and do not reset the
// clock, so a live stream that carries no messages for that long is also
// treated as stalled.
func (j *jetstreamSub) watchStall(onStall func()) {
	for {
		select {
		case <-j.stallDone:
			return
		case <-j.stallTicker.C:
			last := time.Unix(0, j.lastActivity.Load())
			if time.Since(last) >= missedHeartbeatsThreshold*idleHeartbeat {
				j.sink.Report(j.component, errStalled)
				onStall()
				return
			}
		}
	}
}

type stallError string

func (e stallError) Error() string { return string(e) }

const errStalled = stallError("consumer: no activity for two idle-heartbeat intervals, treating as stalled")

// Destroy unsubscribes and stops the stall detector.
func (j *jetstreamSub) Destroy() error {
	j.stallTicker.Stop()
	close(j.stallDone)
	return j.sub.Unsubscribe()
}
