// Package producer implements the sharded, auto-rebalancing event producer
// of spec §4.9: peer discovery via a heartbeat KV, consistent shard-to-peer
// assignment with replication, per-shard subscription demultiplexing, and
// subscriber-driven JetStream stream provisioning.
package producer

import "time"

// InstanceRecord is one peer's heartbeat entry under "instances.<peerId>".
type InstanceRecord struct {
	Seen time.Time `json:"seen"`
}

// DistributionRecord is the single cell describing the current
// peer-to-shards assignment.
type DistributionRecord struct {
	Shards       []string            `json:"shards"`
	Replicas     int                 `json:"replicas"`
	Distribution map[string][]string `json:"distribution"`
	Revision     uint64              `json:"revision"`
	Author       string              `json:"author"`
}

// SubscriptionRecord is one "(shard, paramHash)" entry linking a consumer's
// subscribe parameters to the stream serving them.
type SubscriptionRecord[P any] struct {
	Seen   time.Time `json:"seen"`
	Stream string    `json:"stream"`
	Params P         `json:"params"`
}

// SubscribeParams is the subscribe RPC's request envelope: {params: P}.
type SubscribeParams[P any] struct {
	Params P `json:"params"`
}

// SubscribeResult is the subscribe RPC's response: {stream}.
type SubscribeResult struct {
	Stream string `json:"stream"`
}
