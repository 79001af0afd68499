package producer

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client is the thin publisher handed to a shard handler's onSpawn
// callback: one instance per subscription identity, bound to that
// subscription's stream subject.
type Client struct {
	js      nats.JetStreamContext
	subject string
}

// Publish encodes event as JSON and publishes it into this subscription's
// JetStream stream.
func (c *Client) Publish(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("producer: encoding event for %s: %w", c.subject, err)
	}
	if _, err := c.js.Publish(c.subject, data); err != nil {
		return fmt.Errorf("producer: publishing to %s: %w", c.subject, err)
	}
	return nil
}

// Subject returns the physical subject/stream name this client publishes to.
func (c *Client) Subject() string { return c.subject }
