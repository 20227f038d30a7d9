// Package broker carries agent events (team notices, recorded actions) to
// subscribers. An in-memory implementation serves single-process setups and
// tests; a Redpanda/Kafka implementation serves distributed consumers.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("broker is closed")

// Broker abstracts message publishing and consumption.
type Broker interface {
	// Publish sends a message to a topic. For Redpanda/Kafka the key selects
	// the partition, so messages with the same key stay ordered.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel of messages from a topic. The channel is
	// closed when ctx is done or the broker is closed. groupID coordinates
	// Kafka consumer groups; the in-memory broker ignores it.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	// Timestamp is in Unix milliseconds.
	Timestamp int64
}
