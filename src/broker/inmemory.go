package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is the channel capacity of each in-memory subscription.
const subscriberBuffer = 100

// InMemoryBroker fans messages out to every subscriber of a topic within the
// process. A subscriber whose buffer is full misses the message rather than
// blocking the publisher.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	offsets map[string]int64
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

type subscription struct {
	ch   chan Message
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subs:    make(map[string][]*subscription),
		offsets: make(map[string]int64),
		done:    make(chan struct{}),
	}
}

// Publish delivers the message to all current subscribers of topic.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Offset:    b.offsets[topic],
		Timestamp: time.Now().UnixMilli(),
	}
	b.offsets[topic]++

	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic until ctx is done.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &subscription{ch: make(chan Message, subscriberBuffer)}
	b.subs[topic] = append(b.subs[topic], sub)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(topic, sub)
		case <-b.done:
		}
	}()

	return sub.ch, nil
}

func (b *InMemoryBroker) unsubscribe(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	sub.close()
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (b *InMemoryBroker) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further calls are no-ops.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subs = make(map[string][]*subscription)
	return nil
}
