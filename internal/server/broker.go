package server

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier fans session documents out to subscribers. Topics are
// "<client>/<sessionID>".
type Notifier interface {
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe returns a channel of payloads for topic. The channel is
	// closed once unsubscribe has been called.
	Subscribe(topic string) (ch <-chan []byte, unsubscribe func())
}

const subscriberBuffer = 16

func sessionTopic(client, sessionID string) string {
	return client + "/" + sessionID
}

// Broker is an in-process Notifier.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan []byte]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(topic, ch) })
	}
}

func (b *Broker) unsubscribe(topic string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[topic], ch)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
	b.mu.Unlock()
}

// Publish never blocks: slow subscribers miss messages. Every payload is a
// full session document, so the next one catches them up.
func (b *Broker) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.RLock()
	for ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.RUnlock()
	return nil
}

// Subscribers reports how many channels listen on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// RedisNotifier shares session changes between server instances through
// Redis pub/sub.
type RedisNotifier struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, prefix: "snapbooth:session:"}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string, data []byte) error {
	return n.rdb.Publish(ctx, n.prefix+topic, data).Err()
}

func (n *RedisNotifier) Subscribe(topic string) (<-chan []byte, func()) {
	ps := n.rdb.Subscribe(context.Background(), n.prefix+topic)
	out := make(chan []byte, subscriberBuffer)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() { ps.Close() })
	}
}
