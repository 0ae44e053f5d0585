package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/pkg/log"
)

// Publisher forwards sync-complete events beyond this process.
type Publisher interface {
	Publish(ctx context.Context, ev SyncComplete) error
}

// Broadcaster fans sync-complete events out to every subscribed application
// instance. Slow subscribers lose events instead of stalling replay.
type Broadcaster struct {
	buffer int
	logger log.Logger

	mu         sync.RWMutex
	subs       map[uint64]chan SyncComplete
	next       uint64
	publishers []Publisher
	closed     bool
}

// NewBroadcaster returns a hub whose subscriber channels hold buffer events.
func NewBroadcaster(buffer int, logger log.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Broadcaster{
		buffer: buffer,
		logger: logger.WithComponent("broadcaster"),
		subs:   make(map[uint64]chan SyncComplete),
	}
}

// AddPublisher registers an out-of-process sink.
func (b *Broadcaster) AddPublisher(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers = append(b.publishers, p)
}

// Subscribe returns an event channel and a cancel func that closes it.
func (b *Broadcaster) Subscribe() (<-chan SyncComplete, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan SyncComplete, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	idx := b.next
	b.next++
	b.subs[idx] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[idx]; ok {
				delete(b.subs, idx)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broadcast delivers ev locally and to every publisher.
func (b *Broadcaster) Broadcast(ctx context.Context, ev SyncComplete) {
	b.Deliver(ev)
	b.mu.RLock()
	pubs := append([]Publisher(nil), b.publishers...)
	b.mu.RUnlock()
	for _, p := range pubs {
		if err := p.Publish(ctx, ev); err != nil {
			b.logger.Warn("publish sync-complete", log.Tenant(ev.TenantID), log.Err(err))
		}
	}
}

// Deliver hands ev to local subscribers only.
func (b *Broadcaster) Deliver(ev SyncComplete) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("subscriber lagging; event dropped", log.Tenant(ev.TenantID))
		}
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for idx, ch := range b.subs {
		delete(b.subs, idx)
		close(ch)
	}
}

// DefaultRedisChannel is the pub/sub channel shared by cooperating relays.
const DefaultRedisChannel = "tether:sync"

// RedisPublisher mirrors sync-complete events over Redis pub/sub so other
// relay processes can notify their own subscribers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedisPublisher wraps client. origin identifies this process; events it
// published are skipped when they come back.
func NewRedisPublisher(client *redis.Client, channel, origin string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel, origin: origin}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev SyncComplete) error {
	if ev.Origin == "" {
		ev.Origin = p.origin
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "encode sync-complete")
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return errs.Wrap(err, "redis publish")
	}
	return nil
}

// Relay delivers events published by other processes into b until ctx is done.
func (p *RedisPublisher) Relay(ctx context.Context, b *Broadcaster) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return errs.Wrap(err, "redis subscribe")
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, keep := p.decode(msg.Payload)
			if keep {
				b.Deliver(ev)
			}
		}
	}
}

func (p *RedisPublisher) decode(payload string) (SyncComplete, bool) {
	var ev SyncComplete
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return SyncComplete{}, false
	}
	if ev.Type != EventSyncComplete || ev.TenantID == "" {
		return SyncComplete{}, false
	}
	return ev, ev.Origin == "" || ev.Origin != p.origin
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
