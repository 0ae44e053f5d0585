package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	got []SyncComplete
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, ev SyncComplete) error {
	p.got = append(p.got, ev)
	return p.err
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	b := NewBroadcaster(2, nil)
	one, cancelOne := b.Subscribe()
	two, cancelTwo := b.Subscribe()
	defer cancelTwo()
	assert.Equal(t, 2, b.Subscribers())

	pub := &recordingPublisher{err: errors.New("down")}
	b.AddPublisher(pub)
	ev := SyncComplete{Type: EventSyncComplete, TenantID: "t1", Drained: true}
	b.Broadcast(context.Background(), ev)

	assert.Equal(t, ev, <-one)
	assert.Equal(t, ev, <-two)
	assert.Equal(t, []SyncComplete{ev}, pub.got)

	cancelOne()
	cancelOne()
	_, open := <-one
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcastDropsForLaggingSubscriber(t *testing.T) {
	b := NewBroadcaster(1, nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Broadcast(context.Background(), SyncComplete{Type: EventSyncComplete, TenantID: "t1", Replayed: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a full subscriber")
	}
	assert.Equal(t, 0, (<-ch).Replayed)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(1, nil)
	ch, _ := b.Subscribe()
	b.Close()
	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestRedisPublisherDecode(t *testing.T) {
	p := NewRedisPublisher(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", "relay-a")
	defer p.Close()
	assert.Equal(t, DefaultRedisChannel, p.channel)

	mine, _ := json.Marshal(SyncComplete{Type: EventSyncComplete, TenantID: "t1", Origin: "relay-a"})
	_, keep := p.decode(string(mine))
	assert.False(t, keep)

	theirs, _ := json.Marshal(SyncComplete{Type: EventSyncComplete, TenantID: "t1", Origin: "relay-b", Drained: true})
	ev, keep := p.decode(string(theirs))
	assert.True(t, keep)
	assert.True(t, ev.Drained)

	_, keep = p.decode(`{"type":"other","tenantId":"t1"}`)
	assert.False(t, keep)
	_, keep = p.decode(`not json`)
	assert.False(t, keep)
}

func TestRedisPublisherUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	p := NewRedisPublisher(client, "test:sync", "relay-a")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, p.Publish(ctx, SyncComplete{Type: EventSyncComplete, TenantID: "t1"}))

	// a failing publisher never stops local delivery
	b := NewBroadcaster(1, nil)
	b.AddPublisher(p)
	ch, stop := b.Subscribe()
	defer stop()
	b.Broadcast(ctx, SyncComplete{Type: EventSyncComplete, TenantID: "t1"})
	assert.Equal(t, "t1", (<-ch).TenantID)
}
