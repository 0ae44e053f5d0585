package relay

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rzbill/tether/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber(t *testing.T) {
	up := newUpstream(t, nil)
	p := NewProber(up.url(t), 500*time.Millisecond)
	assert.True(t, p.Online(context.Background()))

	up.Close()
	assert.False(t, p.Online(context.Background()))
}

func TestProberDefaultPorts(t *testing.T) {
	u := newUpstream(t, nil).url(t)
	u.Host = "api.example.com"
	u.Scheme = "https"
	assert.Equal(t, "api.example.com:443", NewProber(u, 0).Addr)
	u.Scheme = "http"
	assert.Equal(t, "api.example.com:80", NewProber(u, 0).Addr)
}

func TestMonitorSignalsOnRecovery(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	for _, tenantID := range []string{"a", "b"} {
		require.NoError(t, store.Put(ctx, queue.QueuedRequest{
			ID: "1-" + tenantID, TenantID: tenantID, Endpoint: "/x", Method: http.MethodPost, Timestamp: 1,
		}))
	}
	sw := NewSwitch(false)
	mon := NewMonitor(sw, store, time.Hour, nil)
	var changes []bool
	mon.OnChange = func(online bool) { changes = append(changes, online) }

	assert.False(t, mon.Online(ctx))
	assert.Empty(t, mon.Signals())

	sw.Set(true)
	assert.True(t, mon.Online(ctx))
	assert.True(t, mon.State())
	var tags []string
	for len(mon.Signals()) > 0 {
		tags = append(tags, (<-mon.Signals()).Tag)
	}
	assert.ElementsMatch(t, []string{"sync-tenant-a", "sync-tenant-b"}, tags)

	// staying online does not re-signal
	assert.True(t, mon.Online(ctx))
	assert.Empty(t, mon.Signals())

	sw.Set(false)
	assert.False(t, mon.Online(ctx))
	assert.Equal(t, []bool{true, false}, changes)
}

func TestMonitorRun(t *testing.T) {
	store, _ := openStore(t)
	require.NoError(t, store.Put(context.Background(), queue.QueuedRequest{
		ID: "1-a", TenantID: "a", Endpoint: "/x", Method: http.MethodPost, Timestamp: 1,
	}))
	mon := NewMonitor(NewSwitch(true), store, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	select {
	case sig := <-mon.Signals():
		assert.Equal(t, "sync-tenant-a", sig.Tag)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a startup signal")
	}
	cancel()
	require.NoError(t, <-done)
}
