package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/tether/internal/errs"
	pebblestore "github.com/rzbill/tether/internal/storage/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T, limits Limits) Store
}

func openPebbleBackend(t *testing.T, limits Limits) Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := OpenPebbleStore(db, limits)
	require.NoError(t, err)
	return s
}

func openSQLBackend(t *testing.T, limits Limits) Store {
	t.Helper()
	s, err := OpenSQLStore(t.TempDir(), limits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var backends = []backend{
	{name: "pebble", open: openPebbleBackend},
	{name: "sqlite", open: openSQLBackend},
}

func forEachBackend(t *testing.T, limits Limits, fn func(t *testing.T, s Store)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t, limits))
		})
	}
}

func req(id, tenant string, ts int64) QueuedRequest {
	return QueuedRequest{
		ID:        id,
		TenantID:  tenant,
		Endpoint:  "https://api.example.com/appointments",
		Method:    "POST",
		Payload:   json.RawMessage(`{"tenant_id":"` + tenant + `","slot":"10:00"}`),
		Headers:   map[string]string{"Content-Type": "application/json", "X-Tenant-ID": tenant},
		Timestamp: ts,
	}
}

func ids(recs []QueuedRequest) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestPutGetPendingRoundTrip(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		in := req("1000-a", "t1", 1000)
		require.NoError(t, s.Put(ctx, in))

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, in.ID, got[0].ID)
		assert.Equal(t, in.Endpoint, got[0].Endpoint)
		assert.Equal(t, in.Method, got[0].Method)
		assert.JSONEq(t, string(in.Payload), string(got[0].Payload))
		assert.Equal(t, in.Headers, got[0].Headers)
		assert.False(t, got[0].Synced)
		assert.Equal(t, in.Timestamp, got[0].Timestamp)
	})
}

func TestGetPendingOrdersByTimestampThenEnqueue(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		// same millisecond for b and c; c is enqueued first
		require.NoError(t, s.Put(ctx, req("3000-z", "t1", 3000)))
		require.NoError(t, s.Put(ctx, req("2000-c", "t1", 2000)))
		require.NoError(t, s.Put(ctx, req("2000-b", "t1", 2000)))
		require.NoError(t, s.Put(ctx, req("1000-y", "t1", 1000)))

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"1000-y", "2000-c", "2000-b", "3000-z"}, ids(got))
	})
}

func TestTenantIsolation(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, req("1-a", "salon-a", 1)))
		require.NoError(t, s.Put(ctx, req("2-b", "salon-b", 2)))
		require.NoError(t, s.Put(ctx, req("3-a", "salon-a", 3)))
		// prefix-sharing tenant ids must not leak into each other
		require.NoError(t, s.Put(ctx, req("4-ab", "salon-a/b", 4)))

		a, err := s.GetPending(ctx, "salon-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"1-a", "3-a"}, ids(a))
		for _, r := range a {
			assert.Equal(t, "salon-a", r.TenantID)
		}

		b, err := s.GetPending(ctx, "salon-b")
		require.NoError(t, err)
		assert.Equal(t, []string{"2-b"}, ids(b))

		none, err := s.GetPending(ctx, "salon-c")
		require.NoError(t, err)
		assert.Empty(t, none)

		tenants, err := s.Tenants(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"salon-a", "salon-b", "salon-a/b"}, tenants)
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, req("1-a", "t1", 1)))
		require.NoError(t, s.Delete(ctx, "1-a"))
		require.NoError(t, s.Delete(ctx, "1-a"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, got)

		tenants, err := s.Tenants(ctx)
		require.NoError(t, err)
		assert.Empty(t, tenants)
	})
}

func TestPutOverwritesByID(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, req("1-a", "t1", 1)))
		require.NoError(t, s.Put(ctx, req("2-a", "t1", 2)))

		updated := req("1-a", "t1", 1)
		updated.Method = "PUT"
		require.NoError(t, s.Put(ctx, updated))

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, []string{"1-a", "2-a"}, ids(got))
		assert.Equal(t, "PUT", got[0].Method)

		n, err := s.Count(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestSyncedRecordsAreNotPending(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		r := req("1-a", "t1", 1)
		r.Synced = true
		require.NoError(t, s.Put(ctx, r))

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPutRejectsInvalidRecords(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		bad := req("1-a", "t1", 1)
		bad.Method = "GET"
		err := s.Put(ctx, bad)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrInvalid))

		bad = req("1-a", "t1", 1)
		bad.Payload = json.RawMessage("not json")
		require.Error(t, s.Put(ctx, bad))

		bad = req("", "t1", 1)
		require.Error(t, s.Put(ctx, bad))
	})
}

func TestPutRejectsNegativeTimestamp(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, req("1-a", "t1", 1)))

		err := s.Put(ctx, req("0-a", "t1", -1))
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrInvalid))

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"1-a"}, ids(got))
	})
}

func TestTotalCountsEveryTenant(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		n, err := s.Total(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, s.Put(ctx, req("1-a", "t1", 1)))
		require.NoError(t, s.Put(ctx, req("2-a", "t1", 2)))
		require.NoError(t, s.Put(ctx, req("1-b", "t2", 1)))
		synced := req("3-a", "t1", 3)
		synced.Synced = true
		require.NoError(t, s.Put(ctx, synced))

		n, err = s.Total(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		// a record flipped to synced leaves the pending total
		flipped := req("2-a", "t1", 2)
		flipped.Synced = true
		require.NoError(t, s.Put(ctx, flipped))
		require.NoError(t, s.Delete(ctx, "1-b"))
		n, err = s.Total(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestMaxPerTenant(t *testing.T) {
	forEachBackend(t, Limits{MaxPerTenant: 2}, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, req("1-a", "t1", 1)))
		require.NoError(t, s.Put(ctx, req("2-a", "t1", 2)))

		err := s.Put(ctx, req("3-a", "t1", 3))
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrQueueFull))
		assert.True(t, errs.Is(err, errs.ErrStorage))

		// overwriting an existing pending record does not count twice
		require.NoError(t, s.Put(ctx, req("2-a", "t1", 2)))
		// other tenants have their own budget
		require.NoError(t, s.Put(ctx, req("1-b", "t2", 1)))

		require.NoError(t, s.Delete(ctx, "1-a"))
		require.NoError(t, s.Put(ctx, req("3-a", "t1", 3)))
	})
}

func TestPrune(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, req("100-a", "t1", 100)))
		require.NoError(t, s.Put(ctx, req("200-a", "t1", 200)))
		require.NoError(t, s.Put(ctx, req("300-b", "t2", 300)))

		n, err := s.Prune(ctx, 250)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := s.GetPending(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = s.GetPending(ctx, "t2")
		require.NoError(t, err)
		assert.Equal(t, []string{"300-b"}, ids(got))

		total, err := s.Total(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		n, err = s.Prune(ctx, 250)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestConcurrentPutsKeepEveryRecord(t *testing.T) {
	forEachBackend(t, DefaultLimits(), func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					assert.NoError(t, s.Put(ctx, req(fmt.Sprintf("%d-%d", w, i), "t1", int64(i))))
				}
			}(w)
		}
		wg.Wait()

		n, err := s.Count(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 100, n)
	})
}

func TestPebbleStoreSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	s, err := OpenPebbleStore(db, DefaultLimits())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, req("1000-first", "t1", 1000)))
	require.NoError(t, db.Close())

	db, err = pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	defer db.Close()
	s, err = OpenPebbleStore(db, DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, req("1000-second", "t1", 1000)))

	got, err := s.GetPending(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1000-first", "1000-second"}, ids(got))
}

func TestSQLStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := OpenSQLStore(dir, DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, req("1-a", "t1", 1)))
	require.NoError(t, s.Close())

	s, err = OpenSQLStore(dir, DefaultLimits())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetPending(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1-a"}, ids(got))
}

func TestSweeperPrunesExpired(t *testing.T) {
	s := openPebbleBackend(t, DefaultLimits())
	ctx := context.Background()
	now := time.UnixMilli(10_000)
	require.NoError(t, s.Put(ctx, req("old", "t1", now.Add(-2*time.Hour).UnixMilli())))
	require.NoError(t, s.Put(ctx, req("new", "t1", now.Add(-time.Minute).UnixMilli())))

	sw := NewSweeper(s, time.Hour, time.Millisecond, nil)
	sw.now = func() time.Time { return now }
	var pruned int
	sw.OnPrune = func(n int) { pruned += n }

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, pruned)

	got, err := s.GetPending(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(got))
}

func TestSweeperDisabledWithoutTTL(t *testing.T) {
	s := openPebbleBackend(t, DefaultLimits())
	require.NoError(t, s.Put(context.Background(), req("1-a", "t1", 1)))

	sw := NewSweeper(s, 0, time.Millisecond, nil)
	sw.Start()
	defer sw.Stop()
	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperBackground(t *testing.T) {
	s := openPebbleBackend(t, DefaultLimits())
	require.NoError(t, s.Put(context.Background(), req("1-a", "t1", 1)))

	sw := NewSweeper(s, time.Millisecond, 10*time.Millisecond, nil)
	sw.Start()
	sw.Start()
	defer sw.Stop()

	require.Eventually(t, func() bool {
		n, err := s.Count(context.Background(), "t1")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}
