package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

type testMetrics struct {
	wrote        int
	read         int
	batchCommits int
	batchBytes   int
}

func (m *testMetrics) ObserveWrite(d time.Duration, bytes int) { m.wrote += bytes }
func (m *testMetrics) ObserveRead(d time.Duration, bytes int)  { m.read += bytes }
func (m *testMetrics) ObserveBatchCommit(d time.Duration, numOps int, bytes int) {
	m.batchCommits++
	m.batchBytes += bytes
}

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	dir := t.TempDir()
	metrics := &testMetrics{}
	db, err := Open(Options{
		DataDir:       dir,
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestCRUD(t *testing.T) {
	db, metrics := newTestDB(t)

	key := []byte("k1")
	val := []byte("v1")
	if err := db.Set(key, val); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(val) {
		t.Fatalf("got %q want %q", got, val)
	}

	if metrics.wrote == 0 {
		t.Fatalf("expected write metrics to record bytes")
	}
	if metrics.read == 0 {
		t.Fatalf("expected read metrics to record bytes")
	}

	b := db.NewBatch()
	if err := b.Delete(key, nil); err != nil {
		t.Fatalf("batch delete: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	b.Close()
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBatchCommitMetrics(t *testing.T) {
	db, metrics := newTestDB(t)

	b := db.NewBatch()
	if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := b.Set([]byte("b"), []byte("2"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b.Close()

	if metrics.batchCommits != 1 {
		t.Fatalf("want 1 batch commit, got %d", metrics.batchCommits)
	}
	if metrics.batchBytes <= 0 {
		t.Fatalf("expected positive batch bytes")
	}
}

func TestSnapshotConsistency(t *testing.T) {
	db, _ := newTestDB(t)

	key := []byte("k2")
	if err := db.Set(key, []byte("old")); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap := db.NewSnapshot()
	defer snap.Close()

	// mutate after snapshot
	if err := db.Set(key, []byte("new")); err != nil {
		t.Fatalf("set: %v", err)
	}

	// read via snapshot should see old
	valOld, err := snap.Get(key)
	if err != nil {
		t.Fatalf("snap get: %v", err)
	}
	if string(valOld) != "old" {
		t.Fatalf("snapshot saw %q want %q", valOld, "old")
	}
	if _, err := snap.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from snapshot, got %v", err)
	}

	// read via DB should see new
	valNew, err := db.Get(key)
	if err != nil {
		t.Fatalf("db get: %v", err)
	}
	if string(valNew) != "new" {
		t.Fatalf("db saw %q want %q", valNew, "new")
	}
}

func TestPrefixIterBounds(t *testing.T) {
	db, _ := newTestDB(t)
	for _, k := range []string{"rq/tidx/a/1", "rq/tidx/a/2", "rq/tidx/b/1", "rq/rec/x"} {
		if err := db.Set([]byte(k), []byte("v")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	it, err := db.PrefixIter([]byte("rq/tidx/a/"))
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	defer it.Close()
	var got []string
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != 2 || got[0] != "rq/tidx/a/1" || got[1] != "rq/tidx/a/2" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestPrefixEnd(t *testing.T) {
	if got := PrefixEnd([]byte("ab")); !bytes.Equal(got, []byte("ac")) {
		t.Fatalf("got %q", got)
	}
	if got := PrefixEnd([]byte{'a', 0xFF}); !bytes.Equal(got, []byte("b")) {
		t.Fatalf("got %q", got)
	}
	if got := PrefixEnd([]byte{0xFF, 0xFF}); got != nil {
		t.Fatalf("expected nil upper bound, got %v", got)
	}
}

func TestCommitBatchCancelledContext(t *testing.T) {
	db, metrics := newTestDB(t)
	b := db.NewBatch()
	defer b.Close()
	_ = b.Set([]byte("k"), []byte("v"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.CommitBatch(ctx, b); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if metrics.batchCommits != 0 {
		t.Fatalf("cancelled commit must not be observed")
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled batch must not be applied")
	}
}

func TestParseFsyncMode(t *testing.T) {
	cases := map[string]FsyncMode{"": FsyncModeAlways, "always": FsyncModeAlways, "interval": FsyncModeInterval, "never": FsyncModeNever}
	for in, want := range cases {
		got, err := ParseFsyncMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseFsyncMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFsyncMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompactPrefix(t *testing.T) {
	db, _ := newTestDB(t)
	for _, k := range []string{"rq/rec/a", "rq/rec/b", "hc/x"} {
		if err := db.Set([]byte(k), []byte("v")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := db.CompactPrefix([]byte("rq/")); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if got, err := db.Get([]byte("hc/x")); err != nil || string(got) != "v" {
		t.Fatalf("compaction lost an outside key: %q, %v", got, err)
	}
	if err := db.CompactPrefix([]byte{0xFF}); err == nil {
		t.Fatalf("expected error for unbounded prefix")
	}
}
