// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, prefix iteration, and minimal metrics hooks.
//
// It is the on-device transactional log behind the durable queue and the
// read-through response cache: every multi-key update goes through a single
// batch so either all of it lands or none of it does.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	it, _ := db.PrefixIter([]byte("rq/tidx/"))
//	for ok := it.First(); ok; ok = it.Next() { /* ... */ }
//	it.Close()
package pebblestore
