// Package queue is the durable store of mutating requests that could not be
// delivered while the device was offline.
//
// Two backends implement Store: PebbleStore, which shares the relay's Pebble
// database, and SQLStore, which keeps a standalone SQLite file.
//
// # Keyspace (PebbleStore)
//
//	rq/rec/{id}                             - encoded record
//	rq/tidx/{len}{tenant}/{ts_be8}{seq_be8} - pending records per tenant, replay order
//	rq/sidx/{0|1}/{id}                      - records by synced flag
//	rq/meta/seq                             - last enqueue sequence
//
// # Ordering
//
// GetPending returns a tenant's records ascending by creation time. Records
// created in the same millisecond keep their enqueue order through the
// monotonic sequence stored with each record.
//
// # Bounds
//
// Limits caps the pending records per tenant and, through Sweeper, the age
// of a record. A Put rejected by the cap fails with errs.ErrQueueFull, which
// is also an errs.ErrStorage so callers treat the write as not queued.
package queue
