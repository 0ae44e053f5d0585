// Package relay holds the request interceptor and the replayer.
//
// The Interceptor attempts every request against the network first. A write
// that fails while the device is confirmed offline becomes a
// queue.QueuedRequest and the caller gets a synthetic 202. A write that fails
// while online is returned as an errs.ErrServerError and never queued. Reads
// fall back to the last cached response, else a synthetic 503.
//
// The Monitor turns offline to online transitions into per-tenant Signals.
// The Replayer consumes them and reissues each tenant's records oldest
// first, deleting a record only after a 2xx and stopping at the first
// failure. Every pass ends with a SyncComplete on the Broadcaster.
//
//	app ──▶ Interceptor ──▶ upstream
//	             │ offline
//	             ▼
//	        queue.Store ◀── Replayer ◀── Signals ◀── Monitor
//	                            │
//	                            ▼
//	                       Broadcaster ──▶ subscribers, Redis
package relay
