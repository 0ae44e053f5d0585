package relay

import "time"

// Signal asks the replayer to drain one tenant's queue. Tag has the form
// "sync-tenant-<tenantId>".
type Signal struct {
	Tag string
}

// EventSyncComplete is the Type of every SyncComplete message.
const EventSyncComplete = "sync-complete"

// SyncComplete announces the end of a replay pass for one tenant.
type SyncComplete struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenantId"`
	Drained   bool   `json:"drained"`
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	AtMs      int64  `json:"at"`
	// Origin names the relay process that ran the pass.
	Origin string `json:"origin,omitempty"`
}

// Result summarizes one replay pass.
type Result struct {
	TenantID  string `json:"tenantId"`
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	Drained   bool   `json:"drained"`
	// FailedID is the record the pass stopped on, if any.
	FailedID string `json:"failedId,omitempty"`
}

// Interceptor outcomes reported to Metrics.
const (
	OutcomePassed       = "passed"
	OutcomeQueued       = "queued"
	OutcomeServerError  = "server_error"
	OutcomeStorageError = "storage_error"
	OutcomeRejected     = "rejected"
	OutcomeCacheHit     = "cache_hit"
	OutcomeUnavailable  = "unavailable"
)

// Replay pass results reported to Metrics.
const (
	ReplayDrained = "drained"
	ReplayStopped = "stopped"
	ReplayError   = "error"
)

// Metrics receives relay observations. internal/metrics.Collector implements it.
type Metrics interface {
	RecordIntercept(method, outcome string)
	RecordReplay(tenant string, replayed int, result string, d time.Duration)
	RecordPending(tenant string, n int)
}

// NopMetrics discards observations.
type NopMetrics struct{}

func (NopMetrics) RecordIntercept(string, string)                  {}
func (NopMetrics) RecordReplay(string, int, string, time.Duration) {}
func (NopMetrics) RecordPending(string, int)                       {}
