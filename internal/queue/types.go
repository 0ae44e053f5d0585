package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rzbill/tether/internal/errs"
)

// DefaultTenant is used when a request carries no tenant identifier. Every
// unidentified request shares this one FIFO queue.
const DefaultTenant = "default"

// QueuedRequest is one deferred mutating call. Records are immutable after
// creation; the only change a record ever sees is its deletion after a
// successful replay.
type QueuedRequest struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Synced    bool              `json:"synced"`
	Timestamp int64             `json:"timestamp"`
}

// Store is the durable queue. Implementations must make Put and Delete atomic
// and must never return another tenant's records from GetPending.
type Store interface {
	// Put inserts or overwrites a record by ID.
	Put(ctx context.Context, rec QueuedRequest) error
	// GetPending returns the tenant's unsynced records ordered by creation.
	GetPending(ctx context.Context, tenantID string) ([]QueuedRequest, error)
	// Delete removes a record. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
	// Tenants lists tenants that currently have pending records.
	Tenants(ctx context.Context) ([]string, error)
	// Count returns the number of pending records for a tenant.
	Count(ctx context.Context, tenantID string) (int, error)
	// Total returns the number of pending records across all tenants.
	Total(ctx context.Context) (int, error)
	// Prune deletes records created before cutoffMs and returns how many went.
	Prune(ctx context.Context, cutoffMs int64) (int, error)
	Close() error
}

// Limits bounds the backlog. Zero values disable a bound.
type Limits struct {
	// MaxPerTenant rejects Put once a tenant has this many pending records.
	MaxPerTenant int
	// TTL is the maximum age of a pending record before Prune drops it.
	TTL time.Duration
}

// DefaultLimits returns the built-in backlog bounds.
func DefaultLimits() Limits {
	return Limits{MaxPerTenant: 10000}
}

// IsMutating reports whether method is one the relay queues when offline.
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

// Validate checks the fields every backend relies on.
func (r QueuedRequest) Validate() error {
	if r.ID == "" {
		return errs.Invalidf("queued request: empty id")
	}
	if r.TenantID == "" {
		return errs.Invalidf("queued request %s: empty tenant", r.ID)
	}
	if r.Endpoint == "" {
		return errs.Invalidf("queued request %s: empty endpoint", r.ID)
	}
	if !IsMutating(r.Method) {
		return errs.Invalidf("queued request %s: method %q is not queueable", r.ID, r.Method)
	}
	// index keys store the timestamp unsigned
	if r.Timestamp < 0 {
		return errs.Invalidf("queued request %s: negative timestamp %d", r.ID, r.Timestamp)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return errs.Invalidf("queued request %s: payload is not JSON", r.ID)
	}
	return nil
}

func queueFull(tenantID string, limit int) error {
	return errs.Mark(errs.Mark(errs.Newf("tenant %q already has %d pending requests", tenantID, limit), errs.ErrQueueFull), errs.ErrStorage)
}
