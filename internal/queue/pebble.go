package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/tether/internal/errs"
	pebblestore "github.com/rzbill/tether/internal/storage/pebble"
)

// PebbleStore is the default Store, kept in the relay's Pebble database.
// The database itself is owned by the caller; Close does not close it.
type PebbleStore struct {
	db     *pebblestore.DB
	limits Limits

	mu      sync.Mutex
	lastSeq uint64
}

var _ Store = (*PebbleStore)(nil)

// OpenPebbleStore restores the enqueue sequence from metadata and returns a store.
func OpenPebbleStore(db *pebblestore.DB, limits Limits) (*PebbleStore, error) {
	s := &PebbleStore{db: db, limits: limits}
	meta, err := db.Get([]byte(keyMetaSeq))
	switch {
	case err == nil && len(meta) >= 8:
		s.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, errs.Storage(err, "queue: read sequence")
	}
	return s, nil
}

// Put writes the record and its index entries in one batch.
func (s *PebbleStore) Put(ctx context.Context, rec QueuedRequest) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, prevSeq, found, err := s.load(rec.ID)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()

	seq := s.lastSeq + 1
	if found {
		seq = prevSeq
		if !prev.Synced {
			_ = b.Delete(tenantIdxKey(prev.TenantID, prev.Timestamp, prevSeq), nil)
		}
		_ = b.Delete(statusIdxKey(prev.Synced, prev.ID), nil)
	}

	stillCounted := found && !prev.Synced && prev.TenantID == rec.TenantID
	if !rec.Synced && !stillCounted && s.limits.MaxPerTenant > 0 {
		n, err := s.count(rec.TenantID, s.limits.MaxPerTenant)
		if err != nil {
			return err
		}
		if n >= s.limits.MaxPerTenant {
			return queueFull(rec.TenantID, s.limits.MaxPerTenant)
		}
	}

	val, err := encodeRecord(rec, seq)
	if err != nil {
		return errs.Storage(err, "queue: encode record")
	}
	if err := b.Set(recKey(rec.ID), val, nil); err != nil {
		return errs.Storage(err, "queue: stage record")
	}
	if !rec.Synced {
		if err := b.Set(tenantIdxKey(rec.TenantID, rec.Timestamp, seq), []byte(rec.ID), nil); err != nil {
			return errs.Storage(err, "queue: stage tenant index")
		}
	}
	if err := b.Set(statusIdxKey(rec.Synced, rec.ID), []byte(rec.TenantID), nil); err != nil {
		return errs.Storage(err, "queue: stage status index")
	}
	if !found {
		var meta [8]byte
		binary.BigEndian.PutUint64(meta[:], seq)
		if err := b.Set([]byte(keyMetaSeq), meta[:], nil); err != nil {
			return errs.Storage(err, "queue: stage sequence")
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return errs.Storage(err, "queue: commit record")
	}
	if !found {
		s.lastSeq = seq
	}
	return nil
}

// GetPending walks the tenant index, which is ordered by (timestamp, seq).
// The index and the records are read from one snapshot.
func (s *PebbleStore) GetPending(ctx context.Context, tenantID string) ([]QueuedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	it, err := snap.PrefixIter(tenantPrefix(tenantID))
	if err != nil {
		return nil, errs.Storage(err, "queue: open tenant index")
	}
	defer it.Close()

	var out []QueuedRequest
	for ok := it.First(); ok; ok = it.Next() {
		rec, _, found, err := loadFrom(snap, string(it.Value()))
		if err != nil {
			return nil, err
		}
		// index entry without a live pending record
		if !found || rec.Synced || rec.TenantID != tenantID {
			continue
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, errs.Storage(err, "queue: scan tenant index")
	}
	return out, nil
}

// Delete removes the record and its index entries. Unknown ids are a no-op.
func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, seq, found, err := s.load(id)
	if err != nil || !found {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	s.stageDelete(b, rec, seq)
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return errs.Storage(err, "queue: commit delete")
	}
	return nil
}

// Tenants lists tenants with at least one pending record, in key order.
func (s *PebbleStore) Tenants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := s.db.PrefixIter([]byte(prefixTenantIdx))
	if err != nil {
		return nil, errs.Storage(err, "queue: open tenant index")
	}
	defer it.Close()

	var out []string
	for ok := it.First(); ok; {
		tenantID, _, _, err := parseTenantIdxKey(it.Key())
		if err != nil {
			ok = it.Next()
			continue
		}
		out = append(out, tenantID)
		// jump past the rest of this tenant's entries
		ok = it.SeekGE(pebblestore.PrefixEnd(tenantPrefix(tenantID)))
	}
	if err := it.Error(); err != nil {
		return nil, errs.Storage(err, "queue: scan tenants")
	}
	return out, nil
}

// Count returns the tenant's pending record count.
func (s *PebbleStore) Count(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.count(tenantID, 0)
}

// Total counts the unsynced half of the status index.
func (s *PebbleStore) Total(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	it, err := s.db.PrefixIter(statusPrefix(false))
	if err != nil {
		return 0, errs.Storage(err, "queue: open status index")
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, errs.Storage(err, "queue: scan status index")
	}
	return n, nil
}

// Prune deletes every record created before cutoffMs, then compacts the
// queue keyspace so the tombstones do not linger.
func (s *PebbleStore) Prune(ctx context.Context, cutoffMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.db.PrefixIter([]byte(prefixRec))
	if err != nil {
		return 0, errs.Storage(err, "queue: open records")
	}
	b := s.db.NewBatch()
	defer b.Close()

	pruned := 0
	for ok := it.First(); ok; ok = it.Next() {
		rec, seq, err := decodeRecord(it.Value())
		if err != nil {
			// unreadable records can never replay; drop the value, indexes
			// are cleaned up when their lookups miss
			_ = b.Delete(append([]byte(nil), it.Key()...), nil)
			pruned++
			continue
		}
		if rec.Timestamp >= cutoffMs {
			continue
		}
		s.stageDelete(b, rec, seq)
		pruned++
	}
	iterErr := it.Error()
	_ = it.Close()
	if iterErr != nil {
		return 0, errs.Storage(iterErr, "queue: scan records")
	}
	if pruned == 0 {
		return 0, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, errs.Storage(err, "queue: commit prune")
	}
	if err := s.db.CompactPrefix([]byte(prefixQueue)); err != nil {
		return pruned, errs.Storage(err, "queue: compact after prune")
	}
	return pruned, nil
}

// Close is a no-op; the database belongs to the runtime.
func (s *PebbleStore) Close() error { return nil }

func (s *PebbleStore) stageDelete(b *pebble.Batch, rec QueuedRequest, seq uint64) {
	_ = b.Delete(recKey(rec.ID), nil)
	if !rec.Synced {
		_ = b.Delete(tenantIdxKey(rec.TenantID, rec.Timestamp, seq), nil)
	}
	_ = b.Delete(statusIdxKey(rec.Synced, rec.ID), nil)
}

// count counts tenant index entries, stopping early once limit is reached
// when limit > 0.
func (s *PebbleStore) count(tenantID string, limit int) (int, error) {
	it, err := s.db.PrefixIter(tenantPrefix(tenantID))
	if err != nil {
		return 0, errs.Storage(err, "queue: open tenant index")
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return n, nil
}

// getter is the read side shared by the database and its snapshots.
type getter interface {
	Get(key []byte) ([]byte, error)
}

func (s *PebbleStore) load(id string) (QueuedRequest, uint64, bool, error) {
	return loadFrom(s.db, id)
}

func loadFrom(g getter, id string) (QueuedRequest, uint64, bool, error) {
	val, err := g.Get(recKey(id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return QueuedRequest{}, 0, false, nil
	}
	if err != nil {
		return QueuedRequest{}, 0, false, errs.Storage(err, "queue: read record")
	}
	rec, seq, err := decodeRecord(val)
	if err != nil {
		return QueuedRequest{}, 0, false, errs.Storage(err, "queue: decode record "+id)
	}
	return rec, seq, true, nil
}
