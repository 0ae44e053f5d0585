// Package cache keeps the last good response for each read request so the
// relay can answer reads while the upstream is unreachable.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rzbill/tether/internal/errs"
	pebblestore "github.com/rzbill/tether/internal/storage/pebble"
)

// Keys: rc/{len_be2}{tenant}/{method} {url}
const prefixCache = "rc/"

// DefaultMaxBodyBytes bounds the body size stored per entry.
const DefaultMaxBodyBytes = 4 << 20

// Response is a cached upstream response.
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt int64       `json:"storedAt"`
}

// Key identifies one cached request. Tenants never share entries.
type Key struct {
	Tenant string
	Method string
	URL    string
}

func (k Key) bytes() []byte {
	b := make([]byte, 0, len(prefixCache)+2+len(k.Tenant)+1+len(k.Method)+1+len(k.URL))
	b = append(b, prefixCache...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(k.Tenant)))
	b = append(b, k.Tenant...)
	b = append(b, '/')
	b = append(b, strings.ToUpper(k.Method)...)
	b = append(b, ' ')
	return append(b, k.URL...)
}

func tenantPrefix(tenant string) []byte {
	return Key{Tenant: tenant}.bytes()[:len(prefixCache)+2+len(tenant)+1]
}

// Store is a Pebble-backed response cache.
type Store struct {
	db      *pebblestore.DB
	maxBody int
}

// New returns a cache on db. maxBody <= 0 selects DefaultMaxBodyBytes.
func New(db *pebblestore.DB, maxBody int) *Store {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Store{db: db, maxBody: maxBody}
}

// Cacheable reports whether a response with this body size is stored.
func (s *Store) Cacheable(status, bodyLen int) bool {
	return status >= 200 && status < 300 && bodyLen <= s.maxBody
}

// Put stores resp under k, replacing any previous entry.
func (s *Store) Put(ctx context.Context, k Key, resp Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(resp)
	if err != nil {
		return errs.Storage(err, "cache: encode response")
	}
	if err := s.db.Set(k.bytes(), val); err != nil {
		return errs.Storage(err, "cache: write response")
	}
	return nil
}

// Get returns the cached response for k, if any.
func (s *Store) Get(ctx context.Context, k Key) (Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, false, err
	}
	val, err := s.db.Get(k.bytes())
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, errs.Storage(err, "cache: read response")
	}
	var resp Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return Response{}, false, errs.Storage(err, "cache: decode response")
	}
	return resp, true, nil
}

// PurgeTenant drops every cached response for a tenant.
func (s *Store) PurgeTenant(ctx context.Context, tenant string) (int, error) {
	prefix := tenantPrefix(tenant)
	it, err := s.db.PrefixIter(prefix)
	if err != nil {
		return 0, errs.Storage(err, "cache: open tenant range")
	}
	b := s.db.NewBatch()
	defer b.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		_ = b.Delete(append([]byte(nil), it.Key()...), nil)
		n++
	}
	iterErr := it.Error()
	_ = it.Close()
	if iterErr != nil {
		return 0, errs.Storage(iterErr, "cache: scan tenant range")
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, errs.Storage(err, "cache: commit purge")
	}
	return n, nil
}
