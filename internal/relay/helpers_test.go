package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/rzbill/tether/internal/cache"
	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/internal/queue"
	pebblestore "github.com/rzbill/tether/internal/storage/pebble"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Body   string
	Header http.Header
}

// fakeUpstream records every request and answers with status(n) for the
// n-th one (1-based).
type fakeUpstream struct {
	*httptest.Server
	mu     sync.Mutex
	reqs   []recorded
	status func(n int) int
}

func newUpstream(t *testing.T, status func(n int) int) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{status: status}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.reqs = append(u.reqs, recorded{Method: r.Method, Path: r.URL.RequestURI(), Body: string(body), Header: r.Header.Clone()})
		n := len(u.reqs)
		u.mu.Unlock()
		code := http.StatusOK
		if u.status != nil {
			code = u.status(n)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *fakeUpstream) received() []recorded {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]recorded(nil), u.reqs...)
}

func (u *fakeUpstream) url(t *testing.T) *url.URL {
	t.Helper()
	parsed, err := url.Parse(u.URL)
	require.NoError(t, err)
	return parsed
}

// deadUpstream returns the address of a server that no longer listens.
func deadUpstream(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.NotFoundHandler())
	addr := s.URL
	s.Close()
	return addr
}

func openDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openStore(t *testing.T) (queue.Store, *pebblestore.DB) {
	t.Helper()
	db := openDB(t)
	s, err := queue.OpenPebbleStore(db, queue.DefaultLimits())
	require.NoError(t, err)
	return s, db
}

func openCache(t *testing.T, db *pebblestore.DB) *cache.Store {
	t.Helper()
	return cache.New(db, 0)
}

func pending(t *testing.T, s queue.Store, tenantID string) []queue.QueuedRequest {
	t.Helper()
	recs, err := s.GetPending(context.Background(), tenantID)
	require.NoError(t, err)
	return recs
}

func pendingIDs(t *testing.T, s queue.Store, tenantID string) []string {
	t.Helper()
	var out []string
	for _, r := range pending(t, s, tenantID) {
		out = append(out, r.ID)
	}
	return out
}

// failingStore fails every write.
type failingStore struct {
	queue.Store
}

func (failingStore) Put(context.Context, queue.QueuedRequest) error {
	return errs.Storage(errs.New("disk full"), "queue: commit record")
}
