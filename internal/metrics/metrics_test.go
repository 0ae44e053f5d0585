package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	pebblestore "github.com/rzbill/tether/internal/storage/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ pebblestore.MetricsHook = (*Collector)(nil)

func TestCounters(t *testing.T) {
	c := NewCollector("")
	c.RecordIntercept("POST", "queued")
	c.RecordIntercept("POST", "queued")
	c.RecordIntercept("GET", "cache_hit")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.intercepted.WithLabelValues("POST", "queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.intercepted.WithLabelValues("GET", "cache_hit")))

	c.RecordReplay("t1", 3, "drained", 10*time.Millisecond)
	c.RecordReplay("t1", 0, "stopped", time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.replayed.WithLabelValues("t1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replayPasses.WithLabelValues("stopped")))

	c.RecordPending("t1", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(c.pending.WithLabelValues("t1")))
	c.RecordPending("t1", 0)
	assert.Equal(t, 0, testutil.CollectAndCount(c.pending))

	c.RecordPruned(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pruned))
}

func TestHandlerExposesStorageMetrics(t *testing.T) {
	c := NewCollector("tether")
	c.ObserveWrite(time.Millisecond, 10)
	c.ObserveRead(time.Millisecond, 5)
	c.ObserveBatchCommit(time.Millisecond, 3, 20)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `tether_storage_bytes_total{op="batch"} 20`))
	assert.True(t, strings.Contains(string(body), "tether_storage_write_duration_seconds"))
}
