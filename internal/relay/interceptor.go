package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rzbill/tether/internal/cache"
	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/internal/queue"
	"github.com/rzbill/tether/internal/tenant"
	"github.com/rzbill/tether/pkg/id"
	"github.com/rzbill/tether/pkg/log"
)

const (
	// HeaderQueued marks synthetic "accepted, queued" responses.
	HeaderQueued = "X-Tether-Queued"
	// HeaderCache marks responses served from the read cache.
	HeaderCache = "X-Tether-Cache"

	defaultMaxBodyBytes = 1 << 20
)

// hop-by-hop headers are never captured into a queued record
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Host":                true,
}

// InterceptorOptions configures an Interceptor. Store is required.
type InterceptorOptions struct {
	// Transport performs the real network call. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Store     queue.Store
	// Cache enables the read fallback. Optional.
	Cache *cache.Store
	// Connectivity decides whether a transport failure means offline.
	// Defaults to always online, which never queues.
	Connectivity Connectivity
	Resolver     tenant.Resolver
	// Policy filters which offline writes may be queued. Optional.
	Policy *Policy
	IDs    *id.Generator
	// ShortCircuitOffline skips the network attempt for writes while the
	// connectivity source already reports offline.
	ShortCircuitOffline bool
	// MaxBodyBytes bounds the captured request body. Larger writes are
	// forwarded but never queued.
	MaxBodyBytes int64
	Logger       log.Logger
	Metrics      Metrics
}

// Interceptor sits on the network path between the application and the
// upstream API. Writes that fail because the device is offline are queued
// and answered with a synthetic 202; reads fall back to the last cached
// response. It implements http.RoundTripper.
type Interceptor struct {
	transport http.RoundTripper
	store     queue.Store
	cache     *cache.Store
	conn      Connectivity
	resolver  tenant.Resolver
	policy    *Policy
	ids       *id.Generator
	short     bool
	maxBody   int64
	logger    log.Logger
	metrics   Metrics
}

var _ http.RoundTripper = (*Interceptor)(nil)

type alwaysOnline struct{}

func (alwaysOnline) Online(context.Context) bool { return true }

// NewInterceptor builds an interceptor.
func NewInterceptor(opts InterceptorOptions) *Interceptor {
	it := &Interceptor{
		transport: opts.Transport,
		store:     opts.Store,
		cache:     opts.Cache,
		conn:      opts.Connectivity,
		resolver:  opts.Resolver,
		policy:    opts.Policy,
		ids:       opts.IDs,
		short:     opts.ShortCircuitOffline,
		maxBody:   opts.MaxBodyBytes,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if it.transport == nil {
		it.transport = http.DefaultTransport
	}
	if it.conn == nil {
		it.conn = alwaysOnline{}
	}
	if it.resolver.Header == "" {
		it.resolver = tenant.NewResolver("")
	}
	if it.ids == nil {
		it.ids = id.NewGenerator()
	}
	if it.maxBody <= 0 {
		it.maxBody = defaultMaxBodyBytes
	}
	if it.logger == nil {
		it.logger = log.NewNop()
	}
	it.logger = it.logger.WithComponent("interceptor")
	if it.metrics == nil {
		it.metrics = NopMetrics{}
	}
	return it
}

// RoundTrip implements http.RoundTripper.
func (it *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	return it.Do(req)
}

// Do sends req through the offline policy. The returned error is marked
// with errs.ErrServerError, errs.ErrStorage or errs.ErrNetworkUnavailable.
func (it *Interceptor) Do(req *http.Request) (*http.Response, error) {
	switch {
	case queue.IsMutating(req.Method):
		return it.write(req)
	case req.Method == http.MethodGet || req.Method == http.MethodHead:
		return it.read(req)
	default:
		resp, err := it.transport.RoundTrip(req)
		if err != nil {
			return nil, errs.Mark(errs.Wrap(err, "relay: forward"), errs.ErrServerError)
		}
		return resp, nil
	}
}

func (it *Interceptor) write(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	// the body is swapped for a replayable copy; keep the caller's request intact
	req = req.Clone(ctx)
	body, complete, err := it.captureBody(req)
	if err != nil {
		return nil, errs.Mark(errs.Wrap(err, "relay: read request body"), errs.ErrServerError)
	}

	if it.short && !it.conn.Online(ctx) {
		if !complete {
			it.metrics.RecordIntercept(req.Method, OutcomeRejected)
			return nil, errs.Mark(errs.New("relay: offline and request body too large to queue"), errs.ErrNetworkUnavailable)
		}
		return it.enqueue(req, body, errs.ErrNetworkUnavailable)
	}

	resp, err := it.transport.RoundTrip(req)
	if err == nil {
		it.metrics.RecordIntercept(req.Method, OutcomePassed)
		return resp, nil
	}
	// the caller gave up; nothing to defer
	if ctx.Err() != nil {
		return nil, err
	}
	if it.conn.Online(ctx) {
		it.metrics.RecordIntercept(req.Method, OutcomeServerError)
		it.logger.Debug("write failed while online", log.Str("method", req.Method), log.Str("path", req.URL.Path), log.Err(err))
		return nil, errs.Mark(errs.Wrap(err, "relay: upstream call failed"), errs.ErrServerError)
	}
	if !complete {
		it.metrics.RecordIntercept(req.Method, OutcomeRejected)
		return nil, errs.Mark(errs.Wrap(err, "relay: offline and request body too large to queue"), errs.ErrNetworkUnavailable)
	}
	return it.enqueue(req, body, err)
}

func (it *Interceptor) enqueue(req *http.Request, body []byte, cause error) (*http.Response, error) {
	ctx := req.Context()
	if len(body) > 0 && !json.Valid(body) {
		it.metrics.RecordIntercept(req.Method, OutcomeRejected)
		return nil, errs.Mark(errs.Wrap(cause, "relay: offline and body is not JSON"), errs.ErrNetworkUnavailable)
	}
	tenantID := it.resolver.Resolve(req.Header, body)
	headers := captureHeaders(req.Header)
	if !it.policy.Allow(req.Method, req.URL.Path, tenantID, headers, body) {
		it.metrics.RecordIntercept(req.Method, OutcomeRejected)
		return nil, errs.Mark(errs.Wrap(cause, "relay: offline and queue policy rejected the request"), errs.ErrNetworkUnavailable)
	}

	ident := it.ids.NextRecord()
	rec := queue.QueuedRequest{
		ID:        ident.ID,
		TenantID:  tenantID,
		Endpoint:  req.URL.RequestURI(),
		Method:    req.Method,
		Headers:   headers,
		Timestamp: ident.Timestamp,
	}
	if len(body) > 0 {
		rec.Payload = json.RawMessage(body)
	}
	if err := it.store.Put(ctx, rec); err != nil {
		it.metrics.RecordIntercept(req.Method, OutcomeStorageError)
		it.logger.Error("queue write lost", log.Tenant(tenantID), log.Str("method", req.Method), log.Str("endpoint", rec.Endpoint), log.Err(err))
		if !errs.Is(err, errs.ErrStorage) {
			err = errs.Storage(err, "relay: queue write")
		}
		return nil, err
	}
	it.metrics.RecordIntercept(req.Method, OutcomeQueued)
	if n, err := it.store.Count(ctx, tenantID); err == nil {
		it.metrics.RecordPending(tenantID, n)
	}
	it.logger.Info("request queued", log.Tenant(tenantID), log.Str("id", rec.ID), log.Str("method", rec.Method), log.Str("endpoint", rec.Endpoint))

	payload, _ := json.Marshal(map[string]any{"queued": true, "id": rec.ID, "tenantId": tenantID})
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderQueued, "1")
	return syntheticResponse(req, http.StatusAccepted, h, payload), nil
}

func (it *Interceptor) read(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cache.Key{
		Tenant: it.resolver.Resolve(req.Header, nil),
		Method: req.Method,
		URL:    req.URL.RequestURI(),
	}
	resp, err := it.transport.RoundTrip(req)
	if err == nil {
		it.metrics.RecordIntercept(req.Method, OutcomePassed)
		if it.cache == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp, nil
		}
		return it.remember(ctx, key, resp), nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if it.cache != nil {
		cached, ok, cerr := it.cache.Get(ctx, key)
		if cerr != nil {
			it.logger.Warn("read cache lookup failed", log.Str("url", key.URL), log.Err(cerr))
		}
		if ok {
			it.metrics.RecordIntercept(req.Method, OutcomeCacheHit)
			h := cached.Header.Clone()
			if h == nil {
				h = http.Header{}
			}
			h.Set(HeaderCache, "stale")
			body := cached.Body
			if req.Method == http.MethodHead {
				body = nil
			}
			return syntheticResponse(req, cached.Status, h, body), nil
		}
	}
	it.metrics.RecordIntercept(req.Method, OutcomeUnavailable)
	it.logger.Debug("read unavailable", log.Str("url", key.URL), log.Err(err))
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return syntheticResponse(req, http.StatusServiceUnavailable, h, []byte(`{"error":"unavailable","offline":true}`)), nil
}

// remember buffers a successful read into the cache and returns a response
// carrying the same bytes.
func (it *Interceptor) remember(ctx context.Context, key cache.Key, resp *http.Response) *http.Response {
	if resp.ContentLength > it.maxBody {
		return resp
	}
	buf, err := io.ReadAll(io.LimitReader(resp.Body, it.maxBody+1))
	if err != nil || int64(len(buf)) > it.maxBody {
		// hand back what was read followed by the rest of the stream
		resp.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), resp.Body), Closer: resp.Body}
		return resp
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(buf))
	if !it.cache.Cacheable(resp.StatusCode, len(buf)) {
		return resp
	}
	entry := cache.Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     buf,
		StoredAt: id.NowMs(),
	}
	if err := it.cache.Put(ctx, key, entry); err != nil {
		it.logger.Warn("read cache update failed", log.Str("url", key.URL), log.Err(err))
	}
	return resp
}

// captureBody reads the request body so it can be both sent and queued.
// complete is false when the body exceeded maxBody; the request still
// carries the full stream.
func (it *Interceptor) captureBody(req *http.Request) ([]byte, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	buf, err := io.ReadAll(io.LimitReader(req.Body, it.maxBody+1))
	if err != nil {
		_ = req.Body.Close()
		return nil, false, err
	}
	if int64(len(buf)) > it.maxBody {
		req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), req.Body), Closer: req.Body}
		return nil, false, nil
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(buf))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(buf)), nil }
	req.ContentLength = int64(len(buf))
	return buf, true, nil
}

func captureHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		ck := http.CanonicalHeaderKey(k)
		if hopHeaders[ck] || len(vs) == 0 {
			continue
		}
		out[ck] = strings.Join(vs, ", ")
	}
	return out
}

type readCloser struct {
	io.Reader
	io.Closer
}

func syntheticResponse(req *http.Request, status int, h http.Header, body []byte) *http.Response {
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
