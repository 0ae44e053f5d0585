package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/internal/queue"
	"github.com/rzbill/tether/internal/tenant"
	"github.com/rzbill/tether/pkg/id"
	"github.com/rzbill/tether/pkg/log"
	"golang.org/x/time/rate"
)

// HeaderReplay carries the queued record id on reissued requests so the
// upstream can deduplicate.
const HeaderReplay = "X-Tether-Replay"

// ReplayerOptions configures a Replayer. Upstream and Store are required.
type ReplayerOptions struct {
	// Upstream supplies scheme and host for record endpoints.
	Upstream  *url.URL
	Transport http.RoundTripper
	Store     queue.Store
	// Broadcaster receives a SyncComplete after every pass. Optional.
	Broadcaster *Broadcaster
	// TenantHeader is re-added to every reissued request.
	TenantHeader string
	// Timeout bounds each reissued call. Zero means no per-call limit.
	Timeout time.Duration
	// Rate limits reissued calls per second across all tenants. Zero disables pacing.
	Rate  float64
	Burst int
	// Origin is copied into broadcast events.
	Origin  string
	Logger  log.Logger
	Metrics Metrics
}

// Replayer reissues queued records against the upstream, one tenant at a
// time, oldest first, stopping at the first failure.
type Replayer struct {
	upstream     *url.URL
	client       *http.Client
	store        queue.Store
	broadcaster  *Broadcaster
	tenantHeader string
	limiter      *rate.Limiter
	origin       string
	logger       log.Logger
	metrics      Metrics

	// passes run on life, never on a caller's context
	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*tenantRun
	closed bool
}

// tenantRun is the pass loop in flight for one tenant. A signal that joins
// it sets dirty so the loop reads the queue again before finishing.
type tenantRun struct {
	dirty bool
	done  chan struct{}
	res   Result
	err   error
}

// NewReplayer builds a replayer.
func NewReplayer(opts ReplayerOptions) *Replayer {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	life, cancel := context.WithCancel(context.Background())
	r := &Replayer{
		life:         life,
		cancel:       cancel,
		runs:         make(map[string]*tenantRun),
		upstream:     opts.Upstream,
		client:       &http.Client{Transport: transport, Timeout: opts.Timeout},
		store:        opts.Store,
		broadcaster:  opts.Broadcaster,
		tenantHeader: opts.TenantHeader,
		origin:       opts.Origin,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if r.tenantHeader == "" {
		r.tenantHeader = tenant.DefaultHeader
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	if r.logger == nil {
		r.logger = log.NewNop()
	}
	r.logger = r.logger.WithComponent("replayer")
	if r.metrics == nil {
		r.metrics = NopMetrics{}
	}
	return r
}

// Replay drains one tenant's queue. Concurrent calls for the same tenant
// share one pass loop; a call that arrives while a pass is running makes
// the loop run one more pass, so records queued in the meantime are seen.
// The loop is not bound to ctx: a caller whose ctx ends stops waiting but
// the pass continues. A pass that stops early returns its Result together
// with an error marked errs.ErrReplayFailure; the remaining records stay
// queued.
func (r *Replayer) Replay(ctx context.Context, tenantID string) (Result, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Result{TenantID: tenantID}, errs.New("replay: replayer closed")
	}
	run, ok := r.runs[tenantID]
	if ok {
		run.dirty = true
	} else {
		run = &tenantRun{done: make(chan struct{})}
		r.runs[tenantID] = run
		r.wg.Add(1)
		go r.loop(tenantID, run)
	}
	r.mu.Unlock()

	select {
	case <-run.done:
		return run.res, run.err
	case <-ctx.Done():
		return Result{TenantID: tenantID}, ctx.Err()
	}
}

func (r *Replayer) loop(tenantID string, run *tenantRun) {
	defer r.wg.Done()
	replayed := 0
	for {
		res, err := r.replay(r.life, tenantID)
		replayed += res.Replayed

		r.mu.Lock()
		if run.dirty && err == nil && r.life.Err() == nil {
			run.dirty = false
			r.mu.Unlock()
			continue
		}
		delete(r.runs, tenantID)
		res.Replayed = replayed
		run.res, run.err = res, err
		close(run.done)
		r.mu.Unlock()
		return
	}
}

// Close cancels passes in flight and waits for them to return.
func (r *Replayer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Replayer) replay(ctx context.Context, tenantID string) (Result, error) {
	start := time.Now()
	res := Result{TenantID: tenantID}

	recs, err := r.store.GetPending(ctx, tenantID)
	if err != nil {
		r.metrics.RecordReplay(tenantID, 0, ReplayError, time.Since(start))
		return res, err
	}

	var passErr error
	for _, rec := range recs {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				passErr = errs.Mark(errs.Wrap(err, "replay: paced wait"), errs.ErrReplayFailure)
				res.FailedID = rec.ID
				break
			}
		}
		if err := r.reissue(ctx, rec); err != nil {
			passErr = errs.Mark(errs.Wrapf(err, "replay: record %s", rec.ID), errs.ErrReplayFailure)
			res.FailedID = rec.ID
			break
		}
		if err := r.store.Delete(ctx, rec.ID); err != nil {
			// delivered upstream but still queued; the next pass resends it
			// with the same replay id
			passErr = err
			res.FailedID = rec.ID
			break
		}
		res.Replayed++
	}
	// records queued while the pass ran count too
	res.Remaining = len(recs) - res.Replayed
	if n, err := r.store.Count(context.WithoutCancel(ctx), tenantID); err == nil {
		res.Remaining = n
	} else if passErr == nil {
		passErr = err
	}
	res.Drained = res.Remaining == 0 && passErr == nil

	result := ReplayDrained
	switch {
	case passErr != nil && errs.Is(passErr, errs.ErrStorage):
		result = ReplayError
	case !res.Drained:
		result = ReplayStopped
	}
	r.metrics.RecordReplay(tenantID, res.Replayed, result, time.Since(start))
	r.metrics.RecordPending(tenantID, res.Remaining)

	fields := []log.Field{log.Tenant(tenantID), log.Int("replayed", res.Replayed), log.Int("remaining", res.Remaining)}
	if passErr != nil {
		r.logger.Warn("replay pass stopped", append(fields, log.Str("failed_id", res.FailedID), log.Err(passErr))...)
	} else if len(recs) > 0 {
		r.logger.Info("replay pass drained", fields...)
	}

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(ctx, SyncComplete{
			Type:      EventSyncComplete,
			TenantID:  tenantID,
			Drained:   res.Drained,
			Replayed:  res.Replayed,
			Remaining: res.Remaining,
			AtMs:      id.NowMs(),
			Origin:    r.origin,
		})
	}
	return res, passErr
}

func (r *Replayer) reissue(ctx context.Context, rec queue.QueuedRequest) error {
	target, err := r.target(rec.Endpoint)
	if err != nil {
		return err
	}
	var body io.Reader
	if len(rec.Payload) > 0 {
		body = bytes.NewReader(rec.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, rec.Method, target, body)
	if err != nil {
		return errs.Wrap(err, "build request")
	}
	for k, v := range rec.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(r.tenantHeader, rec.TenantID)
	req.Header.Set(HeaderReplay, rec.ID)
	if len(rec.Payload) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errs.Wrap(err, "send")
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Newf("upstream answered %d", resp.StatusCode)
	}
	return nil
}

// target resolves a record endpoint against the upstream. Absolute
// endpoints are used as they are.
func (r *Replayer) target(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}
	if r.upstream == nil {
		return "", errs.Invalidf("replay: no upstream for endpoint %q", endpoint)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return r.upstream.Scheme + "://" + r.upstream.Host + endpoint, nil
}

// Run replays tenants as their signals arrive until ctx is done or signals
// is closed. Different tenants replay concurrently.
func (r *Replayer) Run(ctx context.Context, signals <-chan Signal) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			tenantID, ok := tenant.ParseTag(sig.Tag)
			if !ok {
				r.logger.Warn("ignoring malformed sync tag", log.Str("tag", sig.Tag))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := r.Replay(ctx, tenantID); err != nil && ctx.Err() == nil && !errs.Is(err, errs.ErrReplayFailure) {
					r.logger.Error("replay pass failed", log.Tenant(tenantID), log.Err(err))
				}
			}()
		}
	}
}
