package runtime

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rzbill/tether/internal/cache"
	cfgpkg "github.com/rzbill/tether/internal/config"
	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/internal/metrics"
	"github.com/rzbill/tether/internal/queue"
	"github.com/rzbill/tether/internal/relay"
	pebblestore "github.com/rzbill/tether/internal/storage/pebble"
	"github.com/rzbill/tether/internal/tenant"
	"github.com/rzbill/tether/pkg/id"
	"github.com/rzbill/tether/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Connectivity replaces the TCP prober of the upstream.
	Connectivity relay.Connectivity
	// Transport replaces the upstream HTTP transport.
	Transport http.RoundTripper
}

// Runtime owns storage and the relay components of one relay process.
type Runtime struct {
	config   cfgpkg.Config
	logger   log.Logger
	upstream *url.URL
	origin   string

	db          *pebblestore.DB
	store       queue.Store
	cache       *cache.Store
	metrics     *metrics.Collector
	monitor     *relay.Monitor
	interceptor *relay.Interceptor
	replayer    *relay.Replayer
	broadcaster *relay.Broadcaster
	sweeper     *queue.Sweeper
	redis       *relay.RedisPublisher
}

// Open validates the configuration, opens storage and wires the relay.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Upstream == "" {
		return nil, errs.Invalidf("runtime: upstream is required")
	}
	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrInvalid)
	}
	collector := metrics.NewCollector("tether")
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(cfg.DataDir, "kv"),
		Fsync:         fsync,
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
		Metrics:       collector,
	})
	if err != nil {
		return nil, errs.Storage(err, "runtime: open pebble")
	}
	rt := &Runtime{
		config:   cfg,
		logger:   logger,
		upstream: upstream,
		origin:   origin(),
		db:       db,
		metrics:  collector,
	}
	if err := rt.wire(opts); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) wire(opts Options) error {
	cfg := r.config
	limits := queue.Limits{MaxPerTenant: cfg.Queue.MaxPerTenant, TTL: cfgpkg.MustDuration(cfg.Queue.TTL)}

	var err error
	switch cfg.Store {
	case "sqlite":
		r.store, err = queue.OpenSQLStore(cfg.DataDir, limits)
	default:
		r.store, err = queue.OpenPebbleStore(r.db, limits)
	}
	if err != nil {
		return err
	}
	if cfg.Cache.Enabled {
		r.cache = cache.New(r.db, cfg.Cache.MaxBodyBytes)
	}

	policy, err := relay.CompilePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	probe := opts.Connectivity
	if probe == nil {
		probe = relay.NewProber(r.upstream, cfgpkg.MustDuration(cfg.Connectivity.ProbeTimeout))
	}
	r.monitor = relay.NewMonitor(probe, r.store, cfgpkg.MustDuration(cfg.Connectivity.ProbeInterval), r.logger)

	r.broadcaster = relay.NewBroadcaster(64, r.logger)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		r.redis = relay.NewRedisPublisher(client, cfg.Redis.Channel, r.origin)
		r.broadcaster.AddPublisher(r.redis)
	}

	r.interceptor = relay.NewInterceptor(relay.InterceptorOptions{
		Transport:           opts.Transport,
		Store:               r.store,
		Cache:               r.cache,
		Connectivity:        r.monitor,
		Resolver:            tenant.NewResolver(cfg.TenantHeader),
		Policy:              policy,
		ShortCircuitOffline: cfg.Connectivity.ShortCircuit,
		MaxBodyBytes:        cfg.MaxBodyBytes,
		Logger:              r.logger,
		Metrics:             r.metrics,
	})
	r.replayer = relay.NewReplayer(relay.ReplayerOptions{
		Upstream:     r.upstream,
		Transport:    opts.Transport,
		Store:        r.store,
		Broadcaster:  r.broadcaster,
		TenantHeader: cfg.TenantHeader,
		Timeout:      cfgpkg.MustDuration(cfg.Replay.Timeout),
		Rate:         cfg.Replay.Rate,
		Burst:        cfg.Replay.Burst,
		Origin:       r.origin,
		Logger:       r.logger,
		Metrics:      r.metrics,
	})
	r.sweeper = queue.NewSweeper(r.store, limits.TTL, cfgpkg.MustDuration(cfg.Queue.SweepInterval), r.logger)
	r.sweeper.OnPrune = r.metrics.RecordPruned
	return nil
}

// Run drives the connectivity monitor, the replayer, the expiry sweeper and
// the Redis relay until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	r.sweeper.Start()
	defer r.sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.monitor.Run(gctx) })
	g.Go(func() error { return r.replayer.Run(gctx, r.monitor.Signals()) })
	if r.redis != nil {
		g.Go(func() error {
			if err := r.redis.Relay(gctx, r.broadcaster); err != nil {
				// remote fan-out is optional; local delivery continues
				r.logger.Warn("redis relay stopped", log.Err(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Close releases every resource. Safe to call more than once.
func (r *Runtime) Close() error {
	if r.replayer != nil {
		r.replayer.Close()
	}
	if r.sweeper != nil {
		r.sweeper.Stop()
	}
	if r.broadcaster != nil {
		r.broadcaster.Close()
	}
	var first error
	if r.redis != nil {
		if err := r.redis.Close(); err != nil && first == nil {
			first = err
		}
		r.redis = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil && first == nil {
			first = err
		}
		r.store = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil && first == nil {
			first = err
		}
		r.db = nil
	}
	return first
}

// CheckHealth verifies the storage layers answer and returns the number of
// records pending across all tenants.
func (r *Runtime) CheckHealth(ctx context.Context) (int, error) {
	if r.db == nil || r.store == nil {
		return 0, errs.New("runtime: closed")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return 0, errs.Storage(err, "runtime: health iterator")
	}
	_ = it.Close()
	return r.store.Total(ctx)
}

func (r *Runtime) Config() cfgpkg.Config           { return r.config }
func (r *Runtime) Logger() log.Logger              { return r.logger }
func (r *Runtime) Upstream() *url.URL              { return r.upstream }
func (r *Runtime) Origin() string                  { return r.origin }
func (r *Runtime) DB() *pebblestore.DB             { return r.db }
func (r *Runtime) Store() queue.Store              { return r.store }
func (r *Runtime) Cache() *cache.Store             { return r.cache }
func (r *Runtime) Metrics() *metrics.Collector     { return r.metrics }
func (r *Runtime) Monitor() *relay.Monitor         { return r.monitor }
func (r *Runtime) Interceptor() *relay.Interceptor { return r.interceptor }
func (r *Runtime) Replayer() *relay.Replayer       { return r.replayer }
func (r *Runtime) Broadcaster() *relay.Broadcaster { return r.broadcaster }
func (r *Runtime) Sweeper() *queue.Sweeper         { return r.sweeper }

func origin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tether"
	}
	return host + "-" + id.Suffix()
}
