package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/rzbill/tether/internal/config"
	"github.com/rzbill/tether/internal/runtime"
	httpserver "github.com/rzbill/tether/internal/server/http"
	logpkg "github.com/rzbill/tether/pkg/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config cfgpkg.Config
	// OnListen receives the HTTP address once bound.
	OnListen func(addr string)
}

// BuildConfig layers the optional config file, TETHER_* environment
// variables and then flag overrides over the defaults, and validates the
// result.
func BuildConfig(path string, override func(*cfgpkg.Config)) (cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfgpkg.Config{}, err
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, err
	}
	return cfg, nil
}

// Run starts the relay and its HTTP surface and blocks until ctx is
// cancelled or a component fails.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the caller's.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}

	procLogger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		// Fallback to a sane default
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
		procLogger.Warn("invalid log config; using defaults", logpkg.Err(err))
	}
	defer func() { _ = procLogger.Sync() }()

	// Redirect stdlib logs (e.g., Pebble) to our logger
	restore := logpkg.RedirectStdLog(procLogger)
	defer restore()

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting tether relay",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("upstream", cfg.Upstream),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("store", cfg.Store),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Bool("cache", cfg.Cache.Enabled),
		logpkg.Bool("redis", cfg.Redis.Addr != ""),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	hsrv := httpserver.New(rt, procLogger)
	hsrv.OnListen = opts.OnListen

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return hsrv.ListenAndServe(gctx, cfg.HTTPAddr) })
	err = g.Wait()
	// Stop accepting before closing the runtime/DB to avoid races.
	hsrv.Close()
	procLogger.Info("tether relay stopped")
	return err
}
