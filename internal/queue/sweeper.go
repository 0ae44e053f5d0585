package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rzbill/tether/pkg/log"
)

const defaultSweepInterval = time.Minute

// Sweeper periodically prunes records older than the configured TTL.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	logger   log.Logger
	now      func() time.Time

	// OnPrune, when set, is called with the number of records dropped by
	// each sweep that dropped any.
	OnPrune func(n int)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSweeper returns a sweeper for store. A non-positive ttl makes Start a no-op.
func NewSweeper(store Store, ttl, interval time.Duration, logger log.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger.WithComponent("sweeper"),
		now:      time.Now,
	}
}

// SweepOnce prunes expired records immediately.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned expired queued requests", log.Int("count", n), log.Dur("ttl", s.ttl))
		if s.OnPrune != nil {
			s.OnPrune(n)
		}
	}
	return n, nil
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(s.interval + time.Duration(rng.Int63n(int64(s.interval/10+1)))):
				if _, err := s.SweepOnce(context.Background()); err != nil {
					s.logger.Warn("prune failed", log.Err(err))
				}
			}
		}
	}()
}

// Stop ends the background loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
