package relay

import (
	"context"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/tether/internal/queue"
	"github.com/rzbill/tether/internal/tenant"
	"github.com/rzbill/tether/pkg/log"
)

// Connectivity reports whether the device can currently reach the upstream.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Switch is a manually driven Connectivity.
type Switch struct {
	online atomic.Bool
}

// NewSwitch returns a switch in the given state.
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

func (s *Switch) Online(context.Context) bool { return s.online.Load() }

// Set flips the switch.
func (s *Switch) Set(online bool) { s.online.Store(online) }

// Prober treats the upstream as reachable when a TCP connection to it opens
// within Timeout.
type Prober struct {
	Addr    string
	Timeout time.Duration
}

// NewProber returns a prober for the upstream's host, defaulting the port
// from the scheme.
func NewProber(upstream *url.URL, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	host := upstream.Hostname()
	port := upstream.Port()
	if port == "" {
		port = "80"
		if upstream.Scheme == "https" {
			port = "443"
		}
	}
	return &Prober{Addr: net.JoinHostPort(host, port), Timeout: timeout}
}

func (p *Prober) Online(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Monitor tracks connectivity and emits a Signal for every tenant with
// pending records whenever the device goes from offline to online. It also
// serves as the Connectivity of the interceptor, so a failed request that
// finds the device offline arms the next recovery.
type Monitor struct {
	probe    Connectivity
	store    queue.Store
	interval time.Duration
	logger   log.Logger
	signals  chan Signal

	mu     sync.Mutex
	online bool

	// OnChange, when set, observes every state transition.
	OnChange func(online bool)
}

// NewMonitor starts in the offline state, so the first successful probe
// replays whatever survived the last restart.
func NewMonitor(probe Connectivity, store queue.Store, interval time.Duration, logger log.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Monitor{
		probe:    probe,
		store:    store,
		interval: interval,
		logger:   logger.WithComponent("monitor"),
		signals:  make(chan Signal, 1024),
	}
}

// Signals is the outbound replay trigger channel.
func (m *Monitor) Signals() <-chan Signal { return m.signals }

// State returns the last observed connectivity without probing.
func (m *Monitor) State() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Online probes now and records the result.
func (m *Monitor) Online(ctx context.Context) bool {
	online := m.probe.Online(ctx)
	m.observe(ctx, online)
	return online
}

func (m *Monitor) observe(ctx context.Context, online bool) {
	m.mu.Lock()
	prev := m.online
	m.online = online
	m.mu.Unlock()
	if prev == online {
		return
	}
	m.logger.Info("connectivity changed", log.Bool("online", online))
	if m.OnChange != nil {
		m.OnChange(online)
	}
	if online {
		m.Kick(ctx)
	}
}

// Kick emits a signal for every tenant that has pending records.
func (m *Monitor) Kick(ctx context.Context) {
	tenants, err := m.store.Tenants(ctx)
	if err != nil {
		m.logger.Error("list tenants with pending records", log.Err(err))
		return
	}
	for _, t := range tenants {
		m.Notify(t)
	}
}

// Notify emits a signal for one tenant. Signals are dropped rather than
// block when the replayer is far behind; the next recovery re-emits them.
func (m *Monitor) Notify(tenantID string) {
	select {
	case m.signals <- Signal{Tag: tenant.Tag(tenantID)}:
	default:
		m.logger.Warn("replay signal dropped", log.Tenant(tenantID))
	}
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	m.Online(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Online(ctx)
		}
	}
}
