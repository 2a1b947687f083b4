// Package netmon tracks online/offline state by probing the remote backend.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/helgasoul/eva-sync/internal/bus"
	"go.uber.org/zap"
)

// Prober answers whether the remote backend is currently reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes with a HEAD request. Any HTTP response counts as
// reachable; only transport errors mean offline.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober against the given health URL.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Monitor polls a Prober and publishes net.online / net.offline transitions
// on the bus. It starts offline until the first successful probe.
type Monitor struct {
	prober   Prober
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu     sync.RWMutex
	online bool

	cancel context.CancelFunc
}

// New creates a monitor polling at the given interval.
func New(prober Prober, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the polling loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	go m.loop(ctx)
}

// Stop stops the polling loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Online returns the current connectivity flag.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity state and publishes a transition event
// when it changes. Exposed so tests and platform hooks can drive state
// directly.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	kind := bus.KindNetOffline
	if online {
		kind = bus.KindNetOnline
	}
	if m.logger != nil {
		m.logger.Info("connectivity changed", zap.Bool("online", online))
	}
	m.bus.Publish(bus.Event{
		Kind:    kind,
		Payload: bus.StatusChange{Online: online},
	})
}

func (m *Monitor) loop(ctx context.Context) {
	m.SetOnline(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SetOnline(m.prober.Probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}
