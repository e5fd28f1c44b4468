// Package connectivity tracks whether the backend is reachable and notifies
// subscribers on every change.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/avanzando/mobilecore/internal/logging"
)

// ProbeFunc reports whether the backend answered.
type ProbeFunc func(ctx context.Context) bool

// Monitor implements sync.Notifier. State changes come from Set (platform
// reachability callbacks, manual override) or from the optional probe loop.
type Monitor struct {
	mu        sync.Mutex
	connected bool
	subs      map[int]func(bool)
	nextID    int

	// notifyMu keeps deliveries in the order the changes happened.
	notifyMu sync.Mutex

	probe    ProbeFunc
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		connected: initial,
		subs:      make(map[int]func(bool)),
	}
}

// WithProbe configures the probe loop run by Start.
func (m *Monitor) WithProbe(probe ProbeFunc, interval time.Duration) *Monitor {
	m.probe = probe
	m.interval = interval
	return m
}

// Subscribe implements sync.Notifier. fn is called once with the current
// state, then on every change. fn must not call Set.
func (m *Monitor) Subscribe(fn func(connected bool)) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	current := m.connected
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Connected returns the last known state.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Set records the connectivity state and notifies subscribers if it changed.
func (m *Monitor) Set(connected bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{
		"component": "connectivity",
		"connected": connected,
	})

	for _, fn := range subs {
		fn(connected)
	}
}

// Start runs the probe loop until Stop or ctx is done. Without a probe it
// does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.probe == nil || m.interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx, m.stopCh)
}

// Stop stops the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) probeLoop(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, m.interval)
		reachable := m.probe(probeCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}
		m.Set(reachable)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// HTTPProbe returns a ProbeFunc issuing GET url. Any answer below 500 counts
// as reachable; transport errors and 5xx do not.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < 500
	}
}
