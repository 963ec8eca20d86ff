// Package netmon tracks connectivity for the sync engine.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"shopsync/internal/util"

	"go.uber.org/zap"
)

// Status is the monitor's view of the network.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	}
	return "unknown"
}

// Prober checks liveness against the server. It must return nil only when
// the server actually answered; platform connectivity flags alone go stale.
type Prober func(ctx context.Context) error

// HTTPProber probes a health URL with a short timeout.
func HTTPProber(client *http.Client, url string) Prober {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// Monitor holds the Unknown -> Online <-> Offline state machine. The
// offline->online edge is latched into a buffered channel: a transition
// that happens while the engine is busy is delivered on its next receive,
// and a stable connection never re-fires.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	status Status

	online chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// New creates a monitor. probe may be nil when only platform events feed
// the monitor (tests, embedded use).
func New(probe Prober, interval time.Duration) *Monitor {
	return &Monitor{
		prober:   probe,
		interval: interval,
		logger:   util.NamedLogger("netmon"),
		status:   StatusUnknown,
		online:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start runs the periodic liveness probe until Stop or ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval/2)
	defer cancel()
	m.SetOnline(m.prober(probeCtx) == nil)
}

// Status returns the current connectivity state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsOnline reports whether the last signal said the server is reachable.
func (m *Monitor) IsOnline() bool {
	return m.Status() == StatusOnline
}

// SetOnline feeds a connectivity signal from platform events or the probe.
// Only the offline(/unknown)->online edge fires the latched channel.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	prev := m.status
	next := StatusOffline
	if online {
		next = StatusOnline
	}
	m.status = next
	m.mu.Unlock()

	if prev == next {
		return
	}
	util.OnlineTransitionsTotal.WithLabelValues(next.String()).Inc()
	m.logger.Info("Connectivity transition",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))

	if next == StatusOnline {
		select {
		case m.online <- struct{}{}:
		default: // already latched
		}
	}
}

// Online is the edge-triggered signal the orchestrator drains to kick off
// a sync pass.
func (m *Monitor) Online() <-chan struct{} {
	return m.online
}
