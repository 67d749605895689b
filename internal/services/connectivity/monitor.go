package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a plain function, e.g. a pgx pool Ping.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// Monitor periodically runs a probe and publishes online/offline changes to
// subscribers. A slow subscriber loses older changes but always keeps the last
// two, so a false->true edge is never lost.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration

	triggerCh chan struct{}

	mu     sync.Mutex
	subs   []chan bool
	known  bool
	online bool

	startedAtUnixNano   int64
	lastCheckUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	lastChangeUnixNano  atomic.Int64
	totalChecks         atomic.Int64
	totalFailures       atomic.Int64
	transitions         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(probe Probe) *Monitor {
	return &Monitor{
		probe:             probe,
		interval:          5 * time.Second,
		timeout:           2 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (m *Monitor) WithSettings(interval, timeout time.Duration) *Monitor {
	if interval > 0 {
		m.interval = interval
	}
	if timeout > 0 {
		m.timeout = timeout
	}
	return m
}

// Subscribe returns a channel carrying connectivity changes. If the state is
// already known it is delivered immediately.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 2)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	if m.known {
		ch <- m.online
	}
	m.mu.Unlock()
	return ch
}

// Trigger forces an immediate check (best-effort, non-blocking).
func (m *Monitor) Trigger() {
	m.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	Online        bool       `json:"online"`
	LastCheckAt   *time.Time `json:"lastCheckAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	LastChangeAt  *time.Time `json:"lastChangeAt,omitempty"`
	TotalChecks   int64      `json:"totalChecks"`
	TotalFailures int64      `json:"totalFailures"`
	Transitions   int64      `json:"transitions"`
	LastError     string     `json:"lastError,omitempty"`
}

func (m *Monitor) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, m.startedAtUnixNano).UTC(),
		Online:        m.Online(),
		TotalChecks:   m.totalChecks.Load(),
		TotalFailures: m.totalFailures.Load(),
		Transitions:   m.transitions.Load(),
	}
	st.LastCheckAt = unixNanoPtr(m.lastCheckUnixNano.Load())
	st.LastTriggerAt = unixNanoPtr(m.lastTriggerUnixNano.Load())
	st.LastChangeAt = unixNanoPtr(m.lastChangeUnixNano.Load())
	m.lastErrorMu.Lock()
	st.LastError = m.lastError
	m.lastErrorMu.Unlock()
	return st
}

// Run checks once right away, then on every tick or trigger. Subscriber
// channels are closed when Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.closeSubs()

	m.CheckOnce(ctx)

	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.CheckOnce(ctx)
		case <-m.triggerCh:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs the probe and publishes the result if it changed.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	m.lastCheckUnixNano.Store(time.Now().UTC().UnixNano())
	m.totalChecks.Add(1)

	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe.Check(checkCtx)
	cancel()

	online := err == nil
	if err != nil {
		m.totalFailures.Add(1)
		m.lastErrorMu.Lock()
		m.lastError = err.Error()
		m.lastErrorMu.Unlock()
	}

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	if changed {
		for _, ch := range m.subs {
			publishLatest(ch, online)
		}
	}
	m.mu.Unlock()

	if changed {
		m.transitions.Add(1)
		m.lastChangeUnixNano.Store(time.Now().UTC().UnixNano())
		if online {
			slog.Info("connectivity restored")
		} else {
			slog.Warn("connectivity lost", "error", err.Error())
		}
	}
	return online
}

func (m *Monitor) closeSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// publishLatest выкидывает самое старое непрочитанное значение, чтобы не блокировать монитор.
func publishLatest(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func unixNanoPtr(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}
