package reachability

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/milan604/netkit/pkg/logger"
)

// DefaultInterval is how often the probe runs.
const DefaultInterval = 2 * time.Second

// Monitor polls a Probe and publishes de-duplicated status changes. It satisfies
// retry.Signal through Reachable.
type Monitor struct {
	mu       sync.Mutex
	status   Status
	pulse    chan struct{}
	subs     map[int]chan Status
	nextSub  int
	allowed  []InterfaceType
	probe    Probe
	interval time.Duration
	log      logger.LogManager

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbe replaces the interface probe.
func WithProbe(p Probe) Option { return func(m *Monitor) { m.probe = p } }

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

// WithLogger sets the monitor's logger.
func WithLogger(l logger.LogManager) Option { return func(m *Monitor) { m.log = l } }

// New creates a stopped Monitor reporting Unreachable until the first probe.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		pulse:    make(chan struct{}),
		subs:     map[int]chan Status{},
		probe:    InterfaceProbe{},
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	m.log = logger.OrNop(m.log).Named("reachability")
	return m
}

// Start begins probing in the background. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go m.run(ctx, done)
}

// Stop ends probing and waits for the background goroutine. The last status is kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	m.mu.Lock()
	allowed := slices.Clone(m.allowed)
	m.mu.Unlock()

	s, err := m.probe.Probe(ctx, allowed)
	if err != nil {
		m.log.WarnF("probe failed: %v", err)
		s = Unreachable
	}
	m.Update(s)
}

// Update publishes s unless it equals the current status. A reachable status closes the
// current Reachable channel.
func (m *Monitor) Update(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == m.status {
		return
	}
	m.log.InfoF("status %s -> %s", m.status, s)
	m.status = s
	for _, ch := range m.subs {
		sendLatest(ch, s)
	}
	if s.Reachable {
		close(m.pulse)
		m.pulse = make(chan struct{})
	}
}

// Status returns the last published status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Reachable returns a channel closed the next time the status becomes reachable.
func (m *Monitor) Reachable() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulse
}

// Subscribe returns a channel that receives the current status and then every change. Slow
// readers only see the latest status. Call cancel to release the subscription.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.status
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// SetInterfaceTypes restricts which interface types count as reachable from the next probe
// on. No types restores the default (all but loopback).
func (m *Monitor) SetInterfaceTypes(types ...InterfaceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(types) == 0 {
		m.allowed = nil
		return
	}
	m.allowed = slices.Clone(types)
}

func sendLatest(ch chan Status, s Status) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
