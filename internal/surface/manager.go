// Package surface arbitrates the single confirmation surface shared by every
// request ledger. It only counts; it never sees payloads.
package surface

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Handle string

// Host opens and closes the actual prompt surface (window, terminal banner).
type Host interface {
	Open(ctx context.Context) (Handle, error)
	Close(h Handle) error
	IsOpen(h Handle) bool
	Focus(h Handle) error
}

// Badge shows the pending count somewhere outside the surface.
type Badge interface {
	SetPendingCount(n int)
}

type Counter interface {
	Count() int
}

type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

type Status struct {
	State   State  `json:"state"`
	Pending int    `json:"pending"`
	Handle  Handle `json:"handle,omitempty"`
}

type Manager struct {
	host  Host
	badge Badge

	mu       sync.Mutex
	counters []Counter
	state    State
	handle   Handle

	feed event.Feed
}

func NewManager(host Host, badge Badge) *Manager {
	return &Manager{
		host:  host,
		badge: badge,
		state: StateClosed,
	}
}

// Register adds a ledger to the aggregate count.
func (m *Manager) Register(counters ...Counter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, counters...)
}

func (m *Manager) totalLocked() int {
	n := 0
	for _, c := range m.counters {
		n += c.Count()
	}
	return n
}

// EnsureOpen opens the surface, or focuses it when one is already open.
func (m *Manager) EnsureOpen() {
	m.mu.Lock()
	total := m.totalLocked()
	m.setBadge(total)

	if total == 0 {
		m.mu.Unlock()
		return
	}

	if m.state == StateOpen && m.host.IsOpen(m.handle) {
		if err := m.host.Focus(m.handle); err != nil {
			log.Warn("focus prompt surface", "handle", m.handle, "error", err)
		}
		status := m.statusLocked(total)
		m.mu.Unlock()
		m.feed.Send(status)
		return
	}

	h, err := m.host.Open(context.Background())
	if err != nil {
		// stay closed; the next enqueue retries
		log.Error("open prompt surface", "error", err)
		m.state = StateClosed
		m.handle = ""
		status := m.statusLocked(total)
		m.mu.Unlock()
		m.feed.Send(status)
		return
	}
	m.state = StateOpen
	m.handle = h
	log.Info("prompt surface opened", "handle", h, "pending", total)

	status := m.statusLocked(total)
	m.mu.Unlock()
	m.feed.Send(status)
}

// OnLedgerDrained closes the surface once nothing is pending anywhere.
func (m *Manager) OnLedgerDrained() {
	m.mu.Lock()
	total := m.totalLocked()
	m.setBadge(total)

	if total == 0 && m.state == StateOpen {
		if err := m.host.Close(m.handle); err != nil {
			log.Warn("close prompt surface", "handle", m.handle, "error", err)
		}
		log.Info("prompt surface closed", "handle", m.handle)
		m.state = StateClosed
		m.handle = ""
	}

	status := m.statusLocked(total)
	m.mu.Unlock()
	m.feed.Send(status)
}

// HostClosed records that the user dismissed the surface outside our control.
// Pending entries stay pending; the next EnsureOpen reopens it.
func (m *Manager) HostClosed(h Handle) {
	m.mu.Lock()
	if m.handle != h || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.handle = ""
	status := m.statusLocked(m.totalLocked())
	m.mu.Unlock()

	log.Info("prompt surface dismissed", "handle", h)
	m.feed.Send(status)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(m.totalLocked())
}

func (m *Manager) statusLocked(total int) Status {
	return Status{State: m.state, Pending: total, Handle: m.handle}
}

func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

func (m *Manager) SubscribeStatus(ch chan<- Status) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *Manager) setBadge(n int) {
	if m.badge != nil {
		m.badge.SetPendingCount(n)
	}
}
