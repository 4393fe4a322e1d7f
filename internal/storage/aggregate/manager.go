package aggregate

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the service.
const (
	OpGetSeries = "get_series"
	OpFetch     = "fetch"
	OpWrite     = "write"
	OpAssemble  = "assemble"
)

// Manager holds one Latency per operation name, created on first use.
type Manager struct {
	mu       sync.RWMutex
	accuracy float64
	ops      map[string]*Latency
}

// NewManager creates an empty manager.
func NewManager(accuracy float64) *Manager {
	return &Manager{
		accuracy: accuracy,
		ops:      make(map[string]*Latency),
	}
}

// Observe records d under op.
func (m *Manager) Observe(op string, d time.Duration) {
	m.get(op).Observe(d)
}

// Since records the time elapsed since start under op.
func (m *Manager) Since(op string, start time.Time) {
	m.Observe(op, time.Since(start))
}

func (m *Manager) get(op string) *Latency {
	m.mu.RLock()
	l, ok := m.ops[op]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.ops[op]; !ok {
		l = NewLatency(m.accuracy)
		m.ops[op] = l
	}
	return l
}

// Snapshot returns a summary per operation.
func (m *Manager) Snapshot() map[string]Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Summary, len(m.ops))
	for op, l := range m.ops {
		out[op] = l.Summary()
	}
	return out
}

// Operations lists the operations seen so far, sorted.
func (m *Manager) Operations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]string, 0, len(m.ops))
	for op := range m.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Reset clears every operation.
func (m *Manager) Reset() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.ops {
		l.Reset()
	}
}
