package room

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager owns one Worker per table.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	opts    Options
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("room: engine is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("room: coordination store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Logger = opts.Logger.Named("room")
	return &Manager{workers: make(map[string]*Worker), opts: opts}, nil
}

// Get returns the table's worker, creating it on first use. Repeated calls
// return the same instance until Close.
func (m *Manager) Get(tableID string) *Worker {
	m.mu.RLock()
	w := m.workers[tableID]
	m.mu.RUnlock()
	if w != nil {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w = m.workers[tableID]; w != nil {
		return w
	}
	w = newWorker(tableID, m.opts)
	m.workers[tableID] = w
	m.opts.Metrics.setWorkers(len(m.workers))
	m.opts.Logger.Info("room worker started", zap.String("table_id", tableID), zap.Bool("follower", m.opts.Followers))
	return w
}

// Lookup returns the worker without creating one.
func (m *Manager) Lookup(tableID string) (*Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[tableID]
	return w, ok
}

// Close terminates the table's contexts and forgets the worker.
func (m *Manager) Close(tableID string) {
	m.mu.Lock()
	w := m.workers[tableID]
	delete(m.workers, tableID)
	m.opts.Metrics.setWorkers(len(m.workers))
	m.mu.Unlock()
	if w != nil {
		w.close()
		m.opts.Logger.Info("room worker closed", zap.String("table_id", tableID))
	}
}

func (m *Manager) CloseAll() {
	for _, id := range m.Tables() {
		m.Close(id)
	}
}

func (m *Manager) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Stats() []Stats {
	ids := m.Tables()
	out := make([]Stats, 0, len(ids))
	for _, id := range ids {
		if w, ok := m.Lookup(id); ok {
			out = append(out, w.Stats())
		}
	}
	return out
}
