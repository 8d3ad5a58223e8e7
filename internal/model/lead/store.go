package lead

import (
	"context"
	"sync"
)

// Store persists captured leads.
type Store interface {
	SaveLead(ctx context.Context, l Lead) error
	ListLeads(ctx context.Context, limit int) ([]Lead, error)
}

// MemoryStore keeps leads in process memory, newest last.
type MemoryStore struct {
	mu    sync.RWMutex
	leads []Lead
}

// NewMemoryStore creates an empty in-memory lead store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveLead appends l.
func (s *MemoryStore) SaveLead(_ context.Context, l Lead) error {
	s.mu.Lock()
	s.leads = append(s.leads, l)
	s.mu.Unlock()
	return nil
}

// ListLeads returns up to limit leads, newest first. A non-positive limit returns all.
func (s *MemoryStore) ListLeads(_ context.Context, limit int) ([]Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.leads)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Lead, 0, n)
	for i := len(s.leads) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.leads[i])
	}
	return out, nil
}
