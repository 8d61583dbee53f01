package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory credit store for demo/development mode.
type MemoryStore struct {
	profiles map[string]*Profile
	entries  map[string][]*Entry // customerID -> journal
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory credit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Profile),
		entries:  make(map[string][]*Entry),
	}
}

func (m *MemoryStore) CreateProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.CustomerID]; ok {
		return ErrCustomerExists
	}
	cp := *p
	m.profiles[p.CustomerID] = &cp
	return nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, customerID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[customerID]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	// Return a copy to prevent races on the shared pointer
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.CustomerID]; !ok {
		return ErrCustomerNotFound
	}
	cp := *p
	m.profiles[p.CustomerID] = &cp
	return nil
}

func (m *MemoryStore) AppendEntry(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.entries[e.CustomerID] = append(m.entries[e.CustomerID], &cp)
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, customerID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[customerID]
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	result := make([]*Entry, 0, len(sorted))
	for _, e := range sorted {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
