package settlement

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*Batch
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]*Batch)}
}

func copyBatch(b *Batch) *Batch {
	cp := *b
	cp.TransactionIDs = append([]string(nil), b.TransactionIDs...)
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return copyBatch(b), nil
}

func (m *MemoryStore) Update(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return ErrBatchNotFound
	}
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; !ok {
		return ErrBatchNotFound
	}
	delete(m.batches, id)
	return nil
}

func (m *MemoryStore) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*Batch, error) {
	return m.collect(func(b *Batch) bool { return b.MerchantID == merchantID }, limit), nil
}

func (m *MemoryStore) ListByState(ctx context.Context, state State, limit int) ([]*Batch, error) {
	return m.collect(func(b *Batch) bool { return b.State == state }, limit), nil
}

func (m *MemoryStore) collect(match func(*Batch) bool, limit int) []*Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Batch
	for _, b := range m.batches {
		if match(b) {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
