package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bariqhq/bariq/internal/pagination"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	txns map[string]*Transaction
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txns: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string, f ListFilter) ([]*Transaction, error) {
	return m.list(func(t *Transaction) bool { return t.CustomerID == customerID }, f)
}

func (m *MemoryStore) ListByMerchant(ctx context.Context, merchantID string, f ListFilter) ([]*Transaction, error) {
	return m.list(func(t *Transaction) bool { return t.MerchantID == merchantID }, f)
}

// list returns matching transactions newest first, applying the filter's
// state, cursor and limit the way the SQL store does.
func (m *MemoryStore) list(match func(*Transaction) bool, f ListFilter) ([]*Transaction, error) {
	cursor, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txns {
		if !match(t) {
			continue
		}
		if f.State != "" && t.State != f.State {
			continue
		}
		if cursor != nil {
			if t.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if t.CreatedAt.Equal(cursor.CreatedAt) && t.ID >= cursor.ID {
				continue
			}
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListEligible(ctx context.Context, customerID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txns {
		if t.CustomerID == customerID && t.PayEligible() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DueDate, out[j].DueDate
		if di != nil && dj != nil && !di.Equal(*dj) {
			return di.Before(*dj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	return m.listConfirmedDue(func(due time.Time) bool { return due.Before(cutoff) }, limit)
}

func (m *MemoryStore) ListDueBetween(ctx context.Context, from, to time.Time, limit int) ([]*Transaction, error) {
	return m.listConfirmedDue(func(due time.Time) bool {
		return !due.Before(from) && due.Before(to)
	}, limit)
}

func (m *MemoryStore) listConfirmedDue(match func(time.Time) bool, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txns {
		if t.State != StateConfirmed || t.DueDate == nil || !match(*t.DueDate) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(*out[j].DueDate) {
			return out[i].DueDate.Before(*out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListSettleable(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txns {
		if t.MerchantID != merchantID || t.SettlementID != "" {
			continue
		}
		if t.State != StatePaid && t.State != StateReturned {
			continue
		}
		if t.TerminalAt == nil || t.TerminalAt.Before(periodStart) || !t.TerminalAt.Before(periodEnd) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) MerchantsWithSettleable(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for _, t := range m.txns {
		if t.SettlementID != "" || (t.State != StatePaid && t.State != StateReturned) {
			continue
		}
		if t.TerminalAt == nil || !t.TerminalAt.Before(cutoff) {
			continue
		}
		seen[t.MerchantID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) LinkSettlement(ctx context.Context, transactionIDs []string, settlementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range transactionIDs {
		t, ok := m.txns[id]
		if !ok {
			return ErrTransactionNotFound
		}
		t.SettlementID = settlementID
	}
	return nil
}
