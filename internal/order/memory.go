package order

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// MemoryStore keeps orders in process memory. It backs tests and the
// STORE_DRIVER=memory configuration; a restart loses all pending orders.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*Order
	locks  map[uuid.UUID]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[uuid.UUID]*Order),
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MemoryStore) lockFor(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryStore) Create(_ context.Context, ord *Order) error {
	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	cp := *ord

	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[ord.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ord, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *ord
	return &cp, nil
}

func (m *MemoryStore) GetByCheckoutReference(_ context.Context, ref string) (*Order, error) {
	if ref == "" {
		return nil, ErrOrderNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ord := range m.orders {
		if ord.CheckoutReference == ref {
			cp := *ord
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *MemoryStore) UpdateAtomic(_ context.Context, id uuid.UUID, mutate func(*Order) error) (*Order, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	ord, ok := m.orders[id]
	var cp Order
	if ok {
		cp = *ord
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}

	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	m.orders[id] = &cp
	m.mu.Unlock()

	result := cp
	return &result, nil
}

func (m *MemoryStore) ListStaleAwaitingPayment(_ context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for id, ord := range m.orders {
		if ord.Status == StatusAwaitingPayment && ord.CreatedAt.Before(olderThan) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
