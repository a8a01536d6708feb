package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

// MemoryLedger keeps orders and outbox events in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	orders  map[uuid.UUID]*memoryOrder
	seq     int64
	outbox  []*memoryEvent
	eventID int64
	now     func() time.Time
}

type memoryOrder struct {
	order *domain.Order
	seq   int64
}

type memoryEvent struct {
	event     *OutboxEvent
	processed bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders: make(map[uuid.UUID]*memoryOrder),
		now:    time.Now,
	}
}

func (m *MemoryLedger) Record(_ context.Context, order *domain.Order) (uuid.UUID, error) {
	if err := validateNew(order); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return uuid.Nil, ErrDuplicateOrder
	}
	stored := cloneOrder(order)
	if err := m.appendEvent(stored, stored.CreatedAt); err != nil {
		return uuid.Nil, err
	}
	m.seq++
	m.orders[order.ID] = &memoryOrder{order: stored, seq: m.seq}
	return order.ID, nil
}

func (m *MemoryLedger) UpdateStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus, posOrderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	current := entry.order
	if !domain.CanTransitionTo(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, status)
	}

	updated := cloneOrder(current)
	updated.Status = status
	if posOrderID != "" {
		updated.PosOrderID = posOrderID
	}
	updated.UpdatedAt = m.now()

	if err := m.appendEvent(updated, updated.UpdatedAt); err != nil {
		return nil, err
	}
	entry.order = updated
	return cloneOrder(updated), nil
}

func (m *MemoryLedger) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(entry.order), nil
}

func (m *MemoryLedger) ListByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	entries := m.filter(func(o *domain.Order) bool { return o.UserID == userID })
	sort.Slice(entries, func(i, j int) bool { return newer(entries[i], entries[j]) })
	return orders(entries), nil
}

func (m *MemoryLedger) ListUnresolved(_ context.Context, olderThan time.Time) ([]*domain.Order, error) {
	entries := m.filter(func(o *domain.Order) bool {
		return o.Status.IsUnresolved() && !o.CreatedAt.After(olderThan)
	})
	sort.Slice(entries, func(i, j int) bool { return newer(entries[j], entries[i]) })
	return orders(entries), nil
}

func (m *MemoryLedger) PendingForUser(_ context.Context, userID string) (*domain.Order, error) {
	entries := m.filter(func(o *domain.Order) bool {
		return o.UserID == userID && o.Status.IsUnresolved()
	})
	if len(entries) == 0 {
		return nil, ErrOrderNotFound
	}
	sort.Slice(entries, func(i, j int) bool { return newer(entries[i], entries[j]) })
	return cloneOrder(entries[0].order), nil
}

func (m *MemoryLedger) Stats(_ context.Context, since time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, entry := range m.orders {
		if entry.order.CreatedAt.Before(since) {
			continue
		}
		s.add(entry.order.Status, entry.order.Total)
	}
	return s, nil
}

func (m *MemoryLedger) UnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*OutboxEvent
	for _, e := range m.outbox {
		if len(out) >= limit {
			break
		}
		if !e.processed {
			c := *e.event
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryLedger) MarkEventProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.outbox {
		if e.event.ID == id {
			e.processed = true
			return nil
		}
	}
	return ErrEventNotFound
}

// appendEvent must be called with m.mu held.
func (m *MemoryLedger) appendEvent(order *domain.Order, at time.Time) error {
	event, err := newEvent(order, at)
	if err != nil {
		return err
	}
	m.eventID++
	event.ID = m.eventID
	m.outbox = append(m.outbox, &memoryEvent{event: event})
	return nil
}

func (m *MemoryLedger) filter(keep func(*domain.Order) bool) []*memoryOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*memoryOrder
	for _, entry := range m.orders {
		if keep(entry.order) {
			out = append(out, &memoryOrder{order: cloneOrder(entry.order), seq: entry.seq})
		}
	}
	return out
}

func newer(a, b *memoryOrder) bool {
	if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
		return a.order.CreatedAt.After(b.order.CreatedAt)
	}
	return a.seq > b.seq
}

func orders(entries []*memoryOrder) []*domain.Order {
	out := make([]*domain.Order, len(entries))
	for i, e := range entries {
		out[i] = e.order
	}
	return out
}
