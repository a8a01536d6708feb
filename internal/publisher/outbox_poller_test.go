package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/workflow"
)

type MockStore struct {
	mu        sync.Mutex
	events    []*ledger.OutboxEvent
	processed []int64
	fetchErr  error
	markErr   error
}

func (m *MockStore) UnprocessedEvents(_ context.Context, limit int) ([]*ledger.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []*ledger.OutboxEvent
	for _, ev := range m.events {
		if !m.isProcessed(ev.ID) && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MockStore) MarkEventProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.processed = append(m.processed, id)
	return nil
}

func (m *MockStore) isProcessed(id int64) bool {
	for _, p := range m.processed {
		if p == id {
			return true
		}
	}
	return false
}

func (m *MockStore) processedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.processed...)
}

type MockSink struct {
	mu        sync.Mutex
	published []*ledger.OutboxEvent
	failOn    int64
}

func (m *MockSink) Publish(_ context.Context, event *ledger.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == m.failOn {
		return errors.New("broker unavailable")
	}
	m.published = append(m.published, event)
	return nil
}

func (m *MockSink) Close() error { return nil }

type MockReconciler struct {
	mu     sync.Mutex
	calls  int
	grace  time.Duration
	report workflow.ReconcileReport
	err    error
}

func (m *MockReconciler) Reconcile(_ context.Context, grace time.Duration) (workflow.ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.grace = grace
	return m.report, m.err
}

func (m *MockReconciler) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func events(ids ...int64) []*ledger.OutboxEvent {
	out := make([]*ledger.OutboxEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, &ledger.OutboxEvent{
			ID:          id,
			AggregateID: "order-1",
			EventType:   ledger.EventOrderCreated,
			Payload:     []byte(`{"order_id":"order-1"}`),
			CreatedAt:   time.Now(),
		})
	}
	return out
}

func TestProcessUnpublishedEvents(t *testing.T) {
	store := &MockStore{events: events(1, 2, 3)}
	sink := &MockSink{}
	p := NewOutboxPoller(store, sink, nil, Options{}, nil)

	n := p.processUnpublishedEvents(context.Background())

	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, store.processedIDs())
	assert.Len(t, sink.published, 3)
	assert.Zero(t, p.processUnpublishedEvents(context.Background()))
}

func TestProcessUnpublishedEvents_StopsAtFirstFailure(t *testing.T) {
	store := &MockStore{events: events(1, 2, 3)}
	sink := &MockSink{failOn: 2}
	p := NewOutboxPoller(store, sink, nil, Options{}, nil)

	n := p.processUnpublishedEvents(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.processedIDs())

	sink.failOn = 0
	n = p.processUnpublishedEvents(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, store.processedIDs())
}

func TestProcessUnpublishedEvents_StoreErrors(t *testing.T) {
	store := &MockStore{events: events(1), fetchErr: errors.New("db down")}
	sink := &MockSink{}
	p := NewOutboxPoller(store, sink, nil, Options{}, nil)

	assert.Zero(t, p.processUnpublishedEvents(context.Background()))
	assert.Empty(t, sink.published)

	store.fetchErr = nil
	store.markErr = errors.New("db down")
	assert.Zero(t, p.processUnpublishedEvents(context.Background()))
	assert.Len(t, sink.published, 1, "published but not marked, delivered again later")
}

func TestProcessUnpublishedEvents_RespectsBatchSize(t *testing.T) {
	store := &MockStore{events: events(1, 2, 3, 4, 5)}
	p := NewOutboxPoller(store, &MockSink{}, nil, Options{BatchSize: 2}, nil)

	assert.Equal(t, 2, p.processUnpublishedEvents(context.Background()))
}

func TestRun_PublishesAndReconciles(t *testing.T) {
	store := &MockStore{events: events(1, 2)}
	sink := &MockSink{}
	reconciler := &MockReconciler{report: workflow.ReconcileReport{Checked: 1, Confirmed: 1}}
	p := NewOutboxPoller(store, sink, reconciler, Options{
		EventTick:      5 * time.Millisecond,
		RecoveryTick:   10 * time.Millisecond,
		ReconcileGrace: 2 * time.Minute,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.processedIDs()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return reconciler.callCount() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	reconciler.mu.Lock()
	assert.Equal(t, 2*time.Minute, reconciler.grace)
	reconciler.mu.Unlock()
}

func TestReconcile_ErrorIsLogged(t *testing.T) {
	reconciler := &MockReconciler{err: errors.New("ledger down")}
	p := NewOutboxPoller(&MockStore{}, &MockSink{}, reconciler, Options{}, nil)

	p.reconcile(context.Background())

	assert.Equal(t, 1, reconciler.callCount())
}

func TestPoller_WithMemoryLedger(t *testing.T) {
	ctx := context.Background()
	orders := ledger.NewMemoryLedger()
	order := domain.NewOrder("u1", []domain.OrderLine{{ProductID: "A", Name: "Margherita", Quantity: 1}}, time.Now())
	_, err := orders.Record(ctx, order)
	require.NoError(t, err)
	_, err = orders.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed, "X")
	require.NoError(t, err)

	sink := &MockSink{}
	p := NewOutboxPoller(orders, sink, nil, Options{}, nil)

	assert.Equal(t, 2, p.processUnpublishedEvents(ctx))
	require.Len(t, sink.published, 2)
	assert.Equal(t, ledger.EventOrderCreated, sink.published[0].EventType)
	assert.Equal(t, ledger.EventOrderConfirmed, sink.published[1].EventType)
	assert.Equal(t, order.ID.String(), sink.published[1].AggregateID)

	pending, err := orders.UnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
