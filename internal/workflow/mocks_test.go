package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/ordering-service/internal/cart"
	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/menu"
	"github.com/fjod/go_cart/ordering-service/internal/pos"
)

type MenuMock struct {
	snap *domain.MenuSnapshot
	err  error
}

func (m *MenuMock) GetMenu(context.Context, time.Duration) (menu.Result, error) {
	if m.err != nil {
		return menu.Result{}, m.err
	}
	return menu.Result{Snapshot: m.snap}, nil
}

func newMenuMock() *MenuMock {
	return &MenuMock{snap: domain.NewMenuSnapshot(
		[]domain.Category{{ID: "main", Name: "Main"}},
		[]domain.Product{
			{ID: "A", Name: "Margherita", Price: decimal.NewFromInt(250), CategoryID: "main"},
			{ID: "B", Name: "Lemonade", Price: decimal.NewFromInt(180), CategoryID: "main"},
		}, 1, time.Now())}
}

type POSMock struct {
	mu       sync.Mutex
	submits  []*domain.Order
	lookups  int
	submitFn func(ctx context.Context, order *domain.Order) (string, error)
	statusFn func(ctx context.Context, id uuid.UUID) (pos.RemoteStatus, error)
}

func (m *POSMock) SubmitOrder(ctx context.Context, order *domain.Order) (string, error) {
	m.mu.Lock()
	m.submits = append(m.submits, order)
	fn := m.submitFn
	m.mu.Unlock()

	if fn == nil {
		return "X", nil
	}
	return fn(ctx, order)
}

func (m *POSMock) OrderStatus(ctx context.Context, id uuid.UUID) (pos.RemoteStatus, error) {
	m.mu.Lock()
	m.lookups++
	fn := m.statusFn
	m.mu.Unlock()

	if fn == nil {
		return pos.RemoteStatus{State: pos.RemoteNotFound}, nil
	}
	return fn(ctx, id)
}

func (m *POSMock) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits)
}

func (m *POSMock) setSubmit(fn func(ctx context.Context, order *domain.Order) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitFn = fn
}

func (m *POSMock) setStatus(fn func(ctx context.Context, id uuid.UUID) (pos.RemoteStatus, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusFn = fn
}

// FailingLedger wraps a ledger and fails Record on demand.
type FailingLedger struct {
	*ledger.MemoryLedger
	recordErr error
}

func (f *FailingLedger) Record(ctx context.Context, order *domain.Order) (uuid.UUID, error) {
	if f.recordErr != nil {
		return uuid.Nil, f.recordErr
	}
	return f.MemoryLedger.Record(ctx, order)
}

var errUpstream = &pos.UpstreamError{Op: "submit order", StatusCode: 500, Err: errors.New("internal")}

type testEnv struct {
	engine *Engine
	carts  *cart.Service
	menu   *MenuMock
	pos    *POSMock
	ledger *FailingLedger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	menuMock := newMenuMock()
	carts := cart.NewService(cart.NewMemoryRepository(), nil, menuMock, time.Minute, nil)
	posMock := &POSMock{}
	orders := &FailingLedger{MemoryLedger: ledger.NewMemoryLedger()}
	return &testEnv{
		engine: NewEngine(carts, posMock, orders, Options{SubmitTimeout: 5 * time.Second}, nil),
		carts:  carts,
		menu:   menuMock,
		pos:    posMock,
		ledger: orders,
	}
}
