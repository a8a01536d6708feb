package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/pos"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type CartStore interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type POS interface {
	SubmitOrder(ctx context.Context, order *domain.Order) (string, error)
	OrderStatus(ctx context.Context, orderID uuid.UUID) (pos.RemoteStatus, error)
}

type Ledger interface {
	Record(ctx context.Context, order *domain.Order) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, posOrderID string) (*domain.Order, error)
	PendingForUser(ctx context.Context, userID string) (*domain.Order, error)
	ListUnresolved(ctx context.Context, olderThan time.Time) ([]*domain.Order, error)
}

type Options struct {
	// SubmitTimeout bounds the wait for the POS answer to an order submission.
	SubmitTimeout time.Duration
	// FinishTimeout bounds the ledger write that records the POS answer.
	FinishTimeout time.Duration
}

// Engine drives every user's ordering workflow. Calls for one user are
// serialized; different users proceed in parallel.
type Engine struct {
	carts  CartStore
	pos    POS
	ledger Ledger
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewEngine(carts CartStore, posClient POS, orders Ledger, opts Options, log *slog.Logger) *Engine {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 30 * time.Second
	}
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		carts:    carts,
		pos:      posClient,
		ledger:   orders,
		opts:     opts,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// lock returns the user's session with its lock held. The session stays in
// the map while anyone holds or waits for it.
func (e *Engine) lock(ctx context.Context, userID string) (*session, error) {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	if !ok {
		s = newSession()
		e.sessions[userID] = s
	}
	s.refs++
	e.mu.Unlock()

	if err := s.acquire(ctx); err != nil {
		e.drop(userID, s)
		return nil, err
	}
	return s, nil
}

// tryLock is lock without waiting. It reports false when another call holds
// the user's session.
func (e *Engine) tryLock(userID string) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[userID]
	if !ok {
		s = newSession()
		e.sessions[userID] = s
	}
	if !s.tryAcquire() {
		return nil, false
	}
	s.refs++
	return s, true
}

func (e *Engine) unlock(userID string, s *session) {
	s.release()
	e.drop(userID, s)
}

// drop forgets an idle session once its last holder is gone. An idle session
// carries nothing a fresh one would not.
func (e *Engine) drop(userID string, s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.refs--
	if s.refs == 0 && s.get() == StateIdle {
		delete(e.sessions, userID)
	}
}

// pruneSessions forgets sessions left in Completed with no holders. The next
// call for such a user starts from Idle, which is where Completed leads.
func (e *Engine) pruneSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for userID, s := range e.sessions {
		if st := s.get(); s.refs == 0 && (st == StateIdle || st == StateCompleted) {
			delete(e.sessions, userID)
			n++
		}
	}
	return n
}

func (e *Engine) sessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// State reports the user's workflow state without waiting for running calls.
func (e *Engine) State(userID string) State {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return s.get()
}

func (e *Engine) Cart(ctx context.Context, userID string) (*domain.Cart, error) {
	c, err := e.carts.Get(ctx, userID)
	if err != nil {
		return nil, e.surface(ctx, "get cart", userID, err)
	}
	return c, nil
}

func (e *Engine) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	s, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(userID, s)

	c, err := e.carts.AddItem(ctx, userID, productID, quantity)
	if err != nil {
		return nil, e.surface(ctx, "add item", userID, err)
	}
	s.edit(c)
	return c, nil
}

func (e *Engine) RemoveItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	s, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(userID, s)

	c, err := e.carts.RemoveItem(ctx, userID, productID, quantity)
	if err != nil {
		return nil, e.surface(ctx, "remove item", userID, err)
	}
	s.edit(c)
	return c, nil
}

func (e *Engine) ClearCart(ctx context.Context, userID string) error {
	s, err := e.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer e.unlock(userID, s)

	if err := e.carts.Clear(ctx, userID); err != nil {
		return e.surface(ctx, "clear cart", userID, err)
	}
	s.quote = nil
	s.set(StateIdle)
	return nil
}

// Checkout freezes the cart into a quote and waits for confirmation. An empty
// cart is rejected and the state does not change.
func (e *Engine) Checkout(ctx context.Context, userID string) (*Quote, error) {
	s, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(userID, s)

	c, err := e.carts.Get(ctx, userID)
	if err != nil {
		return nil, e.surface(ctx, "checkout", userID, err)
	}
	if c.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	s.quote = newQuote(c, e.now())
	s.set(StateAwaitingConfirmation)
	return s.quote.clone(), nil
}

// Cancel discards the pending confirmation. The cart is left unchanged.
func (e *Engine) Cancel(ctx context.Context, userID string) error {
	s, err := e.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer e.unlock(userID, s)

	switch s.get() {
	case StateAwaitingConfirmation, StateFailed:
		s.quote = nil
		s.set(StateBuilding)
		return nil
	default:
		return ErrNothingToCancel
	}
}

// Confirm submits the quoted order to the POS.
//
// The order is recorded as CREATED before the POS is called. Once the request
// is on its way the caller's cancellation no longer applies: the engine waits
// for the POS answer so that every order ends up resolved in the ledger. On a
// definite failure the order is FAILED, the cart stays and Confirm may be
// called again, which records a new order. When the outcome is unknown the
// order stays CREATED and further confirmations are rejected with
// ErrOrderPending until Reconcile resolves it.
func (e *Engine) Confirm(ctx context.Context, userID string) (*domain.Order, error) {
	s, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(userID, s)

	if st := s.get(); (st != StateAwaitingConfirmation && st != StateFailed) || s.quote == nil {
		return nil, ErrNothingToConfirm
	}
	log := e.log.With(slog.String("user_id", userID))

	pending, err := e.ledger.PendingForUser(ctx, userID)
	switch {
	case err == nil:
		log.InfoContext(ctx, "confirm rejected, previous order unresolved", slog.String("order_id", pending.ID.String()))
		return nil, ErrOrderPending
	case !errors.Is(err, ledger.ErrOrderNotFound):
		return nil, e.surface(ctx, "check pending orders", userID, err)
	}

	if err := ctx.Err(); err != nil {
		e.abort(s)
		return nil, err
	}

	s.set(StateSubmitting)
	order := domain.NewOrder(userID, s.quote.Lines, e.now())
	if _, err := e.ledger.Record(ctx, order); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.abort(s)
			return nil, ctxErr
		}
		s.set(StateAwaitingConfirmation)
		return nil, e.surface(ctx, "record order", userID, err)
	}
	log = log.With(slog.String("order_id", order.ID.String()))

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.SubmitTimeout)
	defer cancel()

	posOrderID, err := e.pos.SubmitOrder(submitCtx, order)

	// The outcome must reach the ledger even if the caller has gone away.
	finishCtx, finish := context.WithTimeout(context.WithoutCancel(ctx), e.opts.FinishTimeout)
	defer finish()

	var timeoutErr *pos.TimeoutError
	switch {
	case err == nil:
		return e.complete(finishCtx, s, order, posOrderID, log), nil

	case errors.As(err, &timeoutErr):
		log.WarnContext(ctx, "order outcome unknown, left for reconciliation", slog.Any("err", err))
		s.set(StateAwaitingConfirmation)
		return nil, ErrOutcomeUnknown

	default:
		log.ErrorContext(ctx, "order submission failed", slog.Any("err", err))
		failed, updErr := e.ledger.UpdateStatus(finishCtx, order.ID, domain.OrderStatusFailed, "")
		if updErr != nil {
			log.ErrorContext(ctx, "mark order failed", slog.Any("err", updErr))
			failed = order
		}
		s.set(StateFailed)
		return failed, ErrServiceUnavailable
	}
}

func (e *Engine) complete(ctx context.Context, s *session, order *domain.Order, posOrderID string, log *slog.Logger) *domain.Order {
	confirmed, err := e.ledger.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed, posOrderID)
	if err != nil {
		// The POS has the order. Reconciliation moves the ledger row later.
		log.ErrorContext(ctx, "mark order confirmed", slog.Any("err", err))
		confirmed = order
		confirmed.Status = domain.OrderStatusConfirmed
		confirmed.PosOrderID = posOrderID
	}

	if err := e.carts.Clear(ctx, order.UserID); err != nil {
		log.ErrorContext(ctx, "clear cart after confirmed order", slog.Any("err", err))
	}
	s.quote = nil
	s.set(StateCompleted)

	log.InfoContext(ctx, "order confirmed",
		slog.String("pos_order_id", posOrderID),
		slog.String("total", confirmed.Total.String()))
	return confirmed
}

// abort returns a cancelled confirmation to editing. The cart is untouched.
func (e *Engine) abort(s *session) {
	s.quote = nil
	s.set(StateBuilding)
}

// surface keeps caller and context errors and hides everything else behind
// ErrServiceUnavailable after logging it.
func (e *Engine) surface(ctx context.Context, op, userID string, err error) error {
	if IsCallerError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	e.log.ErrorContext(ctx, op+" failed", slog.String("user_id", userID), slog.Any("err", err))
	return ErrServiceUnavailable
}
