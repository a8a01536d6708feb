package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

type State uint32

const (
	StateIdle State = iota
	StateBuilding
	StateAwaitingConfirmation
	StateSubmitting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateSubmitting:
		return "submitting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Quote is the frozen copy of the cart a user is asked to confirm. It is
// decoupled from the live cart.
type Quote struct {
	Lines     []domain.OrderLine `json:"lines"`
	Total     decimal.Decimal    `json:"total"`
	CreatedAt time.Time          `json:"created_at"`
}

func newQuote(c *domain.Cart, now time.Time) *Quote {
	return &Quote{Lines: domain.LinesFromCart(c), Total: c.Total(), CreatedAt: now}
}

func (q *Quote) clone() *Quote {
	if q == nil {
		return nil
	}
	c := *q
	c.Lines = append([]domain.OrderLine(nil), q.Lines...)
	return &c
}

// session is one user's workflow instance. The lock is a one-slot channel so
// a caller waiting behind a slow submission can give up when its context ends.
// quote is guarded by lock; state is atomic so it can be read while a
// submission holds the lock. refs is guarded by the engine's mutex.
type session struct {
	lock  chan struct{}
	state atomic.Uint32
	quote *Quote
	refs  int
}

func newSession() *session {
	return &session{lock: make(chan struct{}, 1)}
}

// acquire takes a free lock even when ctx is already done, so the holder can
// observe the cancellation and roll its state back.
func (s *session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) tryAcquire() bool {
	select {
	case s.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *session) release() {
	<-s.lock
}

func (s *session) get() State {
	return State(s.state.Load())
}

func (s *session) set(st State) {
	s.state.Store(uint32(st))
}

// edit records a cart mutation: any pending confirmation is discarded.
func (s *session) edit(c *domain.Cart) {
	s.quote = nil
	if c.IsEmpty() {
		s.set(StateIdle)
		return
	}
	s.set(StateBuilding)
}
