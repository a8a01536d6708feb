package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("order already recorded")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrEventNotFound     = errors.New("outbox event not found")
)

const (
	EventOrderCreated   = "order.created"
	EventOrderSubmitted = "order.submitted"
	EventOrderConfirmed = "order.confirmed"
	EventOrderFailed    = "order.failed"
)

// Repository is the durable record of every submission attempt. Status
// changes are validated against the order state machine and each one is
// written together with an outbox event.
type Repository interface {
	Record(ctx context.Context, order *domain.Order) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, posOrderID string) (*domain.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	// ListUnresolved returns CREATED and SUBMITTED orders created at or
	// before olderThan, oldest first.
	ListUnresolved(ctx context.Context, olderThan time.Time) ([]*domain.Order, error)
	// PendingForUser returns the newest unresolved order of the user or
	// ErrOrderNotFound.
	PendingForUser(ctx context.Context, userID string) (*domain.Order, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)

	UnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, id int64) error
}

type Stats struct {
	TotalOrders     int `json:"total_orders"`
	ConfirmedOrders int `json:"confirmed_orders"`
	FailedOrders    int `json:"failed_orders"`
	// UnresolvedOrders are CREATED or SUBMITTED orders still waiting for the
	// POS outcome.
	UnresolvedOrders int             `json:"unresolved_orders"`
	Revenue          decimal.Decimal `json:"revenue"`
}

func (s *Stats) add(status domain.OrderStatus, total decimal.Decimal) {
	s.TotalOrders++
	switch status {
	case domain.OrderStatusConfirmed:
		s.ConfirmedOrders++
		s.Revenue = s.Revenue.Add(total)
	case domain.OrderStatusFailed:
		s.FailedOrders++
	case domain.OrderStatusCreated, domain.OrderStatusSubmitted:
		s.UnresolvedOrders++
	}
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// OrderEvent is the payload of every outbox event.
type OrderEvent struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	Status     domain.OrderStatus `json:"status"`
	PosOrderID string             `json:"pos_order_id,omitempty"`
	Total      decimal.Decimal    `json:"total"`
	Lines      []domain.OrderLine `json:"lines"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func eventType(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusSubmitted:
		return EventOrderSubmitted
	case domain.OrderStatusConfirmed:
		return EventOrderConfirmed
	case domain.OrderStatusFailed:
		return EventOrderFailed
	default:
		return EventOrderCreated
	}
}

func newEvent(order *domain.Order, at time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(OrderEvent{
		OrderID:    order.ID.String(),
		UserID:     order.UserID,
		Status:     order.Status,
		PosOrderID: order.PosOrderID,
		Total:      order.Total,
		Lines:      order.Lines,
		OccurredAt: at,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	return &OutboxEvent{
		AggregateID: order.ID.String(),
		EventType:   eventType(order.Status),
		Payload:     payload,
		CreatedAt:   at,
	}, nil
}

func validateNew(order *domain.Order) error {
	if order.Status != domain.OrderStatusCreated {
		return fmt.Errorf("%w: new orders start as %s, got %s", ErrIllegalTransition, domain.OrderStatusCreated, order.Status)
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &c
}
