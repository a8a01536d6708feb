package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the ledger record of one submission attempt. Lines are copied from
// the cart at submission time and never change afterwards; only Status,
// PosOrderID and UpdatedAt move.
type Order struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user_id"`
	Lines      []OrderLine     `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	Status     OrderStatus     `json:"status"`
	PosOrderID string          `json:"pos_order_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewOrder freezes the given lines into a CREATED order.
func NewOrder(userID string, lines []OrderLine, now time.Time) *Order {
	frozen := append(make([]OrderLine, 0, len(lines)), lines...)
	total := decimal.Zero
	for _, l := range frozen {
		total = total.Add(l.Subtotal())
	}
	return &Order{
		ID:        uuid.New(),
		UserID:    userID,
		Lines:     frozen,
		Total:     total,
		Status:    OrderStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LinesFromCart copies cart lines into order lines.
func LinesFromCart(c *Cart) []OrderLine {
	lines := make([]OrderLine, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = OrderLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		}
	}
	return lines
}
