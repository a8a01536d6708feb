package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is owned by exactly one user. Lines keep insertion order and hold one
// entry per product; the total is always derived, never stored.
type Cart struct {
	UserID    string     `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewCart(userID string, now time.Time) *Cart {
	return &Cart{
		UserID:    userID,
		Lines:     []CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c *Cart) Line(productID string) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}

// MaxLineQuantity caps the units of one product in a cart.
const MaxLineQuantity = 999

// Add merges quantity into the existing line for the product or appends a new
// line with the given name and price. A line never grows past MaxLineQuantity.
func (c *Cart) Add(p Product, quantity int, now time.Time) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if quantity > MaxLineQuantity {
		return ErrQuantityLimit
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID == p.ID {
			if c.Lines[i].Quantity > MaxLineQuantity-quantity {
				return ErrQuantityLimit
			}
			c.Lines[i].Quantity += quantity
			c.UpdatedAt = now
			return nil
		}
	}
	c.Lines = append(c.Lines, CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  quantity,
	})
	c.UpdatedAt = now
	return nil
}

// Remove decrements the line for the product. A quantity of zero or less, or
// one that reaches the line quantity, drops the line.
func (c *Cart) Remove(productID string, quantity int, now time.Time) error {
	for i := range c.Lines {
		if c.Lines[i].ProductID != productID {
			continue
		}
		if quantity <= 0 || quantity >= c.Lines[i].Quantity {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		} else {
			c.Lines[i].Quantity -= quantity
		}
		c.UpdatedAt = now
		return nil
	}
	return ErrNotInCart
}

func (c *Cart) Clone() *Cart {
	out := *c
	out.Lines = append(make([]CartLine, 0, len(c.Lines)), c.Lines...)
	return &out
}
