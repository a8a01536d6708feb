package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

type IntentKind string

const (
	IntentAddItem    IntentKind = "add_item"
	IntentRemoveItem IntentKind = "remove_item"
	IntentClear      IntentKind = "clear"
	IntentView       IntentKind = "view"
	IntentCheckout   IntentKind = "checkout"
	IntentConfirm    IntentKind = "confirm"
	IntentCancel     IntentKind = "cancel"
)

// Intent is one inbound user action. Delivery may repeat after a crash of the
// sender; clearing and adding by product merge are safe to replay.
type Intent struct {
	Kind      IntentKind `json:"kind"`
	UserID    string     `json:"user_id"`
	ProductID string     `json:"product_id,omitempty"`
	Quantity  int        `json:"quantity,omitempty"`
}

// Result is what the presentation layer renders after an intent.
type Result struct {
	State State           `json:"state"`
	Cart  *domain.Cart    `json:"cart,omitempty"`
	Total decimal.Decimal `json:"total"`
	Quote *Quote          `json:"quote,omitempty"`
	Order *domain.Order   `json:"order,omitempty"`
}

// Handle dispatches an intent. On error the result still carries the state
// and, when it can be read, the cart.
func (e *Engine) Handle(ctx context.Context, in Intent) (Result, error) {
	var (
		res Result
		err error
	)

	switch in.Kind {
	case IntentAddItem:
		qty := in.Quantity
		if qty == 0 {
			qty = 1
		}
		res.Cart, err = e.AddItem(ctx, in.UserID, in.ProductID, qty)
	case IntentRemoveItem:
		res.Cart, err = e.RemoveItem(ctx, in.UserID, in.ProductID, in.Quantity)
	case IntentClear:
		err = e.ClearCart(ctx, in.UserID)
	case IntentView:
		res.Cart, err = e.Cart(ctx, in.UserID)
	case IntentCheckout:
		res.Quote, err = e.Checkout(ctx, in.UserID)
	case IntentConfirm:
		res.Order, err = e.Confirm(ctx, in.UserID)
	case IntentCancel:
		err = e.Cancel(ctx, in.UserID)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownIntent, in.Kind)
	}

	if res.Cart == nil && ctx.Err() == nil {
		if c, getErr := e.carts.Get(ctx, in.UserID); getErr == nil {
			res.Cart = c
		}
	}
	if res.Cart != nil {
		res.Total = res.Cart.Total()
	}
	res.State = e.State(in.UserID)
	return res, err
}
