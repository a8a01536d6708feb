package workflow

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

var (
	ErrNothingToConfirm   = errors.New("nothing to confirm")
	ErrNothingToCancel    = errors.New("nothing to cancel")
	ErrOrderPending       = errors.New("previous order is still being processed")
	ErrOutcomeUnknown     = errors.New("order outcome unknown")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnknownIntent      = errors.New("unknown intent")
)

type Category string

const (
	CategoryCaller      Category = "caller"
	CategoryPending     Category = "pending"
	CategoryUnknown     Category = "outcome_unknown"
	CategoryUnavailable Category = "unavailable"
	CategoryCancelled   Category = "cancelled"
)

type Message struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
}

var callerMessages = []struct {
	err  error
	text string
}{
	{domain.ErrUnknownProduct, "This item is not on the menu."},
	{domain.ErrNotInCart, "This item is not in your cart."},
	{domain.ErrEmptyCart, "Your cart is empty."},
	{domain.ErrInvalidQuantity, "Quantity must be at least 1."},
	{domain.ErrQuantityLimit, "You cannot add more of this item."},
	{ErrNothingToConfirm, "There is no order waiting for confirmation."},
	{ErrNothingToCancel, "There is nothing to cancel."},
	{ErrUnknownIntent, "Unsupported action."},
}

// UserMessage maps an engine error to the text shown to the end user. The
// error's own text is never part of the message.
func UserMessage(err error) Message {
	for _, m := range callerMessages {
		if errors.Is(err, m.err) {
			return Message{Category: CategoryCaller, Text: m.text}
		}
	}

	switch {
	case errors.Is(err, ErrOrderPending):
		return Message{Category: CategoryPending, Text: "Your previous order is still being processed. Please wait."}
	case errors.Is(err, ErrOutcomeUnknown):
		return Message{Category: CategoryUnknown, Text: "We could not confirm your order yet. We will check its status, please do not order again."}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Message{Category: CategoryCancelled, Text: "The request was cancelled."}
	default:
		return Message{Category: CategoryUnavailable, Text: "The service is temporarily unavailable. Please try again later."}
	}
}

// IsCallerError reports errors caused by the request itself. They never
// change workflow state.
func IsCallerError(err error) bool {
	return UserMessage(err).Category == CategoryCaller
}
