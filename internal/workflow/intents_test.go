package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/pos"
)

func TestHandle_FullCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Handle(ctx, Intent{Kind: IntentAddItem, UserID: "u1", ProductID: "A"})
	require.NoError(t, err)
	assert.Equal(t, StateBuilding, res.State)
	require.Len(t, res.Cart.Lines, 1)
	assert.Equal(t, 1, res.Cart.Lines[0].Quantity, "quantity defaults to one")

	res, err = env.engine.Handle(ctx, Intent{Kind: IntentAddItem, UserID: "u1", ProductID: "B", Quantity: 2})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(610).Equal(res.Total))

	res, err = env.engine.Handle(ctx, Intent{Kind: IntentView, UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, res.Cart.Lines, 2)

	res, err = env.engine.Handle(ctx, Intent{Kind: IntentCheckout, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, res.State)
	require.NotNil(t, res.Quote)
	assert.True(t, decimal.NewFromInt(610).Equal(res.Quote.Total))

	res, err = env.engine.Handle(ctx, Intent{Kind: IntentConfirm, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	require.NotNil(t, res.Order)
	assert.Equal(t, "X", res.Order.PosOrderID)
	assert.True(t, res.Cart.IsEmpty())
	assert.True(t, res.Total.IsZero())
}

func TestHandle_CancelAndClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fillCart(t, "u1")

	_, err := env.engine.Handle(ctx, Intent{Kind: IntentCheckout, UserID: "u1"})
	require.NoError(t, err)
	res, err := env.engine.Handle(ctx, Intent{Kind: IntentCancel, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StateBuilding, res.State)
	assert.Len(t, res.Cart.Lines, 2)

	res, err = env.engine.Handle(ctx, Intent{Kind: IntentRemoveItem, UserID: "u1", ProductID: "B", Quantity: 1})
	require.NoError(t, err)
	line, ok := res.Cart.Line("B")
	require.True(t, ok)
	assert.Equal(t, 1, line.Quantity)

	res, err = env.engine.Handle(ctx, Intent{Kind: IntentClear, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
	assert.True(t, res.Cart.IsEmpty())
}

func TestHandle_ErrorKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fillCart(t, "u1")

	res, err := env.engine.Handle(ctx, Intent{Kind: IntentAddItem, UserID: "u1", ProductID: "Z"})
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)
	assert.Equal(t, StateBuilding, res.State)
	assert.Len(t, res.Cart.Lines, 2)

	res, err = env.engine.Handle(ctx, Intent{Kind: "order_pizza", UserID: "u1"})
	assert.ErrorIs(t, err, ErrUnknownIntent)
	assert.Len(t, res.Cart.Lines, 2)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
	}{
		{"unknown product", domain.ErrUnknownProduct, CategoryCaller},
		{"not in cart", fmt.Errorf("remove: %w", domain.ErrNotInCart), CategoryCaller},
		{"empty cart", domain.ErrEmptyCart, CategoryCaller},
		{"invalid quantity", domain.ErrInvalidQuantity, CategoryCaller},
		{"quantity limit", domain.ErrQuantityLimit, CategoryCaller},
		{"nothing to confirm", ErrNothingToConfirm, CategoryCaller},
		{"nothing to cancel", ErrNothingToCancel, CategoryCaller},
		{"unknown intent", fmt.Errorf("%w: %q", ErrUnknownIntent, "x"), CategoryCaller},
		{"pending", ErrOrderPending, CategoryPending},
		{"outcome unknown", ErrOutcomeUnknown, CategoryUnknown},
		{"cancelled", context.Canceled, CategoryCancelled},
		{"deadline", context.DeadlineExceeded, CategoryCancelled},
		{"unavailable", ErrServiceUnavailable, CategoryUnavailable},
		{"raw upstream", &pos.UpstreamError{Op: "submit order", StatusCode: 502, Err: errors.New("secret body")}, CategoryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := UserMessage(tt.err)
			assert.Equal(t, tt.category, msg.Category)
			assert.NotEmpty(t, msg.Text)
			assert.NotContains(t, msg.Text, "secret")
			assert.Equal(t, tt.category == CategoryCaller, IsCallerError(tt.err))
		})
	}
}

func TestStateText(t *testing.T) {
	text, err := StateAwaitingConfirmation.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "awaiting_confirmation", string(text))
	assert.Equal(t, "unknown", State(42).String())
}
