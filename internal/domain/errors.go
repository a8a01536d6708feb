package domain

import "errors"

// Caller errors. They never change state and are safe to show inline.
var (
	ErrUnknownProduct  = errors.New("product is not on the menu")
	ErrNotInCart       = errors.New("product is not in the cart")
	ErrEmptyCart       = errors.New("cart is empty, nothing to checkout")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrQuantityLimit   = errors.New("line quantity limit exceeded")
)
