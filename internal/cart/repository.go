package cart

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// Repository stores whole carts. Implementations must not retain or hand out
// the caller's *domain.Cart; they store and return copies.
type Repository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, userID string) error
}
