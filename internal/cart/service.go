package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/menu"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type MenuReader interface {
	GetMenu(ctx context.Context, maxAge time.Duration) (menu.Result, error)
}

// Service owns every user's cart. Mutations of one user's cart are
// serialized; different users never wait on each other.
type Service struct {
	repo       Repository
	cache      Cache
	menu       MenuReader
	menuMaxAge time.Duration
	log        *slog.Logger
	now        func() time.Time

	locks *keyedMutex
	sfg   singleflight.Group // Prevents cache stampede
}

// NewService wires the cart store. cache may be nil.
func NewService(repo Repository, cache Cache, menu MenuReader, menuMaxAge time.Duration, log *slog.Logger) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:       repo,
		cache:      cache,
		menu:       menu,
		menuMaxAge: menuMaxAge,
		log:        log,
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
}

// Get returns the user's cart, or an empty one if the user has none.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.log.WarnContext(ctx, "cart cache get failed", slog.String("user_id", userID), slog.Any("err", err))
	}

	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		unlock := s.locks.Lock(userID)
		defer unlock()

		cart, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(cart.Lines) > 0 {
			if err := s.cache.Set(ctx, cart); err != nil {
				s.log.WarnContext(ctx, "cart cache set failed", slog.String("user_id", userID), slog.Any("err", err))
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// AddItem adds quantity units of a menu product, merging with an existing line.
// Name and price are captured from the current menu.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	if quantity > domain.MaxLineQuantity {
		return nil, domain.ErrQuantityLimit
	}

	res, err := s.menu.GetMenu(ctx, s.menuMaxAge)
	if err != nil {
		return nil, err
	}
	product, ok := res.Snapshot.Product(productID)
	if !ok {
		return nil, domain.ErrUnknownProduct
	}

	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		return c.Add(product, quantity, s.now())
	})
}

// RemoveItem takes quantity units off a line. A quantity of zero or at least
// the line's quantity removes the line.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		return c.Remove(productID, quantity, s.now())
	})
}

// Clear empties the cart. Clearing an empty cart is not an error.
func (s *Service) Clear(ctx context.Context, userID string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.repo.DeleteCart(ctx, userID); err != nil && !errors.Is(err, ErrCartNotFound) {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	cart, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(cart); err != nil {
		return nil, err
	}

	if cart.IsEmpty() {
		err = s.repo.DeleteCart(ctx, userID)
		if errors.Is(err, ErrCartNotFound) {
			err = nil
		}
	} else {
		err = s.repo.SaveCart(ctx, cart)
	}
	if err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}

	s.invalidate(ctx, userID)
	return cart, nil
}

func (s *Service) load(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return domain.NewCart(userID, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

// invalidate runs under the user lock so a concurrent Get cannot refill the
// cache with the previous cart.
func (s *Service) invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "cart cache invalidate failed", slog.String("user_id", userID), slog.Any("err", err))
	}
}
