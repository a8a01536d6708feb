package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

// ErrMenuUnavailable is returned when no snapshot was ever loaded and the POS
// cannot be reached.
var ErrMenuUnavailable = errors.New("menu unavailable")

type Fetcher interface {
	FetchMenu(ctx context.Context) (*domain.MenuSnapshot, error)
}

// SnapshotStore persists the latest snapshot outside the process.
type SnapshotStore interface {
	Load(ctx context.Context) (*domain.MenuSnapshot, error)
	Save(ctx context.Context, snap *domain.MenuSnapshot) error
}

type Result struct {
	Snapshot *domain.MenuSnapshot
	// Stale is set when a refresh was due but failed and the previous
	// snapshot is served instead.
	Stale bool
}

// Cache holds the current menu snapshot. Reads are lock-free; a refresh swaps
// the pointer to a new immutable snapshot.
type Cache struct {
	fetcher      Fetcher
	store        SnapshotStore
	log          *slog.Logger
	now          func() time.Time
	fetchTimeout time.Duration

	current  atomic.Pointer[domain.MenuSnapshot]
	gen      atomic.Uint64
	validGen atomic.Uint64
	group    singleflight.Group
}

// NewCache builds a cache over fetcher. store may be nil.
func NewCache(fetcher Fetcher, store SnapshotStore, log *slog.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		fetcher:      fetcher,
		store:        store,
		log:          log,
		now:          time.Now,
		fetchTimeout: 30 * time.Second,
	}
}

func (c *Cache) GetMenu(ctx context.Context, maxAge time.Duration) (Result, error) {
	snap := c.current.Load()
	if snap != nil && c.valid() && snap.Age(c.now()) <= maxAge {
		return Result{Snapshot: snap}, nil
	}

	fresh, err := c.refresh(ctx)
	if err == nil {
		return Result{Snapshot: fresh}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	if snap = c.current.Load(); snap != nil {
		c.log.WarnContext(ctx, "menu refresh failed, serving stale snapshot",
			slog.Any("err", err),
			slog.Int64("revision", snap.Revision),
			slog.Duration("age", snap.Age(c.now())))
		return Result{Snapshot: snap, Stale: true}, nil
	}

	c.log.ErrorContext(ctx, "menu refresh failed, no snapshot loaded", slog.Any("err", err))
	return Result{}, fmt.Errorf("%w: %w", ErrMenuUnavailable, err)
}

// Refresh fetches a new snapshot regardless of the current one's age.
func (c *Cache) Refresh(ctx context.Context) (*domain.MenuSnapshot, error) {
	return c.refresh(ctx)
}

// Invalidate makes the next GetMenu refresh regardless of age.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
}

// Current returns the last loaded snapshot without refreshing. It is nil
// until the first successful load.
func (c *Cache) Current() *domain.MenuSnapshot {
	return c.current.Load()
}

// Fresh reports whether a valid snapshot younger than maxAge is loaded.
func (c *Cache) Fresh(maxAge time.Duration) bool {
	snap := c.current.Load()
	return snap != nil && c.valid() && snap.Age(c.now()) <= maxAge
}

// Warm loads a persisted snapshot so the menu can be served before the POS
// answers. It keeps the snapshot's original fetch time and never replaces a
// snapshot that is already loaded.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("warm menu cache: %w", err)
	}
	if c.current.CompareAndSwap(nil, snap) {
		c.log.InfoContext(ctx, "menu cache warmed from store",
			slog.Int64("revision", snap.Revision),
			slog.Time("fetched_at", snap.FetchedAt))
	}
	return nil
}

func (c *Cache) valid() bool {
	return c.validGen.Load() == c.gen.Load()
}

// refresh collapses concurrent fetches into one. The fetch runs detached from
// the caller that started it so its cancellation does not fail the others.
func (c *Cache) refresh(ctx context.Context) (*domain.MenuSnapshot, error) {
	ch := c.group.DoChan("menu", func() (any, error) {
		gen := c.gen.Load()
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		snap, err := c.fetcher.FetchMenu(fetchCtx)
		if err != nil {
			return nil, err
		}

		c.current.Store(snap)
		c.validGen.Store(gen)
		c.log.InfoContext(fetchCtx, "menu refreshed",
			slog.Int64("revision", snap.Revision),
			slog.Int("products", len(snap.Products())))

		if c.store != nil {
			if err := c.store.Save(fetchCtx, snap); err != nil {
				c.log.WarnContext(fetchCtx, "persist menu snapshot failed", slog.Any("err", err))
			}
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.MenuSnapshot), nil
	}
}
