package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/pos"
)

type ReconcileReport struct {
	Checked    int `json:"checked"`
	Confirmed  int `json:"confirmed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
	Skipped    int `json:"skipped"`
	// Busy counts orders left alone because their user had a call running,
	// possibly the submission itself.
	Busy int `json:"busy"`
}

// Reconcile resolves orders whose POS outcome is still unknown after grace by
// asking the POS for their status. Orders are never submitted again. Orders
// whose status cannot be fetched are left for the next pass.
//
// Each order is resolved under its user's session lock. A user with a call in
// flight is skipped rather than waited for, so a submission still running in
// this process is never marked failed from under it.
func (e *Engine) Reconcile(ctx context.Context, grace time.Duration) (ReconcileReport, error) {
	var report ReconcileReport

	orders, err := e.ledger.ListUnresolved(ctx, e.now().Add(-grace))
	if err != nil {
		return report, fmt.Errorf("list unresolved orders: %w", err)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		log := e.log.With(slog.String("order_id", order.ID.String()), slog.String("user_id", order.UserID))

		s, ok := e.tryLock(order.UserID)
		if !ok {
			log.InfoContext(ctx, "user session busy, order left for the next pass")
			report.Busy++
			continue
		}
		e.reconcileOrder(ctx, s, order, log, &report)
		e.unlock(order.UserID, s)
	}

	if n := e.pruneSessions(); n > 0 {
		e.log.DebugContext(ctx, "pruned finished sessions", slog.Int("count", n))
	}
	return report, nil
}

func (e *Engine) reconcileOrder(ctx context.Context, s *session, order *domain.Order, log *slog.Logger, report *ReconcileReport) {
	remote, err := e.pos.OrderStatus(ctx, order.ID)
	if err != nil {
		log.WarnContext(ctx, "order status lookup failed", slog.Any("err", err))
		report.Skipped++
		return
	}

	switch remote.State {
	case pos.RemoteConfirmed:
		if err := e.resolveConfirmed(ctx, s, order, remote.PosOrderID); err != nil {
			log.ErrorContext(ctx, "resolve confirmed order", slog.Any("err", err))
			report.Skipped++
			return
		}
		log.InfoContext(ctx, "reconciled order as confirmed", slog.String("pos_order_id", remote.PosOrderID))
		report.Confirmed++

	case pos.RemoteFailed, pos.RemoteNotFound:
		if _, err := e.ledger.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed, ""); err != nil {
			if errors.Is(err, ledger.ErrIllegalTransition) {
				log.InfoContext(ctx, "order already resolved", slog.Any("err", err))
			} else {
				log.ErrorContext(ctx, "mark order failed", slog.Any("err", err))
			}
			report.Skipped++
			return
		}
		log.InfoContext(ctx, "reconciled order as failed", slog.String("remote_state", string(remote.State)))
		report.Failed++

	default:
		if order.Status == domain.OrderStatusCreated {
			if _, err := e.ledger.UpdateStatus(ctx, order.ID, domain.OrderStatusSubmitted, remote.PosOrderID); err != nil && !errors.Is(err, ledger.ErrIllegalTransition) {
				log.ErrorContext(ctx, "mark order submitted", slog.Any("err", err))
			}
		}
		report.InProgress++
	}
}

// resolveConfirmed records the confirmation and clears the user's cart. The
// caller holds the user's session.
func (e *Engine) resolveConfirmed(ctx context.Context, s *session, order *domain.Order, posOrderID string) error {
	if _, err := e.ledger.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed, posOrderID); err != nil {
		return err
	}
	if err := e.carts.Clear(ctx, order.UserID); err != nil {
		e.log.ErrorContext(ctx, "clear cart after reconciled order", slog.String("user_id", order.UserID), slog.Any("err", err))
	}
	s.quote = nil
	s.set(StateIdle)
	return nil
}
