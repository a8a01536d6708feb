package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type OrderReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	Stats(ctx context.Context, since time.Time) (ledger.Stats, error)
}

type OrdersHandler struct {
	orders  OrderReader
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewOrdersHandler(orders OrderReader, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OrdersHandler{orders: orders, timeout: timeout, log: log, now: time.Now}
}

type StatsResponseDTO struct {
	Days  int    `json:"days"`
	Since string `json:"since"`
	ledger.Stats
}

// GET /api/v1/orders?user_id=
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	orders, err := h.orders.ListByUser(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/stats?days=7
func (h *OrdersHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			respondError(w, http.StatusBadRequest, "invalid_days", "days must be between 1 and 365")
			return
		}
		days = n
	}

	since := h.now().AddDate(0, 0, -days)
	stats, err := h.orders.Stats(ctx, since)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, StatsResponseDTO{Days: days, Since: since.UTC().Format(time.RFC3339), Stats: stats})
}
