package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/workflow"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type Engine interface {
	Handle(ctx context.Context, in workflow.Intent) (workflow.Result, error)
	Cart(ctx context.Context, userID string) (*domain.Cart, error)
	State(userID string) workflow.State
}

// IntentHandler is the inbound transport for user actions. Confirmations can
// wait for the POS, so it runs with its own timeout.
type IntentHandler struct {
	engine  Engine
	timeout time.Duration
	log     *slog.Logger
}

func NewIntentHandler(engine Engine, timeout time.Duration, log *slog.Logger) *IntentHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &IntentHandler{engine: engine, timeout: timeout, log: log}
}

type IntentRequestDTO struct {
	Kind      workflow.IntentKind `json:"kind"`
	ProductID string              `json:"product_id,omitempty"`
	Quantity  int                 `json:"quantity,omitempty"`
}

type CartResponseDTO struct {
	UserID string            `json:"user_id"`
	State  workflow.State    `json:"state"`
	Lines  []domain.CartLine `json:"lines"`
	Total  decimal.Decimal   `json:"total"`
}

type IntentResponseDTO struct {
	State   workflow.State    `json:"state"`
	Cart    *CartResponseDTO  `json:"cart,omitempty"`
	Quote   *workflow.Quote   `json:"quote,omitempty"`
	Order   *domain.Order     `json:"order,omitempty"`
	Message *workflow.Message `json:"message,omitempty"`
}

func convertCart(c *domain.Cart, state workflow.State) *CartResponseDTO {
	if c == nil {
		return nil
	}
	lines := c.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return &CartResponseDTO{UserID: c.UserID, State: state, Lines: lines, Total: c.Total()}
}

// GET /api/v1/users/{user_id}/cart
func (h *IntentHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	c, err := h.engine.Cart(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(c, h.engine.State(userID)))
}

// POST /api/v1/users/{user_id}/intents
//
// Errors the user should see are answered with the workflow state and a
// message alongside the error code.
func (h *IntentHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	var req IntentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	res, err := h.engine.Handle(ctx, workflow.Intent{
		Kind:      req.Kind,
		UserID:    userID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})

	dto := IntentResponseDTO{
		State: res.State,
		Cart:  convertCart(res.Cart, res.State),
		Quote: res.Quote,
		Order: res.Order,
	}
	if err == nil {
		respondJSON(w, http.StatusOK, dto)
		return
	}

	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "intent failed",
			slog.String("user_id", userID),
			slog.String("kind", string(req.Kind)),
			slog.Any("err", err))
	}
	msg := workflow.UserMessage(err)
	msg.Text = body.Error
	dto.Message = &msg
	respondJSON(w, status, struct {
		ErrorResponse
		IntentResponseDTO
	}{body, dto})
}
