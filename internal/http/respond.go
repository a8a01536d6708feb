package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/workflow"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", slog.Any("err", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// errorResponse converts an error into a status and a body. The error text
// itself never reaches the client; callers log it when it is unexpected.
func errorResponse(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, ledger.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "order not found", Code: "not_found"}
	case errors.Is(err, domain.ErrUnknownProduct), errors.Is(err, domain.ErrNotInCart):
		return http.StatusUnprocessableEntity, userError(err, "invalid_item")
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, userError(err, "invalid_quantity")
	case errors.Is(err, domain.ErrQuantityLimit):
		return http.StatusUnprocessableEntity, userError(err, "quantity_limit")
	case errors.Is(err, workflow.ErrUnknownIntent):
		return http.StatusBadRequest, userError(err, "unknown_intent")
	}

	msg := workflow.UserMessage(err)
	switch msg.Category {
	case workflow.CategoryCaller:
		return http.StatusConflict, ErrorResponse{Error: msg.Text, Code: "invalid_state"}
	case workflow.CategoryPending:
		return http.StatusConflict, ErrorResponse{Error: msg.Text, Code: "order_pending"}
	case workflow.CategoryUnknown:
		return http.StatusAccepted, ErrorResponse{Error: msg.Text, Code: "outcome_unknown"}
	case workflow.CategoryCancelled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, ErrorResponse{Error: msg.Text, Code: "timeout"}
		}
		return http.StatusServiceUnavailable, ErrorResponse{Error: msg.Text, Code: "cancelled"}
	default:
		return http.StatusServiceUnavailable, ErrorResponse{Error: msg.Text, Code: "service_unavailable"}
	}
}

func userError(err error, code string) ErrorResponse {
	return ErrorResponse{Error: workflow.UserMessage(err).Text, Code: code}
}

func handleError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("err", err))
	}
	respondJSON(w, status, body)
}
