package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
	"github.com/fjod/go_cart/ordering-service/internal/menu"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type MenuService interface {
	GetMenu(ctx context.Context, maxAge time.Duration) (menu.Result, error)
	Refresh(ctx context.Context) (*domain.MenuSnapshot, error)
}

type MenuHandler struct {
	menu    MenuService
	maxAge  time.Duration
	timeout time.Duration
	log     *slog.Logger
}

func NewMenuHandler(menu MenuService, maxAge, timeout time.Duration, log *slog.Logger) *MenuHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &MenuHandler{menu: menu, maxAge: maxAge, timeout: timeout, log: log}
}

type CategoryDTO struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Products    []domain.Product `json:"products"`
}

type MenuResponseDTO struct {
	Revision   int64         `json:"revision"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Stale      bool          `json:"stale"`
	Categories []CategoryDTO `json:"categories"`
	// Uncategorized holds products whose category is not on the menu.
	Uncategorized []domain.Product `json:"uncategorized,omitempty"`
}

func convertSnapshot(snap *domain.MenuSnapshot, stale bool) MenuResponseDTO {
	categories := snap.Categories()
	dto := MenuResponseDTO{
		Revision:      snap.Revision,
		FetchedAt:     snap.FetchedAt,
		Stale:         stale,
		Categories:    make([]CategoryDTO, 0, len(categories)),
		Uncategorized: snap.Orphans(),
	}
	for _, c := range categories {
		dto.Categories = append(dto.Categories, CategoryDTO{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Products:    snap.CategoryProducts(c.ID),
		})
	}
	return dto
}

// GET /api/v1/menu
func (h *MenuHandler) GetMenu(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.menu.GetMenu(ctx, h.maxAge)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertSnapshot(res.Snapshot, res.Stale))
}

// GET /api/v1/menu/categories/{category_id}/products
func (h *MenuHandler) CategoryProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categoryID := chi.URLParam(r, "category_id")
	if categoryID == "" {
		respondError(w, http.StatusBadRequest, "missing_category_id", "category_id is required")
		return
	}

	res, err := h.menu.GetMenu(ctx, h.maxAge)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	for _, c := range res.Snapshot.Categories() {
		if c.ID == categoryID {
			respondJSON(w, http.StatusOK, res.Snapshot.CategoryProducts(categoryID))
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "category not found")
}

// POST /api/v1/menu/refresh
func (h *MenuHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.menu.Refresh(ctx)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertSnapshot(snap, false))
}
