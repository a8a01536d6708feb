package pos

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

type nomenclatureRequest struct {
	OrganizationID string `json:"organizationId"`
}

type nomenclatureResponse struct {
	Revision int64               `json:"revision"`
	Groups   []nomenclatureGroup `json:"groups"`
	Products []nomenclatureItem  `json:"products"`
}

type nomenclatureGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDeleted   bool   `json:"isDeleted"`
}

type nomenclatureItem struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	ParentGroup *string          `json:"parentGroup"`
	IsDeleted   bool             `json:"isDeleted"`
}

// FetchMenu loads the full nomenclature. A payload without products is an
// error, never an empty menu.
func (c *Client) FetchMenu(ctx context.Context) (*domain.MenuSnapshot, error) {
	var resp nomenclatureResponse
	if err := c.call(ctx, "fetch menu", "/api/1/nomenclature", nomenclatureRequest{OrganizationID: c.cfg.OrganizationID}, &resp, false); err != nil {
		return nil, err
	}

	categories := make([]domain.Category, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		if g.IsDeleted {
			continue
		}
		if g.ID == "" {
			return nil, malformed("group without id")
		}
		categories = append(categories, domain.Category{ID: g.ID, Name: g.Name, Description: g.Description})
	}

	products := make([]domain.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.IsDeleted {
			continue
		}
		if p.ID == "" || p.Name == "" {
			return nil, malformed("product without id or name")
		}
		if p.Price == nil || p.Price.IsNegative() {
			return nil, malformed(fmt.Sprintf("product %s has no valid price", p.ID))
		}

		product := domain.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       *p.Price,
			Description: p.Description,
		}
		if p.ParentGroup != nil {
			product.CategoryID = *p.ParentGroup
		}
		products = append(products, product)
	}

	if len(products) == 0 {
		return nil, &UpstreamError{Op: "fetch menu", StatusCode: http.StatusOK, Err: errNoProducts}
	}

	return domain.NewMenuSnapshot(categories, products, resp.Revision, c.now()), nil
}

func malformed(detail string) error {
	return &UpstreamError{Op: "fetch menu", StatusCode: http.StatusOK, Err: fmt.Errorf("%w: %s", errMalformed, detail)}
}
