package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  string          `json:"category_id"`
	Description string          `json:"description,omitempty"`
}

// MenuSnapshot is an immutable copy of the POS menu. It is replaced wholesale
// on every successful fetch and never mutated after NewMenuSnapshot returns.
type MenuSnapshot struct {
	Revision   int64
	FetchedAt  time.Time
	categories []Category
	products   []Product
	byID       map[string]int
	byCategory map[string][]int
	orphans    []int
}

// NewMenuSnapshot copies categories and products and builds the lookup indexes.
// Products whose category is not part of the snapshot are kept for lookups by id
// but excluded from category views.
func NewMenuSnapshot(categories []Category, products []Product, revision int64, fetchedAt time.Time) *MenuSnapshot {
	s := &MenuSnapshot{
		Revision:   revision,
		FetchedAt:  fetchedAt,
		categories: append([]Category(nil), categories...),
		products:   append([]Product(nil), products...),
		byID:       make(map[string]int, len(products)),
		byCategory: make(map[string][]int, len(categories)),
	}

	known := make(map[string]struct{}, len(categories))
	for _, c := range s.categories {
		known[c.ID] = struct{}{}
	}

	for i, p := range s.products {
		s.byID[p.ID] = i
		if _, ok := known[p.CategoryID]; !ok {
			s.orphans = append(s.orphans, i)
			continue
		}
		s.byCategory[p.CategoryID] = append(s.byCategory[p.CategoryID], i)
	}

	for _, idx := range s.byCategory {
		sort.SliceStable(idx, func(a, b int) bool {
			return s.products[idx[a]].Name < s.products[idx[b]].Name
		})
	}

	return s
}

func (s *MenuSnapshot) Product(id string) (Product, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Product{}, false
	}
	return s.products[i], true
}

func (s *MenuSnapshot) Categories() []Category {
	return append([]Category(nil), s.categories...)
}

func (s *MenuSnapshot) Products() []Product {
	return append([]Product(nil), s.products...)
}

// CategoryProducts returns the products of a category sorted by name.
func (s *MenuSnapshot) CategoryProducts(categoryID string) []Product {
	idx := s.byCategory[categoryID]
	out := make([]Product, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.products[i])
	}
	return out
}

func (s *MenuSnapshot) Orphans() []Product {
	out := make([]Product, 0, len(s.orphans))
	for _, i := range s.orphans {
		out = append(out, s.products[i])
	}
	return out
}

// Age reports how old the snapshot is at the given instant.
func (s *MenuSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
