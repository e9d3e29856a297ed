package repository

import (
	"context"

	"github.com/ErlanBelekov/replenishment/internal/domain"
)

type OrderRepository interface {
	// CreateOrder joins the transaction carried by ctx, if any.
	CreateOrder(ctx context.Context, order domain.NewOrder) (*domain.Order, error)
}

type ProductRepository interface {
	// GetByIDs returns the catalog rows keyed by id. Missing ids are simply absent.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}
