package repository

import (
	"context"

	"github.com/ErlanBelekov/replenishment/internal/domain"
)

type CustomerRepository interface {
	// Upsert makes sure a row exists for the authenticated subject so FKs hold.
	Upsert(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.Customer, error)
}
