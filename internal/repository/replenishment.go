package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
)

// ReplenishmentRepository is the record store. Methods join the transaction carried by ctx
// when called inside Transactor.WithinTx. Soft-deleted rows are invisible to every read.
type ReplenishmentRepository interface {
	Create(ctx context.Context, r *domain.Replenishment) (*domain.Replenishment, error)

	// GetByID returns the row with its payment history, scoped to the owning customer.
	GetByID(ctx context.Context, id, customerID string) (*domain.Replenishment, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction. No history.
	GetForUpdate(ctx context.Context, id string) (*domain.Replenishment, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.Replenishment, int, error)

	// Update persists every mutable column of r.
	Update(ctx context.Context, r *domain.Replenishment) error

	CountPayments(ctx context.Context, id string) (int, error)
	AddPayment(ctx context.Context, id string, paymentDate time.Time) error

	// SoftDelete hides the row and drops its payment history.
	SoftDelete(ctx context.Context, id string) error

	// ListArmed pages through live rows whose status expects an armed trigger, ordered by id.
	ListArmed(ctx context.Context, afterID string, limit int) ([]*domain.Replenishment, error)
}
