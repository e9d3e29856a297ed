package repository

import (
	"context"

	"github.com/ErlanBelekov/replenishment/internal/domain"
)

// PayloadStore is the auxiliary keyed store holding the order payload of the pending trigger.
// It has no transactional coupling with the record store.
type PayloadStore interface {
	Put(ctx context.Context, key string, payload domain.OrderPayload) error
	// Get returns domain.ErrPayloadNotFound when nothing is stored under key.
	Get(ctx context.Context, key string) (*domain.OrderPayload, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
