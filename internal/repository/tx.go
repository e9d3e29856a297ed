package repository

import "context"

// Transactor runs fn in one record-store transaction. Repositories called with the ctx
// handed to fn take part in it; nested calls join the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
