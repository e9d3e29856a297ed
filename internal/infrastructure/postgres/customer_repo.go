package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) Upsert(ctx context.Context, id string) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO customers (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		id,
	)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	row := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, email, name, created_at, updated_at FROM customers WHERE id = $1`, id)

	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &c, nil
}
