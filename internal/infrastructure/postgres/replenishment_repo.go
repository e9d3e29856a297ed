package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const replenishmentColumns = `
	id, scheduler_id, customer_id, order_id, unit, interval_count,
	start_date, end_date, times, executions,
	last_payment_date, next_payment_date, status, next_job_id,
	created_at, updated_at`

type ReplenishmentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewReplenishmentRepository(pool *pgxpool.Pool, logger *slog.Logger) *ReplenishmentRepository {
	return &ReplenishmentRepository{pool: pool, logger: logger.With("component", "replenishment_repo")}
}

func (r *ReplenishmentRepository) Create(ctx context.Context, rp *domain.Replenishment) (*domain.Replenishment, error) {
	query := `
		INSERT INTO replenishments (
			scheduler_id, customer_id, unit, interval_count,
			start_date, end_date, times, executions, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING` + replenishmentColumns

	row := conn(ctx, r.pool).QueryRow(ctx, query,
		rp.SchedulerID, rp.CustomerID, rp.Unit, rp.Interval,
		rp.StartDate, rp.EndDate, rp.Times, rp.Executions, rp.Status,
	)
	created, err := scanReplenishment(row)
	if err != nil {
		return nil, fmt.Errorf("insert replenishment: %w", err)
	}
	return created, nil
}

func (r *ReplenishmentRepository) GetByID(ctx context.Context, id, customerID string) (*domain.Replenishment, error) {
	query := `SELECT` + replenishmentColumns + `
		FROM replenishments
		WHERE id = $1 AND customer_id = $2 AND deleted_at IS NULL`

	rp, err := scanReplenishment(conn(ctx, r.pool).QueryRow(ctx, query, id, customerID))
	if err != nil {
		return nil, err
	}

	payments, err := r.paymentsFor(ctx, []string{rp.ID})
	if err != nil {
		return nil, err
	}
	rp.Payments = payments[rp.ID]
	return rp, nil
}

func (r *ReplenishmentRepository) GetForUpdate(ctx context.Context, id string) (*domain.Replenishment, error) {
	query := `SELECT` + replenishmentColumns + `
		FROM replenishments
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`

	return scanReplenishment(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *ReplenishmentRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Replenishment, int, error) {
	query := `SELECT` + replenishmentColumns + `
		FROM replenishments
		WHERE customer_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, customerID)
	if err != nil {
		return nil, 0, fmt.Errorf("list replenishments: %w", err)
	}
	items, err := collectReplenishments(rows)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, len(items))
	for i, rp := range items {
		ids[i] = rp.ID
	}
	payments, err := r.paymentsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, rp := range items {
		rp.Payments = payments[rp.ID]
	}
	return items, len(items), nil
}

func (r *ReplenishmentRepository) Update(ctx context.Context, rp *domain.Replenishment) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE replenishments
		SET    order_id          = $2,
		       unit              = $3,
		       interval_count    = $4,
		       start_date        = $5,
		       end_date          = $6,
		       times             = $7,
		       executions        = $8,
		       last_payment_date = $9,
		       next_payment_date = $10,
		       status            = $11,
		       next_job_id       = $12,
		       updated_at        = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		rp.ID, rp.OrderID, rp.Unit, rp.Interval, rp.StartDate, rp.EndDate, rp.Times,
		rp.Executions, rp.LastPaymentDate, rp.NextPaymentDate, rp.Status, rp.NextJobID,
	)
	if err != nil {
		return fmt.Errorf("update replenishment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReplenishmentNotFound
	}
	return nil
}

func (r *ReplenishmentRepository) CountPayments(ctx context.Context, id string) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM replenishment_payments WHERE replenishment_id = $1`, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

func (r *ReplenishmentRepository) AddPayment(ctx context.Context, id string, paymentDate time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO replenishment_payments (replenishment_id, payment_date) VALUES ($1, $2)`,
		id, paymentDate)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *ReplenishmentRepository) SoftDelete(ctx context.Context, id string) error {
	db := conn(ctx, r.pool)

	tag, err := db.Exec(ctx,
		`UPDATE replenishments SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete replenishment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReplenishmentNotFound
	}

	// History goes with the parent even though the row itself is only hidden.
	tag, err = db.Exec(ctx, `DELETE FROM replenishment_payments WHERE replenishment_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment history: %w", err)
	}
	r.logger.DebugContext(ctx, "replenishment soft-deleted", "replenishment_id", id, "payments_removed", tag.RowsAffected())
	return nil
}

func (r *ReplenishmentRepository) ListArmed(ctx context.Context, afterID string, limit int) ([]*domain.Replenishment, error) {
	query := `SELECT` + replenishmentColumns + `
		FROM replenishments
		WHERE deleted_at IS NULL
		  AND status IN ('scheduled', 'active')
		  AND ($1 = '' OR id::text > $1)
		ORDER BY id::text ASC
		LIMIT $2`

	rows, err := conn(ctx, r.pool).Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list armed replenishments: %w", err)
	}
	return collectReplenishments(rows)
}

func (r *ReplenishmentRepository) paymentsFor(ctx context.Context, ids []string) (map[string][]domain.ReplenishmentPayment, error) {
	out := make(map[string][]domain.ReplenishmentPayment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, replenishment_id, payment_date, created_at
		FROM replenishment_payments
		WHERE replenishment_id::text = ANY($1)
		ORDER BY payment_date ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.ReplenishmentPayment
		if err := rows.Scan(&p.ID, &p.ReplenishmentID, &p.PaymentDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out[p.ReplenishmentID] = append(out[p.ReplenishmentID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func collectReplenishments(rows pgx.Rows) ([]*domain.Replenishment, error) {
	defer rows.Close()

	var items []*domain.Replenishment
	for rows.Next() {
		rp, err := scanReplenishment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replenishments: %w", err)
	}
	return items, nil
}

func scanReplenishment(row rowScanner) (*domain.Replenishment, error) {
	var rp domain.Replenishment
	err := row.Scan(
		&rp.ID, &rp.SchedulerID, &rp.CustomerID, &rp.OrderID, &rp.Unit, &rp.Interval,
		&rp.StartDate, &rp.EndDate, &rp.Times, &rp.Executions,
		&rp.LastPaymentDate, &rp.NextPaymentDate, &rp.Status, &rp.NextJobID,
		&rp.CreatedAt, &rp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReplenishmentNotFound
		}
		return nil, fmt.Errorf("scan replenishment: %w", err)
	}
	return &rp, nil
}
