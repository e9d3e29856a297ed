package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, tx: NewTxManager(pool)}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, o domain.NewOrder) (*domain.Order, error) {
	var created domain.Order
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.pool)

		err := db.QueryRow(ctx, `
			INSERT INTO orders (
				customer_id, replenishment_id, payment_method, shipping_country, shipping_method,
				weight_category, order_weight, total, payment_reference, tracking_number
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, customer_id, tracking_number, total, payment_reference,
			          weight_category, shipping_method, created_at`,
			o.CustomerID, o.ReplenishmentID, o.PaymentMethod, o.ShippingCountry, o.ShippingMethod,
			o.WeightCategory, o.OrderWeight, o.Total, o.PaymentReference, trackingNumber(),
		).Scan(
			&created.ID, &created.CustomerID, &created.TrackingNumber, &created.Total,
			&created.PaymentReference, &created.WeightCategory, &created.ShippingMethod, &created.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range o.Items {
			if _, err := db.Exec(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4)`,
				created.ID, item.ProductID, item.Quantity, item.UnitPrice,
			); err != nil {
				return fmt.Errorf("insert order item %s: %w", item.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func trackingNumber() string {
	return "TRK" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
