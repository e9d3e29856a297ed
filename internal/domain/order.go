package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound           = errors.New("product not found")
	ErrUnsupportedShippingMethod = errors.New("unsupported shipping method")
)

type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	WeightGrams int
}

// PricedItem is an order line resolved against the catalog.
type PricedItem struct {
	OrderItem
	Name        string
	UnitPrice   decimal.Decimal
	WeightGrams int
}

func (i PricedItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingQuote struct {
	Cost           decimal.Decimal
	WeightCategory string
	OrderWeight    int // grams
}

// Charge is the outcome of pricing and charging one occurrence.
type Charge struct {
	Items            []PricedItem
	ProductTotal     decimal.Decimal
	Shipping         ShippingQuote
	ShippingMethod   string
	Amount           decimal.Decimal
	PaymentReference string
}

type NewOrder struct {
	CustomerID       string
	ReplenishmentID  *string
	Items            []PricedItem
	PaymentMethod    string
	ShippingCountry  string
	ShippingMethod   string
	WeightCategory   string
	OrderWeight      int
	Total            decimal.Decimal
	PaymentReference string
}

type Order struct {
	ID               string
	CustomerID       string
	TrackingNumber   string
	Total            decimal.Decimal
	PaymentReference string
	WeightCategory   string
	ShippingMethod   string
	CreatedAt        time.Time
}
