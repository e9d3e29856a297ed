// Package shipping prices delivery for an order by total weight, method and destination.
package shipping

import (
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	MethodStandard = "standard"
	MethodExpress  = "express"
)

const domesticCountry = "US"

type tier struct {
	category string
	maxGrams int // inclusive; 0 means unbounded
	cost     decimal.Decimal
}

var tiers = []tier{
	{category: "light", maxGrams: 1_000, cost: decimal.RequireFromString("4.99")},
	{category: "medium", maxGrams: 5_000, cost: decimal.RequireFromString("9.99")},
	{category: "heavy", maxGrams: 20_000, cost: decimal.RequireFromString("19.99")},
	{category: "freight", cost: decimal.RequireFromString("49.99")},
}

var (
	expressMultiplier       = decimal.NewFromInt(2)
	internationalMultiplier = decimal.RequireFromString("1.5")
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate quotes shipping for items already resolved against the catalog.
func (c *Calculator) Calculate(country, method string, items []domain.PricedItem) (domain.ShippingQuote, error) {
	var grams int
	for _, it := range items {
		grams += it.WeightGrams * it.Quantity
	}

	t := tierFor(grams)
	cost := t.cost

	switch method {
	case MethodStandard:
	case MethodExpress:
		cost = cost.Mul(expressMultiplier)
	default:
		return domain.ShippingQuote{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedShippingMethod, method)
	}

	if !strings.EqualFold(country, domesticCountry) {
		cost = cost.Mul(internationalMultiplier)
	}

	return domain.ShippingQuote{
		Cost:           cost.Round(2),
		WeightCategory: t.category,
		OrderWeight:    grams,
	}, nil
}

// DeliveryEstimate is the expected arrival for an order placed at placedAt.
func (c *Calculator) DeliveryEstimate(method string, placedAt time.Time) time.Time {
	days := 5
	if method == MethodExpress {
		days = 2
	}
	return placedAt.AddDate(0, 0, days)
}

func tierFor(grams int) tier {
	for _, t := range tiers {
		if t.maxGrams == 0 || grams <= t.maxGrams {
			return t
		}
	}
	return tiers[len(tiers)-1]
}
