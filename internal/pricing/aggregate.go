// Package pricing holds the pure campaign math: the financial aggregator
// and the discount simulator. Nothing here performs I/O.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/domain"
)

// markupPlaces is the precision reported for average markup ratios.
const markupPlaces = 4

// PriceFunc selects the sale price to aggregate for a product.
type PriceFunc func(p domain.Product) decimal.Decimal

// CurrentPrice aggregates products at their stored sale price.
func CurrentPrice(p domain.Product) decimal.Decimal { return p.SalePrice }

// Aggregate computes revenue, profit and average markup of products priced
// by price. Products without a cost count towards revenue and profit but not
// towards the markup average.
func Aggregate(products []domain.Product, price PriceFunc) domain.Metrics {
	revenue := decimal.Zero
	profit := decimal.Zero
	markupSum := decimal.Zero
	markupN := int64(0)

	for _, p := range products {
		sale := price(p)
		qty := decimal.NewFromInt(p.Quantity)
		revenue = revenue.Add(sale.Mul(qty))
		profit = profit.Add(sale.Sub(p.CostPrice).Mul(qty))
		if p.CostPrice.IsPositive() {
			markupSum = markupSum.Add(sale.Div(p.CostPrice))
			markupN++
		}
	}

	avg := decimal.Zero
	if markupN > 0 {
		avg = markupSum.Div(decimal.NewFromInt(markupN)).Round(markupPlaces)
	}

	return domain.Metrics{
		ProductCount: len(products),
		Revenue:      revenue,
		Profit:       profit,
		AvgMarkup:    avg,
	}
}
