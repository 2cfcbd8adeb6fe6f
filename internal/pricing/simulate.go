package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Params are the inputs of a store-wide discount.
type Params struct {
	DiscountPercent decimal.Decimal
	MinMarkupFactor decimal.Decimal
}

// Validate checks params against the accepted ranges. maxDiscount is the
// operator cap on the discount percent (100 allows the full range).
func (p Params) Validate(maxDiscount decimal.Decimal) error {
	if p.DiscountPercent.IsNegative() || p.DiscountPercent.GreaterThan(hundred) {
		return domain.InvalidDiscount("discount_percent must be between 0 and 100")
	}
	if p.DiscountPercent.GreaterThan(maxDiscount) {
		return domain.InvalidDiscount(fmt.Sprintf("discount_percent must not exceed %s", maxDiscount))
	}
	if !p.MinMarkupFactor.IsPositive() {
		return domain.InvalidMarkupFloor("min_markup_factor must be greater than 0")
	}
	return nil
}

// CandidatePrice is the discounted sale price before the floor check. The
// product is exact; RoundMoney is the only rounding step.
func CandidatePrice(salePrice, discountPercent decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(salePrice.Mul(hundred.Sub(discountPercent)).Shift(-2))
}

// FloorPrice is the lowest sale price the markup floor allows. Zero-cost
// products have no floor.
func FloorPrice(costPrice, minMarkupFactor decimal.Decimal) decimal.Decimal {
	if costPrice.IsZero() {
		return decimal.Zero
	}
	return domain.RoundMoney(costPrice.Mul(minMarkupFactor))
}

// Simulate classifies every product as affected (its candidate price clears
// the floor) or blocked (it keeps its current price) and aggregates both the
// current and projected catalog. It does not modify products.
func Simulate(products []domain.Product, params Params, withItems bool) *domain.Projection {
	candidates := make(map[string]decimal.Decimal, len(products))
	var items []domain.ProjectionItem
	if withItems {
		items = make([]domain.ProjectionItem, 0, len(products))
	}

	proj := &domain.Projection{Candidates: candidates}
	for _, p := range products {
		candidate := CandidatePrice(p.SalePrice, params.DiscountPercent)
		floor := FloorPrice(p.CostPrice, params.MinMarkupFactor)
		affected := candidate.GreaterThanOrEqual(floor)

		if affected {
			candidates[p.ID] = candidate
			proj.AffectedCount++
		} else {
			proj.BlockedCount++
		}
		if withItems {
			items = append(items, domain.ProjectionItem{
				ProductID:      p.ID,
				Name:           p.Name,
				CurrentPrice:   p.SalePrice,
				CandidatePrice: candidate,
				FloorPrice:     floor,
				Affected:       affected,
			})
		}
	}
	proj.Items = items

	projected := func(p domain.Product) decimal.Decimal {
		if c, ok := candidates[p.ID]; ok {
			return c
		}
		return p.SalePrice
	}

	current := Aggregate(products, CurrentPrice)
	next := Aggregate(products, projected)
	proj.CurrentRevenue = current.Revenue
	proj.ProjectedRevenue = next.Revenue
	proj.CurrentProfit = current.Profit
	proj.ProjectedProfit = next.Profit
	proj.CurrentAvgMarkup = current.AvgMarkup
	proj.ProjectedAvgMarkup = next.AvgMarkup
	return proj
}
