package domain

import "github.com/shopspring/decimal"

// Product is the slice of a catalog product the pricing engine reads and
// writes. SalePrice is the only field campaigns mutate.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Quantity  int64           `json:"quantity"`
}

// PriceUpdate sets one product's sale price. Writes are keyed by product id
// so replaying a batch is harmless.
type PriceUpdate struct {
	ProductID string          `json:"id"`
	SalePrice decimal.Decimal `json:"sale_price"`
}

// RoundMoney rounds to 2 decimals, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
