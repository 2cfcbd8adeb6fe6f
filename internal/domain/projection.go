package domain

import "github.com/shopspring/decimal"

// Metrics are the financial aggregates of a product set at some price.
type Metrics struct {
	ProductCount int             `json:"product_count"`
	Revenue      decimal.Decimal `json:"revenue"`
	Profit       decimal.Decimal `json:"profit"`
	AvgMarkup    decimal.Decimal `json:"avg_markup"`
}

// Projection is the outcome of simulating a discount over the catalog.
type Projection struct {
	AffectedCount      int             `json:"affected_count"`
	BlockedCount       int             `json:"blocked_count"`
	CurrentRevenue     decimal.Decimal `json:"current_revenue"`
	ProjectedRevenue   decimal.Decimal `json:"projected_revenue"`
	CurrentProfit      decimal.Decimal `json:"current_profit"`
	ProjectedProfit    decimal.Decimal `json:"projected_profit"`
	CurrentAvgMarkup   decimal.Decimal `json:"current_avg_markup"`
	ProjectedAvgMarkup decimal.Decimal `json:"projected_avg_markup"`

	// Items is only filled when a per-product breakdown was requested.
	Items []ProjectionItem `json:"items,omitempty"`

	// Candidates holds the new sale price of every affected product.
	Candidates map[string]decimal.Decimal `json:"-"`
}

// ProjectionItem classifies a single product.
type ProjectionItem struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name,omitempty"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	CandidatePrice decimal.Decimal `json:"candidate_price"`
	FloorPrice     decimal.Decimal `json:"floor_price"`
	Affected       bool            `json:"affected"`
}
