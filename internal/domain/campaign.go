package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign phases. An idle engine has no campaign record at all.
const (
	// PhaseApplying: the record and full snapshot are persisted, price batches
	// are still being written.
	PhaseApplying = "applying"
	// PhaseActive: every affected product carries its campaign price.
	PhaseActive = "active"
	// PhaseReverting: snapshot prices are being written back.
	PhaseReverting = "reverting"
)

// Campaign item states track per-product batch progress.
const (
	ItemPending  = "pending"
	ItemApplied  = "applied"
	ItemRestored = "restored"
)

// Campaign is the durable record of the single store-wide price campaign.
type Campaign struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	MinMarkupFactor decimal.Decimal `json:"min_markup_factor"`
	Phase           string          `json:"phase"`
	AffectedCount   int             `json:"affected_count"`
	BlockedCount    int             `json:"blocked_count"`
	AppliedAt       *time.Time      `json:"applied_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CampaignItem is one snapshot entry: the price a product had before the
// campaign and the price the campaign gives it.
type CampaignItem struct {
	ProductID     string          `json:"product_id"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	CampaignPrice decimal.Decimal `json:"campaign_price"`
	State         string          `json:"state"`
}

// Snapshot maps product id to its pre-campaign sale price.
func Snapshot(items []CampaignItem) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		out[it.ProductID] = it.OriginalPrice
	}
	return out
}

// ArchivedCampaign is a reverted campaign kept for audit.
type ArchivedCampaign struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	DiscountPercent decimal.Decimal            `json:"discount_percent"`
	MinMarkupFactor decimal.Decimal            `json:"min_markup_factor"`
	AffectedCount   int                        `json:"affected_count"`
	BlockedCount    int                        `json:"blocked_count"`
	AppliedAt       *time.Time                 `json:"applied_at,omitempty"`
	RevertedAt      time.Time                  `json:"reverted_at"`
	Snapshot        map[string]decimal.Decimal `json:"snapshot,omitempty"`
}

// Archive builds the history entry for c being reverted at revertedAt.
func (c *Campaign) Archive(items []CampaignItem, revertedAt time.Time) *ArchivedCampaign {
	return &ArchivedCampaign{
		ID:              c.ID,
		Name:            c.Name,
		DiscountPercent: c.DiscountPercent,
		MinMarkupFactor: c.MinMarkupFactor,
		AffectedCount:   c.AffectedCount,
		BlockedCount:    c.BlockedCount,
		AppliedAt:       c.AppliedAt,
		RevertedAt:      revertedAt,
		Snapshot:        Snapshot(items),
	}
}

var transitions = map[string]string{
	PhaseApplying: PhaseActive,
	PhaseActive:   PhaseReverting,
}

// CanTransition reports whether a campaign may move from one phase to the
// other. Reverting has no successor phase; it ends by archiving the record.
func CanTransition(from, to string) bool {
	next, ok := transitions[from]
	return ok && next == to
}
