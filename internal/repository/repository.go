package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/pricing-engine/internal/domain"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
)

// ErrStalePhase is returned when a conditional campaign update finds the
// record in a different phase than expected (or gone).
var ErrStalePhase = fmt.Errorf("campaign phase changed concurrently: %w", apperrors.ErrConflict)

// ProductRepository is the product store campaigns read from and write to.
type ProductRepository interface {
	// ListAll returns every product.
	ListAll(ctx context.Context) ([]domain.Product, error)

	// WritePrices sets the sale price of each product in updates. Writes are
	// keyed by product id and safe to repeat.
	WritePrices(ctx context.Context, updates []domain.PriceUpdate) error
}

// CampaignRepository persists the single live campaign, its snapshot and the
// history of reverted campaigns.
type CampaignRepository interface {
	// Get returns the live campaign, or apperrors.ErrNotFound when idle.
	Get(ctx context.Context) (*domain.Campaign, error)

	// Items returns the snapshot entries of a campaign ordered by product id.
	Items(ctx context.Context, campaignID string) ([]domain.CampaignItem, error)

	// Begin durably stores c (in PhaseApplying) together with its full
	// snapshot. It fails with domain.ErrCampaignAlreadyActive when a live
	// campaign exists.
	Begin(ctx context.Context, c *domain.Campaign, items []domain.CampaignItem) error

	// MarkItems records batch progress for the given products.
	MarkItems(ctx context.Context, campaignID string, productIDs []string, state string) error

	// Transition moves the campaign from one phase to the next, failing with
	// ErrStalePhase when it is not in phase from. Entering PhaseActive stamps
	// applied_at.
	Transition(ctx context.Context, campaignID, from, to string, at time.Time) error

	// Archive deletes the reverting campaign and writes its history entry in
	// one transaction.
	Archive(ctx context.Context, archived *domain.ArchivedCampaign) error

	// ListHistory returns archived campaigns, newest first, without snapshots.
	ListHistory(ctx context.Context, limit, offset int) ([]domain.ArchivedCampaign, int, error)

	// GetHistory returns one archived campaign including its snapshot.
	GetHistory(ctx context.Context, id string) (*domain.ArchivedCampaign, error)
}
