package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/domain"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
	pkgkafka "github.com/utafrali/pricing-engine/pkg/kafka"
)

// TopicProductPriceChanged is published by the catalog on every sale price
// change, including the ones campaigns make.
const TopicProductPriceChanged = "ecommerce.product.price_changed"

// ExternalEdits counts sale price changes to snapshotted products that did
// not come from the active campaign.
var ExternalEdits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pricing_campaign_external_edits_total",
	Help: "Sale price edits made to campaign products outside the campaign",
})

// PriceChangedData is the payload of a product.price_changed event.
type PriceChangedData struct {
	ProductID string          `json:"product_id"`
	SalePrice decimal.Decimal `json:"sale_price"`
}

// CampaignReader is what drift detection needs from campaign storage.
type CampaignReader interface {
	Get(ctx context.Context) (*domain.Campaign, error)
	Items(ctx context.Context, campaignID string) ([]domain.CampaignItem, error)
}

// DriftDetector flags catalog price edits made while a campaign is active.
// It never reconciles them: revert restores the snapshot regardless.
type DriftDetector struct {
	campaigns CampaignReader
	logger    *slog.Logger

	mu         sync.Mutex
	campaignID string
	expected   map[string]decimal.Decimal
}

// NewDriftDetector creates a detector reading campaigns from r.
func NewDriftDetector(r CampaignReader, logger *slog.Logger) *DriftDetector {
	return &DriftDetector{campaigns: r, logger: logger}
}

// HandlePriceChanged implements pkgkafka.Handler.
func (d *DriftDetector) HandlePriceChanged(ctx context.Context, event *pkgkafka.Event) error {
	var data PriceChangedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal product.price_changed data: %w", err)
	}

	campaign, err := d.campaigns.Get(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	// Prices are in flux while batches run.
	if campaign.Phase != domain.PhaseActive {
		return nil
	}

	expected, err := d.expectedPrices(ctx, campaign.ID)
	if err != nil {
		return err
	}
	want, ok := expected[data.ProductID]
	if !ok || want.Equal(data.SalePrice) {
		return nil
	}

	ExternalEdits.Inc()
	d.logger.WarnContext(ctx, "campaign product edited externally; revert will restore the snapshot price",
		slog.String("campaign_id", campaign.ID),
		slog.String("product_id", data.ProductID),
		slog.String("campaign_price", want.String()),
		slog.String("new_price", data.SalePrice.String()),
		slog.String("source", event.Source),
	)
	return nil
}

// expectedPrices caches the campaign prices of the current campaign.
func (d *DriftDetector) expectedPrices(ctx context.Context, campaignID string) (map[string]decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.campaignID == campaignID {
		return d.expected, nil
	}

	items, err := d.campaigns.Items(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign items: %w", err)
	}
	expected := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		expected[it.ProductID] = it.CampaignPrice
	}
	d.campaignID = campaignID
	d.expected = expected
	return expected, nil
}
