package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/domain"
	pkgkafka "github.com/utafrali/pricing-engine/pkg/kafka"
	"github.com/utafrali/pricing-engine/pkg/logger"
)

// Kafka topics for pricing campaign events.
const (
	TopicCampaignApplied   = "ecommerce.pricing.campaign.applied"
	TopicCampaignReverted  = "ecommerce.pricing.campaign.reverted"
	TopicCampaignRecovered = "ecommerce.pricing.campaign.recovered"
)

// AggregateTypeCampaign is the aggregate type of campaign events.
const AggregateTypeCampaign = "pricing_campaign"

// SourcePricingEngine identifies events published by this service.
const SourcePricingEngine = "pricing-engine"

// CampaignAppliedData is the payload of a campaign.applied event.
type CampaignAppliedData struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	MinMarkupFactor decimal.Decimal `json:"min_markup_factor"`
	AffectedCount   int             `json:"affected_count"`
	BlockedCount    int             `json:"blocked_count"`
	AppliedAt       *time.Time      `json:"applied_at,omitempty"`
}

// CampaignRevertedData is the payload of a campaign.reverted event.
type CampaignRevertedData struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RestoredCount int       `json:"restored_count"`
	RevertedAt    time.Time `json:"reverted_at"`
}

// CampaignRecoveredData is the payload of a campaign.recovered event.
// ResumedPhase is the in-progress phase recovery found; Phase is where the
// campaign ended up ("active" or "archived").
type CampaignRecoveredData struct {
	ID           string `json:"id"`
	ResumedPhase string `json:"resumed_phase"`
	Phase        string `json:"phase"`
}

// Publisher is the subset of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes pricing campaign events.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a campaign event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishCampaignApplied announces a campaign whose prices are all live.
func (p *Producer) PublishCampaignApplied(ctx context.Context, c *domain.Campaign) error {
	return p.publish(ctx, TopicCampaignApplied, c.ID, CampaignAppliedData{
		ID:              c.ID,
		Name:            c.Name,
		DiscountPercent: c.DiscountPercent,
		MinMarkupFactor: c.MinMarkupFactor,
		AffectedCount:   c.AffectedCount,
		BlockedCount:    c.BlockedCount,
		AppliedAt:       c.AppliedAt,
	})
}

// PublishCampaignReverted announces a restored and archived campaign.
func (p *Producer) PublishCampaignReverted(ctx context.Context, a *domain.ArchivedCampaign) error {
	return p.publish(ctx, TopicCampaignReverted, a.ID, CampaignRevertedData{
		ID:            a.ID,
		Name:          a.Name,
		RestoredCount: len(a.Snapshot),
		RevertedAt:    a.RevertedAt,
	})
}

// PublishCampaignRecovered announces that recovery finished an interrupted
// apply or revert.
func (p *Producer) PublishCampaignRecovered(ctx context.Context, campaignID, resumedPhase, phase string) error {
	return p.publish(ctx, TopicCampaignRecovered, campaignID, CampaignRecoveredData{
		ID:           campaignID,
		ResumedPhase: resumedPhase,
		Phase:        phase,
	})
}

func (p *Producer) publish(ctx context.Context, topic, campaignID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, campaignID, AggregateTypeCampaign, SourcePricingEngine, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published campaign event",
		slog.String("topic", topic),
		slog.String("campaign_id", campaignID),
	)
	return nil
}
