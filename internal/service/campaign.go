package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/lock"
	"github.com/utafrali/pricing-engine/internal/pricing"
	"github.com/utafrali/pricing-engine/internal/repository"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
	"github.com/utafrali/pricing-engine/pkg/logger"
	"github.com/utafrali/pricing-engine/pkg/tracing"
)

const tracerName = "github.com/utafrali/pricing-engine/internal/service"

// EventPublisher announces campaign lifecycle changes.
type EventPublisher interface {
	PublishCampaignApplied(ctx context.Context, c *domain.Campaign) error
	PublishCampaignReverted(ctx context.Context, a *domain.ArchivedCampaign) error
	PublishCampaignRecovered(ctx context.Context, campaignID, resumedPhase, phase string) error
}

// Archiver exports reverted campaigns for audit.
type Archiver interface {
	Export(ctx context.Context, a *domain.ArchivedCampaign) error
}

// Config tunes batching, retries and the campaign lease.
type Config struct {
	BatchSize    int
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	MaxDiscount  decimal.Decimal
	LockWait     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    500,
		MaxAttempts:  5,
		RetryInitial: 100 * time.Millisecond,
		RetryMax:     2 * time.Second,
		MaxDiscount:  decimal.NewFromInt(100),
		LockWait:     5 * time.Second,
	}
}

// Option customises a CampaignService.
type Option func(*CampaignService)

// WithEvents publishes lifecycle events through p.
func WithEvents(p EventPublisher) Option {
	return func(s *CampaignService) { s.events = p }
}

// WithArchiver exports every reverted campaign through a.
func WithArchiver(a Archiver) Option {
	return func(s *CampaignService) { s.archiver = a }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *CampaignService) { s.now = now }
}

// CampaignService drives simulate, apply and revert of store-wide price
// campaigns.
//
// Apply and revert run under a lease and follow a two-phase discipline: the
// campaign record and its full snapshot are stored first, then prices are
// written in batches, then the record is marked complete. A failure in
// between leaves the record in its in-progress phase, and the next Recover
// finishes the job.
type CampaignService struct {
	products  repository.ProductRepository
	campaigns repository.CampaignRepository
	locker    lock.Locker
	events    EventPublisher
	archiver  Archiver
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewCampaignService creates a campaign service. Zero config values fall back
// to DefaultConfig.
func NewCampaignService(
	products repository.ProductRepository,
	campaigns repository.CampaignRepository,
	locker lock.Locker,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *CampaignService {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	if cfg.MaxDiscount.IsZero() {
		cfg.MaxDiscount = def.MaxDiscount
	}

	s := &CampaignService{
		products:  products,
		campaigns: campaigns,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyInput holds the parameters of a new campaign.
type ApplyInput struct {
	Name   string
	Params pricing.Params
}

// Simulate projects params over the current catalog without changing
// anything. It is allowed in any campaign state.
func (s *CampaignService) Simulate(ctx context.Context, params pricing.Params, withItems bool) (_ *domain.Projection, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "campaign.simulate",
		attribute.String("pricing.discount_percent", params.DiscountPercent.String()),
		attribute.String("pricing.min_markup_factor", params.MinMarkupFactor.String()))
	defer func() {
		tracing.EndSpan(span, err)
		operationsTotal.WithLabelValues("simulate", outcome(err)).Inc()
	}()

	if err := params.Validate(s.cfg.MaxDiscount); err != nil {
		return nil, err
	}

	products, err := s.products.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return pricing.Simulate(products, params, withItems), nil
}

// Apply snapshots every affected product, stores the campaign and writes the
// discounted prices. It fails with CampaignAlreadyActive while another
// campaign exists. Once the lease is held the operation runs to completion
// even if ctx is canceled.
func (s *CampaignService) Apply(ctx context.Context, input ApplyInput) (_ *domain.Campaign, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "campaign.apply",
		attribute.String("campaign.name", input.Name))
	defer func() {
		tracing.EndSpan(span, err)
		operationsTotal.WithLabelValues("apply", outcome(err)).Inc()
	}()

	if err := input.Params.Validate(s.cfg.MaxDiscount); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("campaign name is required")
	}

	lease, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	defer s.release(ctx, lease)

	if _, err := s.recoverLocked(ctx, lease); err != nil {
		return nil, err
	}

	existing, err := s.campaigns.Get(ctx)
	switch {
	case err == nil:
		return nil, domain.CampaignAlreadyActive(existing.ID)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	products, err := s.products.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	projection := pricing.Simulate(products, input.Params, false)

	items := make([]domain.CampaignItem, 0, projection.AffectedCount)
	for _, p := range products {
		candidate, ok := projection.Candidates[p.ID]
		if !ok {
			continue
		}
		items = append(items, domain.CampaignItem{
			ProductID:     p.ID,
			OriginalPrice: p.SalePrice,
			CampaignPrice: candidate,
			State:         domain.ItemPending,
		})
	}

	now := s.now().UTC()
	campaign := &domain.Campaign{
		ID:              uuid.New().String(),
		Name:            name,
		DiscountPercent: input.Params.DiscountPercent,
		MinMarkupFactor: input.Params.MinMarkupFactor,
		Phase:           domain.PhaseApplying,
		AffectedCount:   projection.AffectedCount,
		BlockedCount:    projection.BlockedCount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ctx = logger.WithCampaignID(ctx, campaign.ID)
	log := logger.WithContext(ctx, s.logger)

	if err := s.campaigns.Begin(ctx, campaign, items); err != nil {
		if errors.Is(err, domain.ErrCampaignAlreadyActive) {
			return nil, s.alreadyActive(ctx)
		}
		return nil, domain.Persistence("failed to store campaign snapshot", err)
	}
	log.InfoContext(ctx, "campaign snapshot stored",
		slog.String("name", campaign.Name),
		slog.Int("affected", campaign.AffectedCount),
		slog.Int("blocked", campaign.BlockedCount),
	)

	if err := s.finishApply(ctx, lease, campaign, items); err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "campaign applied", slog.Int("affected", campaign.AffectedCount))
	s.publishApplied(ctx, campaign)
	return campaign, nil
}

// Revert writes every snapshot price back and archives the campaign. It
// fails with NoActiveCampaign when the engine is idle.
func (s *CampaignService) Revert(ctx context.Context) (_ *domain.ArchivedCampaign, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "campaign.revert")
	defer func() {
		tracing.EndSpan(span, err)
		operationsTotal.WithLabelValues("revert", outcome(err)).Inc()
	}()

	lease, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	defer s.release(ctx, lease)

	if _, err := s.recoverLocked(ctx, lease); err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.Get(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, domain.NoActiveCampaign()
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	ctx = logger.WithCampaignID(ctx, campaign.ID)

	if err := s.campaigns.Transition(ctx, campaign.ID, domain.PhaseActive, domain.PhaseReverting, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStalePhase) {
			return nil, domain.NoActiveCampaign()
		}
		return nil, domain.Persistence("failed to mark campaign reverting", err)
	}
	campaign.Phase = domain.PhaseReverting
	logger.WithContext(ctx, s.logger).InfoContext(ctx, "campaign revert started")

	items, err := s.campaigns.Items(ctx, campaign.ID)
	if err != nil {
		return nil, domain.Persistence("failed to load campaign snapshot", err)
	}

	archived, err := s.finishRevert(ctx, lease, campaign, items)
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.logger).InfoContext(ctx, "campaign reverted",
		slog.Int("restored", len(archived.Snapshot)))
	s.afterRevert(ctx, archived)
	return archived, nil
}

// Active returns the live campaign, or NoActiveCampaign when idle.
func (s *CampaignService) Active(ctx context.Context) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, domain.NoActiveCampaign()
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return campaign, nil
}

// Financials aggregates revenue, profit and markup over current prices.
func (s *CampaignService) Financials(ctx context.Context) (domain.Metrics, error) {
	products, err := s.products.ListAll(ctx)
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("list products: %w", err)
	}
	return pricing.Aggregate(products, pricing.CurrentPrice), nil
}

// History lists archived campaigns, newest first.
func (s *CampaignService) History(ctx context.Context, limit, offset int) ([]domain.ArchivedCampaign, int, error) {
	return s.campaigns.ListHistory(ctx, limit, offset)
}

// GetHistory returns one archived campaign with its snapshot.
func (s *CampaignService) GetHistory(ctx context.Context, id string) (*domain.ArchivedCampaign, error) {
	return s.campaigns.GetHistory(ctx, id)
}

// finishApply writes the pending campaign prices and marks the campaign
// active.
func (s *CampaignService) finishApply(ctx context.Context, lease lock.Lease, c *domain.Campaign, items []domain.CampaignItem) error {
	pending := filterItems(items, func(it domain.CampaignItem) bool { return it.State == domain.ItemPending })
	err := s.writeBatches(ctx, lease, c.ID, phaseApply, pending, domain.ItemApplied,
		func(it domain.CampaignItem) decimal.Decimal { return it.CampaignPrice })
	if err != nil {
		return err
	}

	appliedAt := s.now().UTC()
	err = s.retry(ctx, "mark campaign active", func(ctx context.Context) error {
		return s.campaigns.Transition(ctx, c.ID, domain.PhaseApplying, domain.PhaseActive, appliedAt)
	})
	if err != nil {
		return domain.Persistence("failed to mark campaign active", err)
	}

	c.Phase = domain.PhaseActive
	c.AppliedAt = &appliedAt
	c.UpdatedAt = appliedAt
	campaignActive.Set(1)
	return nil
}

// finishRevert restores every snapshot price not yet restored and archives
// the campaign.
func (s *CampaignService) finishRevert(ctx context.Context, lease lock.Lease, c *domain.Campaign, items []domain.CampaignItem) (*domain.ArchivedCampaign, error) {
	remaining := filterItems(items, func(it domain.CampaignItem) bool { return it.State != domain.ItemRestored })
	err := s.writeBatches(ctx, lease, c.ID, phaseRevert, remaining, domain.ItemRestored,
		func(it domain.CampaignItem) decimal.Decimal { return it.OriginalPrice })
	if err != nil {
		return nil, err
	}

	archived := c.Archive(items, s.now().UTC())
	err = s.retry(ctx, "archive campaign", func(ctx context.Context) error {
		return s.campaigns.Archive(ctx, archived)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStalePhase) {
			return nil, domain.NoActiveCampaign()
		}
		return nil, domain.Persistence("failed to archive campaign", err)
	}

	campaignActive.Set(0)
	return archived, nil
}

// acquire takes the campaign lease, waiting at most cfg.LockWait.
func (s *CampaignService) acquire(ctx context.Context) (lock.Lease, error) {
	lease, err := s.locker.Acquire(ctx, s.cfg.LockWait)
	switch {
	case err == nil:
		return lease, nil
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, domain.OperationInProgress()
	case ctx.Err() != nil:
		return nil, fmt.Errorf("acquire campaign lease: %w", err)
	default:
		return nil, domain.Persistence("campaign lease unavailable", err)
	}
}

func (s *CampaignService) release(ctx context.Context, lease lock.Lease) {
	if err := lease.Release(ctx); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to release campaign lease",
			slog.String("error", err.Error()))
	}
}

// alreadyActive builds CampaignAlreadyActive for whichever campaign won the
// race to Begin.
func (s *CampaignService) alreadyActive(ctx context.Context) error {
	existing, err := s.campaigns.Get(ctx)
	if err != nil {
		return domain.CampaignAlreadyActive("unknown")
	}
	return domain.CampaignAlreadyActive(existing.ID)
}

func (s *CampaignService) publishApplied(ctx context.Context, c *domain.Campaign) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishCampaignApplied(ctx, c); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to publish campaign.applied event",
			slog.String("error", err.Error()))
	}
}

// afterRevert exports and announces an archived campaign. Both are
// best-effort; the revert itself has already committed.
func (s *CampaignService) afterRevert(ctx context.Context, a *domain.ArchivedCampaign) {
	log := logger.WithContext(ctx, s.logger)
	if s.archiver != nil {
		if err := s.archiver.Export(ctx, a); err != nil {
			log.WarnContext(ctx, "failed to export archived campaign", slog.String("error", err.Error()))
		}
	}
	if s.events != nil {
		if err := s.events.PublishCampaignReverted(ctx, a); err != nil {
			log.WarnContext(ctx, "failed to publish campaign.reverted event", slog.String("error", err.Error()))
		}
	}
}

func filterItems(items []domain.CampaignItem, keep func(domain.CampaignItem) bool) []domain.CampaignItem {
	out := make([]domain.CampaignItem, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrConflict):
		return outcomeRejected
	default:
		return outcomeFailed
	}
}
