package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/lock"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
	"github.com/utafrali/pricing-engine/pkg/logger"
)

// Batch phases, used as metric labels.
const (
	phaseApply  = "apply"
	phaseRevert = "revert"
)

// writeBatches writes price(item) for every item in chunks of cfg.BatchSize.
// The lease is refreshed before every write attempt and a lost lease stops
// the run before anything is written. After each chunk the items are marked
// done, so an interrupted run resumes at the first unmarked chunk. Writes are
// keyed by product id; replaying a chunk whose mark was lost is harmless.
func (s *CampaignService) writeBatches(
	ctx context.Context,
	lease lock.Lease,
	campaignID, phase string,
	items []domain.CampaignItem,
	done string,
	price func(domain.CampaignItem) decimal.Decimal,
) error {
	log := logger.WithContext(ctx, s.logger)
	written := 0

	for batch := range slices.Chunk(items, s.cfg.BatchSize) {
		updates := make([]domain.PriceUpdate, len(batch))
		ids := make([]string, len(batch))
		for i, it := range batch {
			updates[i] = domain.PriceUpdate{ProductID: it.ProductID, SalePrice: price(it)}
			ids[i] = it.ProductID
		}

		err := s.retry(ctx, phase+" price batch", func(ctx context.Context) error {
			if err := lease.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh campaign lease: %w", err)
			}
			if err := s.products.WritePrices(ctx, updates); err != nil {
				batchWritesTotal.WithLabelValues(phase, batchRetry).Inc()
				return err
			}
			return nil
		})
		if errors.Is(err, lock.ErrLeaseLost) {
			log.ErrorContext(ctx, "campaign lease lost, stopping before write",
				slog.String("phase", phase),
				slog.Int("written", written),
			)
			return domain.Persistence("campaign lease lost", err)
		}
		if err != nil {
			batchWritesTotal.WithLabelValues(phase, batchExhausted).Inc()
			log.ErrorContext(ctx, "price batch failed, campaign left for recovery",
				slog.String("phase", phase),
				slog.Int("written", written),
				slog.Int("remaining", len(items)-written),
				slog.String("error", err.Error()),
			)
			return domain.Persistence(fmt.Sprintf("failed to write %s prices; recovery will resume", phase), err)
		}
		batchWritesTotal.WithLabelValues(phase, batchSuccess).Inc()

		err = s.retry(ctx, "record batch progress", func(ctx context.Context) error {
			return s.campaigns.MarkItems(ctx, campaignID, ids, done)
		})
		if err != nil {
			return domain.Persistence("failed to record batch progress; recovery will resume", err)
		}

		written += len(batch)
		log.DebugContext(ctx, "price batch written",
			slog.String("phase", phase),
			slog.Int("written", written),
			slog.Int("total", len(items)),
		)
	}
	return nil
}

// retry runs op with exponential backoff until it succeeds or
// cfg.MaxAttempts is used up. Conflicts and a lost lease are never retried.
func (s *CampaignService) retry(ctx context.Context, what string, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, lock.ErrLeaseLost) || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if attempt < s.cfg.MaxAttempts {
			logger.WithContext(ctx, s.logger).WarnContext(ctx, "campaign write failed, retrying",
				slog.String("operation", what),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", s.cfg.MaxAttempts),
				slog.String("error", err.Error()),
			)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
	return err
}
