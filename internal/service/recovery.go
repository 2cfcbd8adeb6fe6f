package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/lock"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
	"github.com/utafrali/pricing-engine/pkg/logger"
	"github.com/utafrali/pricing-engine/pkg/tracing"
)

// phaseArchived is reported by recovery when it finished a revert.
const phaseArchived = "archived"

// RecoveryResult describes what a recovery pass did.
type RecoveryResult struct {
	CampaignID   string
	ResumedPhase string
	Phase        string
}

// Recover finishes a campaign a previous apply or revert left in progress.
// It returns nil, nil when there was nothing to do.
func (s *CampaignService) Recover(ctx context.Context) (_ *RecoveryResult, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "campaign.recover")
	defer func() {
		tracing.EndSpan(span, err)
		operationsTotal.WithLabelValues("recover", outcome(err)).Inc()
	}()

	lease, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	defer s.release(ctx, lease)

	return s.recoverLocked(ctx, lease)
}

// recoverLocked resumes an in-progress campaign. The caller holds lease.
func (s *CampaignService) recoverLocked(ctx context.Context, lease lock.Lease) (*RecoveryResult, error) {
	campaign, err := s.campaigns.Get(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		campaignActive.Set(0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Phase == domain.PhaseActive {
		campaignActive.Set(1)
		return nil, nil
	}

	ctx = logger.WithCampaignID(ctx, campaign.ID)
	log := logger.WithContext(ctx, s.logger)
	log.InfoContext(ctx, "resuming interrupted campaign", slog.String("phase", campaign.Phase))

	items, err := s.campaigns.Items(ctx, campaign.ID)
	if err != nil {
		return nil, domain.Persistence("failed to load campaign snapshot", err)
	}

	result := &RecoveryResult{CampaignID: campaign.ID, ResumedPhase: campaign.Phase}
	switch campaign.Phase {
	case domain.PhaseApplying:
		if err := s.finishApply(ctx, lease, campaign, items); err != nil {
			return nil, err
		}
		result.Phase = domain.PhaseActive
		log.InfoContext(ctx, "interrupted apply completed", slog.Int("affected", campaign.AffectedCount))
		s.publishApplied(ctx, campaign)

	case domain.PhaseReverting:
		archived, err := s.finishRevert(ctx, lease, campaign, items)
		if err != nil {
			return nil, err
		}
		result.Phase = phaseArchived
		log.InfoContext(ctx, "interrupted revert completed", slog.Int("restored", len(archived.Snapshot)))
		s.afterRevert(ctx, archived)

	default:
		return nil, fmt.Errorf("campaign %s in unknown phase %q", campaign.ID, campaign.Phase)
	}

	if s.events != nil {
		if err := s.events.PublishCampaignRecovered(ctx, result.CampaignID, result.ResumedPhase, result.Phase); err != nil {
			log.WarnContext(ctx, "failed to publish campaign.recovered event", slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// RunRecovery calls Recover every interval until ctx is canceled. A lease held
// elsewhere just skips the round.
func (s *CampaignService) RunRecovery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.Recover(ctx)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrOperationInProgress), ctx.Err() != nil:
				s.logger.Debug("recovery round skipped", slog.String("reason", err.Error()))
			default:
				s.logger.Error("background recovery failed", slog.String("error", err.Error()))
			}
		}
	}
}
