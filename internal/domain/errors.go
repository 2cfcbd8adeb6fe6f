package domain

import (
	"fmt"

	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
)

// Error kinds.
var (
	ErrValidation  = fmt.Errorf("validation error: %w", apperrors.ErrInvalidInput)
	ErrState       = fmt.Errorf("campaign state error: %w", apperrors.ErrConflict)
	ErrPersistence = fmt.Errorf("persistence error: %w", apperrors.ErrServiceUnavail)
)

// Specific errors.
var (
	ErrInvalidDiscount       = fmt.Errorf("invalid discount: %w", ErrValidation)
	ErrInvalidMarkupFloor    = fmt.Errorf("invalid markup floor: %w", ErrValidation)
	ErrCampaignAlreadyActive = fmt.Errorf("campaign already active: %w", ErrState)
	ErrNoActiveCampaign      = fmt.Errorf("no active campaign: %w", ErrState)
	ErrOperationInProgress   = fmt.Errorf("campaign operation in progress: %w", apperrors.ErrConflict)
)

// InvalidDiscount rejects a discount outside the accepted range.
func InvalidDiscount(message string) *apperrors.AppError {
	return apperrors.New(ErrInvalidDiscount, "INVALID_DISCOUNT", message, nil)
}

// InvalidMarkupFloor rejects a non-positive minimum markup factor.
func InvalidMarkupFloor(message string) *apperrors.AppError {
	return apperrors.New(ErrInvalidMarkupFloor, "INVALID_MARKUP_FLOOR", message, nil)
}

// CampaignAlreadyActive is returned by apply while a campaign exists.
func CampaignAlreadyActive(id string) *apperrors.AppError {
	return apperrors.New(ErrCampaignAlreadyActive, "CAMPAIGN_ALREADY_ACTIVE",
		fmt.Sprintf("campaign %s is already active; revert it first", id), nil)
}

// NoActiveCampaign is returned by revert when the engine is idle.
func NoActiveCampaign() *apperrors.AppError {
	return apperrors.New(ErrNoActiveCampaign, "NO_ACTIVE_CAMPAIGN", "there is no active campaign", nil)
}

// OperationInProgress is returned when another apply, revert or recovery
// holds the campaign lock past the wait budget.
func OperationInProgress() *apperrors.AppError {
	return apperrors.New(ErrOperationInProgress, "OPERATION_IN_PROGRESS",
		"another campaign operation is in progress, retry shortly", nil)
}

// Persistence reports a failed durable write. The campaign is left in its
// in-progress phase for recovery to finish.
func Persistence(message string, cause error) *apperrors.AppError {
	return apperrors.New(ErrPersistence, "PERSISTENCE_ERROR", message, cause)
}
