package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/pricing"
	"github.com/utafrali/pricing-engine/internal/service"
	"github.com/utafrali/pricing-engine/pkg/httputil"
	"github.com/utafrali/pricing-engine/pkg/pagination"
	"github.com/utafrali/pricing-engine/pkg/validator"
)

const maxBodyBytes = 1 << 20

// CampaignService is the campaign engine as seen by the HTTP layer.
type CampaignService interface {
	Simulate(ctx context.Context, params pricing.Params, withItems bool) (*domain.Projection, error)
	Apply(ctx context.Context, input service.ApplyInput) (*domain.Campaign, error)
	Revert(ctx context.Context) (*domain.ArchivedCampaign, error)
	Active(ctx context.Context) (*domain.Campaign, error)
	Financials(ctx context.Context) (domain.Metrics, error)
	History(ctx context.Context, limit, offset int) ([]domain.ArchivedCampaign, int, error)
	GetHistory(ctx context.Context, id string) (*domain.ArchivedCampaign, error)
}

// PricingHandler serves the pricing campaign endpoints.
type PricingHandler struct {
	service CampaignService
	logger  *slog.Logger
}

// NewPricingHandler creates a pricing HTTP handler.
func NewPricingHandler(svc CampaignService, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// SimulateRequest is the body of POST /campaigns/simulate.
type SimulateRequest struct {
	DiscountPercent *decimal.Decimal `json:"discount_percent" validate:"required"`
	MinMarkupFactor *decimal.Decimal `json:"min_markup_factor" validate:"required"`
	IncludeItems    bool             `json:"include_items"`
}

// ApplyRequest is the body of POST /campaigns/apply.
type ApplyRequest struct {
	DiscountPercent *decimal.Decimal `json:"discount_percent" validate:"required"`
	MinMarkupFactor *decimal.Decimal `json:"min_markup_factor" validate:"required"`
	Name            string           `json:"name" validate:"required,min=1,max=255"`
}

// --- Response DTOs ---

// ApplyResponse is returned by a successful apply.
type ApplyResponse struct {
	CampaignID    string `json:"campaign_id"`
	AffectedCount int    `json:"affected_count"`
	BlockedCount  int    `json:"blocked_count"`
}

// RevertResponse is returned by a successful revert.
type RevertResponse struct {
	Message       string `json:"message"`
	CampaignID    string `json:"campaign_id"`
	RestoredCount int    `json:"restored_count"`
}

// --- Handlers ---

// Simulate handles POST /api/v1/pricing/campaigns/simulate
func (h *PricingHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SimulateRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	params := pricing.Params{DiscountPercent: *req.DiscountPercent, MinMarkupFactor: *req.MinMarkupFactor}
	projection, err := h.service.Simulate(r.Context(), params, req.IncludeItems)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: projection})
}

// Apply handles POST /api/v1/pricing/campaigns/apply
func (h *PricingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ApplyRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	campaign, err := h.service.Apply(r.Context(), service.ApplyInput{
		Name:   req.Name,
		Params: pricing.Params{DiscountPercent: *req.DiscountPercent, MinMarkupFactor: *req.MinMarkupFactor},
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: ApplyResponse{
		CampaignID:    campaign.ID,
		AffectedCount: campaign.AffectedCount,
		BlockedCount:  campaign.BlockedCount,
	}})
}

// Revert handles POST /api/v1/pricing/campaigns/revert
func (h *PricingHandler) Revert(w http.ResponseWriter, r *http.Request) {
	archived, err := h.service.Revert(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: RevertResponse{
		Message:       fmt.Sprintf("campaign %q reverted, %d prices restored", archived.Name, len(archived.Snapshot)),
		CampaignID:    archived.ID,
		RestoredCount: len(archived.Snapshot),
	}})
}

// Active handles GET /api/v1/pricing/campaigns/active
func (h *PricingHandler) Active(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.service.Active(r.Context())
	if errors.Is(err, domain.ErrNoActiveCampaign) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NO_ACTIVE_CAMPAIGN", Message: "there is no active campaign"},
		})
		return
	}
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: campaign})
}

// History handles GET /api/v1/pricing/campaigns/history
func (h *PricingHandler) History(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)

	campaigns, total, err := h.service.History(r.Context(), page.PerPage, page.Offset)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(campaigns, total, page.Page, page.PerPage))
}

// GetHistory handles GET /api/v1/pricing/campaigns/history/{id}
func (h *PricingHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	campaign, err := h.service.GetHistory(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: campaign})
}

// Financials handles GET /api/v1/pricing/financials
func (h *PricingHandler) Financials(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.Financials(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: metrics})
}
