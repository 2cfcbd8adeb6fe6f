package domain

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
)

func TestRoundMoney_HalfAwayFromZero(t *testing.T) {
	tests := map[string]string{
		"1.005":  "1.01",
		"1.004":  "1",
		"2.675":  "2.68",
		"-1.005": "-1.01",
		"24":     "24",
	}
	for in, want := range tests {
		got := RoundMoney(decimal.RequireFromString(in))
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%s -> %s", in, got)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(PhaseApplying, PhaseActive))
	assert.True(t, CanTransition(PhaseActive, PhaseReverting))

	assert.False(t, CanTransition(PhaseActive, PhaseApplying))
	assert.False(t, CanTransition(PhaseApplying, PhaseReverting))
	assert.False(t, CanTransition(PhaseReverting, PhaseActive))
	assert.False(t, CanTransition("idle", PhaseActive))
}

func TestCampaignArchive(t *testing.T) {
	applied := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Campaign{
		ID:              "c-1",
		Name:            "spring",
		DiscountPercent: decimal.NewFromInt(20),
		MinMarkupFactor: decimal.RequireFromString("1.2"),
		AffectedCount:   2,
		BlockedCount:    1,
		AppliedAt:       &applied,
	}
	items := []CampaignItem{
		{ProductID: "A", OriginalPrice: decimal.NewFromInt(30), CampaignPrice: decimal.NewFromInt(24)},
		{ProductID: "C", OriginalPrice: decimal.NewFromInt(50), CampaignPrice: decimal.NewFromInt(40)},
	}

	reverted := applied.Add(time.Hour)
	a := c.Archive(items, reverted)

	assert.Equal(t, "c-1", a.ID)
	assert.Equal(t, reverted, a.RevertedAt)
	require.Len(t, a.Snapshot, 2)
	assert.True(t, decimal.NewFromInt(30).Equal(a.Snapshot["A"]))
	assert.True(t, decimal.NewFromInt(50).Equal(a.Snapshot["C"]))
}

func TestProjectionJSON_HidesCandidates(t *testing.T) {
	p := Projection{
		AffectedCount:  1,
		CurrentRevenue: decimal.RequireFromString("244.00"),
		Candidates:     map[string]decimal.Decimal{"A": decimal.NewFromInt(24)},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "candidates")
	assert.NotContains(t, string(raw), "items")
	assert.Contains(t, string(raw), `"current_revenue":"244"`)
}

func TestErrors_KindAndSentinel(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   error
		base   error
		status int
	}{
		{"invalid discount", InvalidDiscount("x"), ErrValidation, apperrors.ErrInvalidInput, http.StatusBadRequest},
		{"invalid markup", InvalidMarkupFloor("x"), ErrValidation, apperrors.ErrInvalidInput, http.StatusBadRequest},
		{"already active", CampaignAlreadyActive("c-1"), ErrState, apperrors.ErrConflict, http.StatusConflict},
		{"no active", NoActiveCampaign(), ErrState, apperrors.ErrConflict, http.StatusConflict},
		{"persistence", Persistence("write failed", errors.New("conn reset")), ErrPersistence, apperrors.ErrServiceUnavail, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.ErrorIs(t, tt.err, tt.base)
			assert.Equal(t, tt.status, apperrors.HTTPStatus(tt.err))
		})
	}

	assert.ErrorIs(t, CampaignAlreadyActive("c"), ErrCampaignAlreadyActive)
	assert.NotErrorIs(t, CampaignAlreadyActive("c"), ErrNoActiveCampaign)
	assert.NotErrorIs(t, OperationInProgress(), ErrState)
}

func TestPersistence_KeepsCause(t *testing.T) {
	cause := errors.New("conn reset")
	assert.ErrorIs(t, Persistence("write failed", cause), cause)
}
