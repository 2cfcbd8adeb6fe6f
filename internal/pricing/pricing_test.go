package pricing

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/pricing-engine/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(id, cost, sale string, qty int64) domain.Product {
	return domain.Product{ID: id, CostPrice: dec(cost), SalePrice: dec(sale), Quantity: qty}
}

func scenario() []domain.Product {
	return []domain.Product{
		product("A", "10", "30", 5),
		product("B", "20", "22", 2),
		product("C", "5", "50", 1),
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestSimulate_ReferenceScenario(t *testing.T) {
	proj := Simulate(scenario(), Params{DiscountPercent: dec("20"), MinMarkupFactor: dec("1.2")}, false)

	assert.Equal(t, 2, proj.AffectedCount)
	assert.Equal(t, 1, proj.BlockedCount)
	require.Len(t, proj.Candidates, 2)
	assertDec(t, "24", proj.Candidates["A"])
	assertDec(t, "40", proj.Candidates["C"])
	_, blocked := proj.Candidates["B"]
	assert.False(t, blocked)

	assertDec(t, "244", proj.CurrentRevenue)
	assertDec(t, "204", proj.ProjectedRevenue)
	assertDec(t, "149", proj.CurrentProfit)
	assertDec(t, "109", proj.ProjectedProfit)
	assertDec(t, "4.7", proj.CurrentAvgMarkup)
	assertDec(t, "3.8333", proj.ProjectedAvgMarkup)
	assert.Nil(t, proj.Items)
}

func TestSimulate_Items(t *testing.T) {
	proj := Simulate(scenario(), Params{DiscountPercent: dec("20"), MinMarkupFactor: dec("1.2")}, true)

	require.Len(t, proj.Items, 3)
	b := proj.Items[1]
	assert.Equal(t, "B", b.ProductID)
	assert.False(t, b.Affected)
	assertDec(t, "17.6", b.CandidatePrice)
	assertDec(t, "24", b.FloorPrice)
	assertDec(t, "22", b.CurrentPrice)
	assert.True(t, proj.Items[0].Affected)
}

func TestSimulate_DoesNotMutateInput(t *testing.T) {
	products := scenario()
	Simulate(products, Params{DiscountPercent: dec("50"), MinMarkupFactor: dec("1")}, true)

	assert.Equal(t, scenario(), products)
}

func TestSimulate_ZeroCostAlwaysEligible(t *testing.T) {
	proj := Simulate([]domain.Product{product("free", "0", "10", 3)},
		Params{DiscountPercent: dec("100"), MinMarkupFactor: dec("5")}, false)

	assert.Equal(t, 1, proj.AffectedCount)
	assertDec(t, "0", proj.Candidates["free"])
	assertDec(t, "0", proj.CurrentAvgMarkup)
	assertDec(t, "30", proj.CurrentRevenue)
	assertDec(t, "0", proj.ProjectedRevenue)
}

func TestSimulate_EmptyCatalog(t *testing.T) {
	proj := Simulate(nil, Params{DiscountPercent: dec("10"), MinMarkupFactor: dec("1")}, false)

	assert.Zero(t, proj.AffectedCount)
	assert.Zero(t, proj.BlockedCount)
	assertDec(t, "0", proj.CurrentRevenue)
	assert.Empty(t, proj.Candidates)
}

func TestCandidatePrice_Rounding(t *testing.T) {
	assertDec(t, "6.67", CandidatePrice(dec("10"), dec("33.333")))
	assertDec(t, "0.01", CandidatePrice(dec("0.01"), dec("25")))
	assertDec(t, "8.45", CandidatePrice(dec("16.89"), dec("50")))
	assertDec(t, "19.99", CandidatePrice(dec("19.99"), dec("0")))

	// Exact products sit just under the half cent and must round down.
	assertDec(t, "0.12", CandidatePrice(dec("1"), dec("87.5000000000000001")))
	assertDec(t, "123456789012.34", CandidatePrice(dec("123456789012.345"), dec("0.0000000000000000001")))
}

func TestFloorPrice(t *testing.T) {
	assertDec(t, "0", FloorPrice(dec("0"), dec("3")))
	assertDec(t, "12.35", FloorPrice(dec("9.5"), dec("1.3")))
	assertDec(t, "1.01", FloorPrice(dec("0.67"), dec("1.5")))
}

func TestAggregate_ZeroCostExcludedFromMarkup(t *testing.T) {
	m := Aggregate([]domain.Product{
		product("a", "10", "20", 1),
		product("b", "0", "5", 4),
	}, CurrentPrice)

	assert.Equal(t, 2, m.ProductCount)
	assertDec(t, "40", m.Revenue)
	assertDec(t, "30", m.Profit)
	assertDec(t, "2", m.AvgMarkup)
}

func TestParamsValidate(t *testing.T) {
	limit := dec("100")
	tests := []struct {
		name    string
		params  Params
		max     decimal.Decimal
		wantErr error
	}{
		{"ok", Params{dec("20"), dec("1.2")}, limit, nil},
		{"zero discount", Params{dec("0"), dec("1")}, limit, nil},
		{"full discount", Params{dec("100"), dec("0.01")}, limit, nil},
		{"negative discount", Params{dec("-1"), dec("1")}, limit, domain.ErrInvalidDiscount},
		{"discount over 100", Params{dec("100.01"), dec("1")}, limit, domain.ErrInvalidDiscount},
		{"discount over cap", Params{dec("60"), dec("1")}, dec("50"), domain.ErrInvalidDiscount},
		{"zero floor", Params{dec("10"), dec("0")}, limit, domain.ErrInvalidMarkupFloor},
		{"negative floor", Params{dec("10"), dec("-2")}, limit, domain.ErrInvalidMarkupFloor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(tt.max)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr))
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func randomCatalog(r *rand.Rand, n int) []domain.Product {
	out := make([]domain.Product, n)
	for i := range out {
		cost := decimal.New(r.Int63n(100000), -2)
		if r.Intn(10) == 0 {
			cost = decimal.Zero
		}
		sale := decimal.New(r.Int63n(200000), -2)
		out[i] = domain.Product{
			ID:        string(rune('a'+i%26)) + decimal.NewFromInt(int64(i)).String(),
			CostPrice: cost,
			SalePrice: sale,
			Quantity:  r.Int63n(50),
		}
	}
	return out
}

func TestSimulate_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		products := randomCatalog(r, 40)
		params := Params{
			DiscountPercent: decimal.New(r.Int63n(10001), -2),
			MinMarkupFactor: decimal.New(r.Int63n(300)+1, -2),
		}
		proj := Simulate(products, params, false)

		assert.Equal(t, len(products), proj.AffectedCount+proj.BlockedCount, "partition completeness")
		for _, p := range products {
			c, ok := proj.Candidates[p.ID]
			if !ok {
				continue
			}
			floor := FloorPrice(p.CostPrice, params.MinMarkupFactor)
			assert.True(t, c.GreaterThanOrEqual(floor), "floor invariant for %s", p.ID)
			assert.False(t, c.IsNegative())
		}
	}
}
