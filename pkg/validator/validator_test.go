package validator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applyRequest struct {
	Name     string           `json:"name" validate:"required,min=1,max=10"`
	Discount *decimal.Decimal `json:"discount_percent" validate:"required"`
	Limit    int              `json:"limit" validate:"omitempty,min=1,max=100"`
	Phase    string           `json:"phase" validate:"omitempty,oneof=applying reverting"`
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(applyRequest{Name: "spring", Discount: dec("0")}))
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := Validate(applyRequest{Limit: 500, Phase: "done"})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "is required", fields["discount_percent"])
	assert.Equal(t, "must be at most 100", fields["limit"])
	assert.Equal(t, "must be one of: applying reverting", fields["phase"])
}

func TestValidate_StringLengthMessage(t *testing.T) {
	err := Validate(applyRequest{Name: "a-very-long-name", Discount: dec("5")})

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "must be at most 10 characters", valErr.Fields()["name"])
	assert.Contains(t, valErr.Error(), "field 'name'")
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantDecode bool
		wantValid  bool
	}{
		{"valid", `{"name":"spring","discount_percent":"20"}`, false, true},
		{"numeric decimal", `{"name":"spring","discount_percent":12.5}`, false, true},
		{"malformed", `{"name":`, true, false},
		{"unknown field", `{"name":"x","discount_percent":1,"extra":true}`, true, false},
		{"empty body fails rules", ``, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req applyRequest
			err := DecodeAndValidate(r, &req)

			if tt.wantValid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantDecode, errors.Is(err, ErrDecode))
		})
	}
}
