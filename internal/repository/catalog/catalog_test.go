package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/pricing-engine/internal/domain"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
	"github.com/utafrali/pricing-engine/pkg/httpclient"
	"github.com/utafrali/pricing-engine/pkg/httputil"
)

func newClient() *httpclient.CircuitBreakerClient {
	cfg := httpclient.Config{
		Timeout:         time.Second,
		MaxRetries:      1,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    2 * time.Millisecond,
		MaxConnsPerHost: 2,
	}
	return httpclient.NewCircuitBreakerClient(httpclient.New(cfg),
		httpclient.DefaultCircuitBreakerConfig("catalog-test"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func catalogProduct(id, cost, sale string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      "product " + id,
		CostPrice: decimal.RequireFromString(cost),
		SalePrice: decimal.RequireFromString(sale),
		Quantity:  3,
	}
}

func TestListAll_FollowsPages(t *testing.T) {
	pages := map[int][]domain.Product{
		1: {catalogProduct("A", "10", "30"), catalogProduct("B", "20", "22")},
		2: {catalogProduct("C", "5", "50")},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		resp := httputil.NewPaginatedResponse(pages[page], 3, page, 2)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	repo := NewProductRepository(newClient(), srv.URL+"/")
	products, err := repo.ListAll(context.Background())

	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "C", products[2].ID)
	assert.True(t, decimal.NewFromInt(22).Equal(products[1].SalePrice))
	assert.Equal(t, int64(3), products[0].Quantity)
}

func TestListAll_DownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusForbidden, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "FORBIDDEN", Message: "no"},
		})
	}))
	defer srv.Close()

	_, err := NewProductRepository(newClient(), srv.URL).ListAll(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestWritePrices(t *testing.T) {
	var got writePricesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/products/prices", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewProductRepository(newClient(), srv.URL).WritePrices(context.Background(), []domain.PriceUpdate{
		{ProductID: "A", SalePrice: decimal.RequireFromString("24")},
		{ProductID: "C", SalePrice: decimal.RequireFromString("40.50")},
	})

	require.NoError(t, err)
	require.Len(t, got.Prices, 2)
	assert.Equal(t, "C", got.Prices[1].ProductID)
	assert.True(t, decimal.RequireFromString("40.5").Equal(got.Prices[1].SalePrice))
}

func TestWritePrices_ServerErrorSurfaces(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewProductRepository(newClient(), srv.URL).WritePrices(context.Background(), []domain.PriceUpdate{
		{ProductID: "A", SalePrice: decimal.NewFromInt(1)},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "write sale prices")
	assert.Equal(t, int32(2), calls.Load())
}

func TestWritePrices_EmptyIsNoop(t *testing.T) {
	repo := NewProductRepository(newClient(), "http://127.0.0.1:1")
	assert.NoError(t, repo.WritePrices(context.Background(), nil))
}
