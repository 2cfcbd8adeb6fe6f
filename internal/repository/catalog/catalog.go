// Package catalog reads and reprices products through the product service's
// HTTP API instead of a shared database.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/pkg/httpclient"
	"github.com/utafrali/pricing-engine/pkg/httputil"
)

const (
	serviceName = "product-service"
	pageSize    = 100
)

// Doer executes HTTP requests; *httpclient.CircuitBreakerClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ProductRepository implements repository.ProductRepository against the
// product service.
type ProductRepository struct {
	client  Doer
	baseURL string
}

// NewProductRepository creates a catalog-backed product repository.
func NewProductRepository(client Doer, baseURL string) *ProductRepository {
	return &ProductRepository{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// ListAll pages through the whole catalog.
func (r *ProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(pageSize))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			r.baseURL+"/api/v1/products?"+q.Encode(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		var body httputil.PaginatedResponse[domain.Product]
		if err := r.do(req, &body); err != nil {
			return nil, fmt.Errorf("list products page %d: %w", page, err)
		}
		products = append(products, body.Data...)
		if !body.HasNext || len(body.Data) == 0 {
			return products, nil
		}
	}
}

type writePricesRequest struct {
	Prices []domain.PriceUpdate `json:"prices"`
}

// WritePrices sends one bulk price update.
func (r *ProductRepository) WritePrices(ctx context.Context, updates []domain.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	payload, err := json.Marshal(writePricesRequest{Prices: updates})
	if err != nil {
		return fmt.Errorf("marshal price updates: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		r.baseURL+"/api/v1/products/prices", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := r.do(req, nil); err != nil {
		return fmt.Errorf("write sale prices: %w", err)
	}
	return nil
}

// do executes req and decodes a 2xx body into out (when non-nil).
func (r *ProductRepository) do(req *http.Request, out any) error {
	resp, err := r.client.Do(req.Context(), req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", serviceName, err)
	}
	return nil
}
