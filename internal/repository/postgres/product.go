package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/pkg/database"
)

const listProductsQuery = `
	SELECT id, name, cost_price::text, sale_price::text, quantity
	FROM products
	ORDER BY id`

// Rows whose price already matches are skipped, so a replayed batch is a
// no-op.
const writePricesQuery = `
	UPDATE products AS p
	SET sale_price = u.sale_price::numeric, updated_at = NOW()
	FROM unnest($1::text[], $2::text[]) AS u(id, sale_price)
	WHERE p.id = u.id AND p.sale_price IS DISTINCT FROM u.sale_price::numeric`

// ProductRepository reads and reprices products stored in PostgreSQL.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a PostgreSQL-backed product repository.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// ListAll returns every product ordered by id.
func (r *ProductRepository) ListAll(ctx context.Context) (_ []domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "ListProducts", listProductsQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listProductsQuery)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var (
			p          domain.Product
			cost, sale string
		)
		if err := rows.Scan(&p.ID, &p.Name, &cost, &sale, &p.Quantity); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if p.CostPrice, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parse cost_price of %s: %w", p.ID, err)
		}
		if p.SalePrice, err = decimal.NewFromString(sale); err != nil {
			return nil, fmt.Errorf("parse sale_price of %s: %w", p.ID, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// WritePrices applies updates in a single statement.
func (r *ProductRepository) WritePrices(ctx context.Context, updates []domain.PriceUpdate) (err error) {
	if len(updates) == 0 {
		return nil
	}
	ctx, end := database.TraceQuery(ctx, "WritePrices", writePricesQuery,
		attribute.Int("pricing.batch_size", len(updates)))
	defer func() { end(err) }()

	ids := make([]string, len(updates))
	prices := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ProductID
		prices[i] = u.SalePrice.String()
	}

	if _, err = r.db.Exec(ctx, writePricesQuery, ids, prices); err != nil {
		return fmt.Errorf("write sale prices: %w", err)
	}
	return nil
}
