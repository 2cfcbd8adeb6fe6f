// Command seed loads demo products into the pricing engine database: the
// three reference products A, B and C plus a deterministic generated catalog.
//
// Run: go run ./cmd/seed -products 10000
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/utafrali/pricing-engine/internal/config"
	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/migrations"
	"github.com/utafrali/pricing-engine/pkg/database"
	"github.com/utafrali/pricing-engine/pkg/logger"
)

const batchSize = 500

const upsertProductsQuery = `
	INSERT INTO products (id, name, cost_price, sale_price, quantity)
	SELECT u.id, u.name, u.cost_price::numeric, u.sale_price::numeric, u.quantity
	FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::bigint[])
		AS u(id, name, cost_price, sale_price, quantity)
	ON CONFLICT (id) DO UPDATE
	SET name = EXCLUDED.name,
	    cost_price = EXCLUDED.cost_price,
	    sale_price = EXCLUDED.sale_price,
	    quantity = EXCLUDED.quantity,
	    updated_at = NOW()`

var reference = []domain.Product{
	{ID: "A", Name: "Reference product A", CostPrice: decimal.NewFromInt(10), SalePrice: decimal.NewFromInt(30), Quantity: 5},
	{ID: "B", Name: "Reference product B", CostPrice: decimal.NewFromInt(20), SalePrice: decimal.NewFromInt(22), Quantity: 2},
	{ID: "C", Name: "Reference product C", CostPrice: decimal.NewFromInt(5), SalePrice: decimal.NewFromInt(50), Quantity: 1},
}

var adjectives = []string{"Classic", "Modal", "Linen", "Pleated", "Belted", "Oversized", "Printed", "Knit"}
var garments = []string{"Tunic", "Abaya", "Dress", "Shirt", "Skirt", "Cardigan", "Trench Coat", "Scarf"}

func main() {
	count := flag.Int("products", 10000, "number of generated products besides A, B and C")
	seed := flag.Uint64("seed", 42, "random seed for generated products")
	reset := flag.Bool("reset", false, "delete all products before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("pricing-seed", cfg.LogLevel)

	if err := run(log, cfg, *count, *seed, *reset); err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg *config.Config, count int, seed uint64, reset bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if reset {
		if err := resetProducts(ctx, pool); err != nil {
			return err
		}
		log.Info("existing products deleted")
	}

	products := append(slices.Clone(reference), generate(count, seed)...)
	for batch := range slices.Chunk(products, batchSize) {
		if err := upsert(ctx, pool, batch); err != nil {
			return err
		}
	}

	log.Info("products seeded",
		slog.Int("reference", len(reference)),
		slog.Int("generated", count),
	)
	return nil
}

// resetProducts refuses to run while a campaign is alive, since its snapshot
// would then point at products that no longer exist.
func resetProducts(ctx context.Context, pool *pgxpool.Pool) error {
	var alive bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pricing_campaigns)`).Scan(&alive); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if alive {
		return fmt.Errorf("a campaign is in progress; revert it before resetting products")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("delete products: %w", err)
	}
	return nil
}

// generate builds a deterministic catalog: the same seed always yields the
// same ids, prices and stock.
func generate(count int, seed uint64) []domain.Product {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]domain.Product, 0, count)
	for i := range count {
		cost := decimal.New(int64(200+rng.IntN(20000)), -2)
		// Markups between 1.05x and 3.5x, so a mid-size discount blocks some
		// products and lets the rest through.
		markup := decimal.New(int64(105+rng.IntN(246)), -2)
		out = append(out, domain.Product{
			ID:        fmt.Sprintf("demo-%06d", i+1),
			Name:      fmt.Sprintf("%s %s %d", adjectives[rng.IntN(len(adjectives))], garments[rng.IntN(len(garments))], i+1),
			CostPrice: cost,
			SalePrice: domain.RoundMoney(cost.Mul(markup)),
			Quantity:  int64(rng.IntN(200)),
		})
	}
	return out
}

func upsert(ctx context.Context, pool *pgxpool.Pool, batch []domain.Product) error {
	ids := make([]string, len(batch))
	names := make([]string, len(batch))
	costs := make([]string, len(batch))
	sales := make([]string, len(batch))
	quantities := make([]int64, len(batch))
	for i, p := range batch {
		ids[i] = p.ID
		names[i] = p.Name
		costs[i] = p.CostPrice.String()
		sales[i] = p.SalePrice.String()
		quantities[i] = p.Quantity
	}
	if _, err := pool.Exec(ctx, upsertProductsQuery, ids, names, costs, sales, quantities); err != nil {
		return fmt.Errorf("upsert products %s..%s: %w", ids[0], ids[len(ids)-1], err)
	}
	return nil
}
