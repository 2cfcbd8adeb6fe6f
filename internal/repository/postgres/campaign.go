package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/repository"
	"github.com/utafrali/pricing-engine/pkg/database"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
)

// The live campaign occupies slot 1; the unique constraint on slot is the
// compare-and-set that keeps at most one campaign alive.
const (
	getCampaignQuery = `
		SELECT id, name, discount_percent::text, min_markup_factor::text, phase,
		       affected_count, blocked_count, applied_at, created_at, updated_at
		FROM pricing_campaigns
		WHERE slot = 1`

	insertCampaignQuery = `
		INSERT INTO pricing_campaigns (
			id, slot, name, discount_percent, min_markup_factor, phase,
			affected_count, blocked_count, created_at, updated_at
		) VALUES ($1, 1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $8)`

	insertItemsQuery = `
		INSERT INTO pricing_campaign_items (campaign_id, product_id, original_price, campaign_price, state)
		SELECT $1, u.product_id, u.original_price::numeric, u.campaign_price::numeric, $5
		FROM unnest($2::text[], $3::text[], $4::text[]) AS u(product_id, original_price, campaign_price)`

	listItemsQuery = `
		SELECT product_id, original_price::text, campaign_price::text, state
		FROM pricing_campaign_items
		WHERE campaign_id = $1
		ORDER BY product_id`

	markItemsQuery = `
		UPDATE pricing_campaign_items
		SET state = $3
		WHERE campaign_id = $1 AND product_id = ANY($2::text[])`

	transitionQuery = `
		UPDATE pricing_campaigns
		SET phase = $3,
		    updated_at = $4,
		    applied_at = CASE WHEN $3 = 'active' THEN $4 ELSE applied_at END
		WHERE id = $1 AND phase = $2`

	deleteCampaignQuery = `
		DELETE FROM pricing_campaigns
		WHERE id = $1 AND phase = 'reverting'`

	insertHistoryQuery = `
		INSERT INTO pricing_campaign_history (
			id, name, discount_percent, min_markup_factor, affected_count,
			blocked_count, applied_at, reverted_at, snapshot
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9)`

	countHistoryQuery = `SELECT COUNT(*) FROM pricing_campaign_history`

	listHistoryQuery = `
		SELECT id, name, discount_percent::text, min_markup_factor::text,
		       affected_count, blocked_count, applied_at, reverted_at
		FROM pricing_campaign_history
		ORDER BY reverted_at DESC
		LIMIT $1 OFFSET $2`

	getHistoryQuery = `
		SELECT id, name, discount_percent::text, min_markup_factor::text,
		       affected_count, blocked_count, applied_at, reverted_at, snapshot
		FROM pricing_campaign_history
		WHERE id = $1`
)

// CampaignRepository implements repository.CampaignRepository on PostgreSQL.
type CampaignRepository struct {
	db database.DBTX
}

// NewCampaignRepository creates a PostgreSQL-backed campaign repository.
func NewCampaignRepository(db database.DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Get returns the live campaign.
func (r *CampaignRepository) Get(ctx context.Context) (_ *domain.Campaign, err error) {
	ctx, end := database.TraceQuery(ctx, "GetCampaign", getCampaignQuery)
	defer func() { end(err) }()

	var (
		c               domain.Campaign
		discount, floor string
	)
	err = r.db.QueryRow(ctx, getCampaignQuery).Scan(
		&c.ID, &c.Name, &discount, &floor, &c.Phase,
		&c.AffectedCount, &c.BlockedCount, &c.AppliedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if c.DiscountPercent, c.MinMarkupFactor, err = parseParams(discount, floor); err != nil {
		return nil, err
	}
	return &c, nil
}

// Items returns the snapshot of a campaign.
func (r *CampaignRepository) Items(ctx context.Context, campaignID string) (_ []domain.CampaignItem, err error) {
	ctx, end := database.TraceQuery(ctx, "ListCampaignItems", listItemsQuery,
		attribute.String("campaign.id", campaignID))
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listItemsQuery, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign items: %w", err)
	}
	defer rows.Close()

	var items []domain.CampaignItem
	for rows.Next() {
		var (
			it                 domain.CampaignItem
			original, campaign string
		)
		if err := rows.Scan(&it.ProductID, &original, &campaign, &it.State); err != nil {
			return nil, fmt.Errorf("scan campaign item: %w", err)
		}
		if it.OriginalPrice, err = decimal.NewFromString(original); err != nil {
			return nil, fmt.Errorf("parse original_price of %s: %w", it.ProductID, err)
		}
		if it.CampaignPrice, err = decimal.NewFromString(campaign); err != nil {
			return nil, fmt.Errorf("parse campaign_price of %s: %w", it.ProductID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign items: %w", err)
	}
	return items, nil
}

// Begin inserts the campaign and its snapshot in one transaction.
func (r *CampaignRepository) Begin(ctx context.Context, c *domain.Campaign, items []domain.CampaignItem) (err error) {
	ctx, end := database.TraceQuery(ctx, "BeginCampaign", insertCampaignQuery,
		attribute.String("campaign.id", c.ID),
		attribute.Int("campaign.items", len(items)))
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertCampaignQuery,
		c.ID,
		c.Name,
		c.DiscountPercent.String(),
		c.MinMarkupFactor.String(),
		c.Phase,
		c.AffectedCount,
		c.BlockedCount,
		c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCampaignAlreadyActive
		}
		return fmt.Errorf("insert campaign: %w", err)
	}

	if len(items) > 0 {
		ids := make([]string, len(items))
		originals := make([]string, len(items))
		campaigns := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ProductID
			originals[i] = it.OriginalPrice.String()
			campaigns[i] = it.CampaignPrice.String()
		}
		if _, err = tx.Exec(ctx, insertItemsQuery, c.ID, ids, originals, campaigns, domain.ItemPending); err != nil {
			return fmt.Errorf("insert campaign items: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit campaign: %w", err)
	}
	return nil
}

// MarkItems sets the state of the given snapshot entries.
func (r *CampaignRepository) MarkItems(ctx context.Context, campaignID string, productIDs []string, state string) (err error) {
	if len(productIDs) == 0 {
		return nil
	}
	ctx, end := database.TraceQuery(ctx, "MarkCampaignItems", markItemsQuery,
		attribute.String("campaign.id", campaignID),
		attribute.Int("pricing.batch_size", len(productIDs)))
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, markItemsQuery, campaignID, productIDs, state); err != nil {
		return fmt.Errorf("mark campaign items %s: %w", state, err)
	}
	return nil
}

// Transition is a compare-and-set on the campaign phase.
func (r *CampaignRepository) Transition(ctx context.Context, campaignID, from, to string, at time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "TransitionCampaign", transitionQuery,
		attribute.String("campaign.id", campaignID),
		attribute.String("campaign.phase", to))
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, transitionQuery, campaignID, from, to, at)
	if err != nil {
		return fmt.Errorf("transition campaign to %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s is not %s: %w", campaignID, from, repository.ErrStalePhase)
	}
	return nil
}

// Archive removes the reverting campaign (its items cascade) and records it
// in the history table atomically.
func (r *CampaignRepository) Archive(ctx context.Context, a *domain.ArchivedCampaign) (err error) {
	ctx, end := database.TraceQuery(ctx, "ArchiveCampaign", insertHistoryQuery,
		attribute.String("campaign.id", a.ID))
	defer func() { end(err) }()

	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, deleteCampaignQuery, a.ID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s is not reverting: %w", a.ID, repository.ErrStalePhase)
	}

	_, err = tx.Exec(ctx, insertHistoryQuery,
		a.ID,
		a.Name,
		a.DiscountPercent.String(),
		a.MinMarkupFactor.String(),
		a.AffectedCount,
		a.BlockedCount,
		a.AppliedAt,
		a.RevertedAt,
		snapshot,
	)
	if err != nil {
		return fmt.Errorf("insert campaign history: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// ListHistory returns a page of archived campaigns and the total count.
func (r *CampaignRepository) ListHistory(ctx context.Context, limit, offset int) (_ []domain.ArchivedCampaign, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListCampaignHistory", listHistoryQuery)
	defer func() { end(err) }()

	var total int
	if err = r.db.QueryRow(ctx, countHistoryQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaign history: %w", err)
	}

	rows, err := r.db.Query(ctx, listHistoryQuery, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaign history: %w", err)
	}
	defer rows.Close()

	history := []domain.ArchivedCampaign{}
	for rows.Next() {
		var (
			a               domain.ArchivedCampaign
			discount, floor string
		)
		if err = rows.Scan(&a.ID, &a.Name, &discount, &floor,
			&a.AffectedCount, &a.BlockedCount, &a.AppliedAt, &a.RevertedAt); err != nil {
			return nil, 0, fmt.Errorf("scan campaign history: %w", err)
		}
		if a.DiscountPercent, a.MinMarkupFactor, err = parseParams(discount, floor); err != nil {
			return nil, 0, err
		}
		history = append(history, a)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate campaign history: %w", err)
	}
	return history, total, nil
}

// GetHistory returns one archived campaign with its snapshot.
func (r *CampaignRepository) GetHistory(ctx context.Context, id string) (_ *domain.ArchivedCampaign, err error) {
	ctx, end := database.TraceQuery(ctx, "GetCampaignHistory", getHistoryQuery,
		attribute.String("campaign.id", id))
	defer func() { end(err) }()

	var (
		a               domain.ArchivedCampaign
		discount, floor string
		snapshot        []byte
	)
	err = r.db.QueryRow(ctx, getHistoryQuery, id).Scan(&a.ID, &a.Name, &discount, &floor,
		&a.AffectedCount, &a.BlockedCount, &a.AppliedAt, &a.RevertedAt, &snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("campaign", id)
		}
		return nil, fmt.Errorf("get campaign history: %w", err)
	}
	if a.DiscountPercent, a.MinMarkupFactor, err = parseParams(discount, floor); err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err = json.Unmarshal(snapshot, &a.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return &a, nil
}

func parseParams(discount, floor string) (decimal.Decimal, decimal.Decimal, error) {
	d, err := decimal.NewFromString(discount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse discount_percent: %w", err)
	}
	f, err := decimal.NewFromString(floor)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse min_markup_factor: %w", err)
	}
	return d, f, nil
}

// isUniqueViolation reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
