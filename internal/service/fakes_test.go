package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/utafrali/pricing-engine/internal/domain"
	"github.com/utafrali/pricing-engine/internal/lock"
	"github.com/utafrali/pricing-engine/internal/repository"
	apperrors "github.com/utafrali/pricing-engine/pkg/errors"
)

var errStoreDown = errors.New("connection refused")

// --- Product store ---

type memProducts struct {
	mu         sync.Mutex
	products   map[string]domain.Product
	listCalls  int
	writeCalls int
	writes     map[string]int
	// failFrom makes every WritePrices call numbered >= failFrom fail (1-based).
	failFrom int
}

func newMemProducts(products ...domain.Product) *memProducts {
	m := &memProducts{products: make(map[string]domain.Product), writes: make(map[string]int)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memProducts) ListAll(context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProducts) WritePrices(_ context.Context, updates []domain.PriceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.failFrom > 0 && m.writeCalls >= m.failFrom {
		return errStoreDown
	}
	for _, u := range updates {
		p := m.products[u.ProductID]
		p.SalePrice = u.SalePrice
		m.products[u.ProductID] = p
		m.writes[u.ProductID]++
	}
	return nil
}

func (m *memProducts) heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFrom = 0
}

func (m *memProducts) price(id string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].SalePrice
}

func (m *memProducts) writesOf(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[id]
}

// --- Campaign store ---

type memCampaigns struct {
	mu       sync.Mutex
	current  *domain.Campaign
	items    []domain.CampaignItem
	history  []domain.ArchivedCampaign
	begins   int
	beginErr error
	markErr  error
}

func newMemCampaigns() *memCampaigns {
	return &memCampaigns{}
}

func (m *memCampaigns) Get(context.Context) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, apperrors.NotFound("campaign", "active")
	}
	c := *m.current
	return &c, nil
}

func (m *memCampaigns) Items(_ context.Context, campaignID string) ([]domain.CampaignItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != campaignID {
		return nil, nil
	}
	return append([]domain.CampaignItem(nil), m.items...), nil
}

func (m *memCampaigns) Begin(_ context.Context, c *domain.Campaign, items []domain.CampaignItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	if m.beginErr != nil {
		return m.beginErr
	}
	if m.current != nil {
		return domain.ErrCampaignAlreadyActive
	}
	stored := *c
	m.current = &stored
	m.items = append([]domain.CampaignItem(nil), items...)
	sort.Slice(m.items, func(i, j int) bool { return m.items[i].ProductID < m.items[j].ProductID })
	return nil
}

func (m *memCampaigns) MarkItems(_ context.Context, _ string, productIDs []string, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	marked := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		marked[id] = true
	}
	for i := range m.items {
		if marked[m.items[i].ProductID] {
			m.items[i].State = state
		}
	}
	return nil
}

func (m *memCampaigns) Transition(_ context.Context, campaignID, from, to string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != campaignID || m.current.Phase != from {
		return repository.ErrStalePhase
	}
	m.current.Phase = to
	m.current.UpdatedAt = at
	if to == domain.PhaseActive {
		m.current.AppliedAt = &at
	}
	return nil
}

func (m *memCampaigns) Archive(_ context.Context, a *domain.ArchivedCampaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != a.ID || m.current.Phase != domain.PhaseReverting {
		return repository.ErrStalePhase
	}
	m.current = nil
	m.items = nil
	m.history = append([]domain.ArchivedCampaign{*a}, m.history...)
	return nil
}

func (m *memCampaigns) ListHistory(_ context.Context, limit, offset int) ([]domain.ArchivedCampaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.history)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return append([]domain.ArchivedCampaign(nil), m.history[offset:end]...), total, nil
}

func (m *memCampaigns) GetHistory(_ context.Context, id string) (*domain.ArchivedCampaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.history {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, apperrors.NotFound("campaign", id)
}

func (m *memCampaigns) phase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Phase
}

func (m *memCampaigns) itemStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.items))
	for _, it := range m.items {
		out[it.ProductID] = it.State
	}
	return out
}

// --- Events and archive ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishCampaignApplied(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockEvents) PublishCampaignReverted(ctx context.Context, a *domain.ArchivedCampaign) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockEvents) PublishCampaignRecovered(ctx context.Context, campaignID, resumedPhase, phase string) error {
	return m.Called(ctx, campaignID, resumedPhase, phase).Error(0)
}

type recordingArchiver struct {
	mu       sync.Mutex
	exported []*domain.ArchivedCampaign
	err      error
}

func (a *recordingArchiver) Export(_ context.Context, c *domain.ArchivedCampaign) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exported = append(a.exported, c)
	return a.err
}

// --- Lease ---

// expiringLocker hands out leases that allow the given number of refreshes and
// report ErrLeaseLost afterwards.
type expiringLocker struct {
	refreshes int
}

func (l *expiringLocker) Acquire(context.Context, time.Duration) (lock.Lease, error) {
	return &expiringLease{left: l.refreshes}, nil
}

type expiringLease struct {
	mu   sync.Mutex
	left int
}

func (l *expiringLease) Refresh(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.left == 0 {
		return lock.ErrLeaseLost
	}
	l.left--
	return nil
}

func (l *expiringLease) Release(context.Context) error { return nil }
