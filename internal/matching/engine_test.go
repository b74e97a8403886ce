package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/audit"
	"github.com/ledgerline/recon-engine/internal/db"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// fakeStore is an in-memory Store plus audit.Store, safe for the
// parallel batch tests.
type fakeStore struct {
	mu         sync.Mutex
	cfg        *models.MatchingConfiguration
	tolerances []models.MatchingTolerance
	vendors    map[uuid.UUID]*models.Vendor
	aliases    []models.VendorAlias
	invoices   map[uuid.UUID]*models.Invoice
	pos        map[uuid.UUID]*models.PurchaseOrder
	matches    []*models.MatchResult
	events     []models.AuditEvent
}

func (f *fakeStore) ActiveConfiguration(context.Context, uuid.UUID) (*models.MatchingConfiguration, error) {
	return f.cfg, nil
}

func (f *fakeStore) ListTolerances(context.Context, uuid.UUID) ([]models.MatchingTolerance, error) {
	return f.tolerances, nil
}

func (f *fakeStore) ListActiveVendors(context.Context, uuid.UUID) ([]models.Vendor, error) {
	out := make([]models.Vendor, 0, len(f.vendors))
	for _, v := range f.vendors {
		out = append(out, *v)
	}
	return out, nil
}

func (f *fakeStore) ListApprovedAliases(context.Context, uuid.UUID) ([]models.VendorAlias, error) {
	return f.aliases, nil
}

func (f *fakeStore) GetInvoice(_ context.Context, _, id uuid.UUID) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeStore) GetVendor(_ context.Context, _, id uuid.UUID) (*models.Vendor, error) {
	v, ok := f.vendors[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) FindPOByNumber(_ context.Context, _ uuid.UUID, number string) (*models.PurchaseOrder, error) {
	for _, po := range f.pos {
		if po.PONumber == number || po.ExternalPONumber == number {
			cp := *po
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListCandidatePOs(_ context.Context, _, vendorID uuid.UUID, currency string, from, to time.Time) ([]models.PurchaseOrder, error) {
	var out []models.PurchaseOrder
	for _, po := range f.pos {
		if po.VendorID != vendorID || po.Currency != currency || po.Status == models.StatusArchived {
			continue
		}
		if po.PODate.Before(from) || po.PODate.After(to) {
			continue
		}
		out = append(out, *po)
	}
	return out, nil
}

func (f *fakeStore) UpdateInvoiceStatus(_ context.Context, _, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv, ok := f.invoices[id]; ok {
		inv.Status = status
	}
	return nil
}

func (f *fakeStore) MarkPOMatched(_ context.Context, _, poID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if po, ok := f.pos[poID]; ok {
		po.Status = models.StatusMatched
	}
	return nil
}

func (f *fakeStore) InsertMatchResult(_ context.Context, m *models.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.matches = append(f.matches, &cp)
	return nil
}

func (f *fakeStore) GetMatchResult(_ context.Context, _, id uuid.UUID) (*models.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.matches {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) LatestMatchForInvoice(_ context.Context, _, invoiceID uuid.UUID) (*models.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.MatchResult
	for _, m := range f.matches {
		if m.InvoiceID != invoiceID || m.MatchStatus == models.MatchStatusRejected {
			continue
		}
		if latest == nil || m.MatchedAt.After(latest.MatchedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) UpdateMatchReview(_ context.Context, m *models.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.matches {
		if existing.ID == m.ID {
			cp := *m
			f.matches[i] = &cp
			return nil
		}
	}
	return db.ErrNotFound
}

func (f *fakeStore) UpsertVendorAlias(_ context.Context, a *models.VendorAlias) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases = append(f.aliases, *a)
	return nil
}

func (f *fakeStore) LastEventHash(_ context.Context, _, matchResultID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].MatchResultID == matchResultID {
			return f.events[i].EventHash, nil
		}
	}
	return "", nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, ev *models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

// ─── Fixtures ───

func testConfig(tenantID uuid.UUID) *models.MatchingConfiguration {
	return &models.MatchingConfiguration{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		ConfigVersion:         1,
		Active:                true,
		AutoApproveThreshold:  0.85,
		ManualReviewThreshold: 0.50,
		RejectionThreshold:    0.30,
		Features: models.MatchingFeatures{
			FuzzyMatching: true,
			ParallelBatch: true,
		},
		Weights: models.FactorWeights{
			VendorName: 0.4, Amount: 0.3, Date: 0.2, Reference: 0.1,
		},
		BatchSize:         100,
		MaxConcurrentJobs: 4,
	}
}

type fixture struct {
	tenantID uuid.UUID
	store    *fakeStore
	engine   *Engine
	vendorID uuid.UUID
	poID     uuid.UUID
}

// newFixture seeds scenario state: vendor ACME, PO-12345 for 1000.00
// USD dated 2025-01-01.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	tenantID := uuid.New()
	vendorID := uuid.New()
	poID := uuid.New()

	store := &fakeStore{
		cfg: testConfig(tenantID),
		vendors: map[uuid.UUID]*models.Vendor{
			vendorID: {ID: vendorID, TenantID: tenantID, VendorCode: "ACME01", Name: "ACME", Active: true},
		},
		invoices: map[uuid.UUID]*models.Invoice{},
		pos: map[uuid.UUID]*models.PurchaseOrder{
			poID: {
				ID: poID, TenantID: tenantID, VendorID: vendorID,
				PONumber: "PO-12345", Currency: models.CurrencyUSD,
				TotalAmount: decimal.RequireFromString("1000.00"),
				PODate:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				Status:      models.StatusPending,
			},
		},
	}

	logger := zap.NewNop()
	engine, err := NewEngine(context.Background(), tenantID, store, audit.NewLogger(store, logger), logger)
	require.NoError(t, err)
	return &fixture{tenantID: tenantID, store: store, engine: engine, vendorID: vendorID, poID: poID}
}

func (fx *fixture) addInvoice(number, poRef, total string, date time.Time) uuid.UUID {
	id := uuid.New()
	fx.store.invoices[id] = &models.Invoice{
		ID: id, TenantID: fx.tenantID, VendorID: fx.vendorID,
		InvoiceNumber: number, POReference: poRef,
		Currency:    models.CurrencyUSD,
		TotalAmount: decimal.RequireFromString(total),
		InvoiceDate: date, Status: models.StatusPending,
	}
	return id
}

// ─── Tests ───

func TestMatchOne_Exact(t *testing.T) {
	fx := newFixture(t)
	invID := fx.addInvoice("INV-9001", "PO-12345", "1000.00", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))

	decision, err := fx.engine.MatchOne(context.Background(), invID, false)
	require.NoError(t, err)
	require.True(t, decision.Matched)

	m := decision.Result
	assert.Equal(t, models.MatchTypeExact, m.MatchType)
	assert.Equal(t, 1.0, m.ConfidenceScore)
	assert.True(t, m.AutoApproved)
	assert.False(t, m.RequiresReview)
	assert.Equal(t, models.MatchStatusApproved, m.MatchStatus)
	require.NotNil(t, m.PurchaseOrderID)
	assert.Equal(t, fx.poID, *m.PurchaseOrderID)
	require.NotNil(t, m.ApprovedAt)

	// Exactly one audit event, chained from the empty prior hash.
	require.Len(t, fx.store.events, 1)
	ev := fx.store.events[0]
	assert.Equal(t, models.EventMatchCreated, ev.EventType)
	want, err := audit.ComputeEventHash(ev.EventType, ev.DecisionFactors, ev.OccurredAt, "")
	require.NoError(t, err)
	assert.Equal(t, want, ev.EventHash)

	assert.Equal(t, models.StatusMatched, fx.store.invoices[invID].Status)
}

func TestMatchOne_FuzzyWithinTolerance(t *testing.T) {
	fx := newFixture(t)
	// Total off by 20 on 1020 (≈1.96%, inside the 5% default) and a
	// reference missing its dash.
	invID := fx.addInvoice("INV-9002", "PO12345", "1020.00", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))

	decision, err := fx.engine.MatchOne(context.Background(), invID, false)
	require.NoError(t, err)
	require.True(t, decision.Matched)

	m := decision.Result
	assert.Equal(t, models.MatchTypeFuzzy, m.MatchType)

	// vendor 1.0*0.4 + amount (1-20/1020)*0.3 + date max(0.7, 1-5/30)*0.2
	// + reference (1-1/8)*0.1 = 0.9483 after rounding.
	assert.InDelta(t, 0.9483, m.ConfidenceScore, 1e-9)
	assert.GreaterOrEqual(t, m.ConfidenceScore, 0.80)
	assert.LessOrEqual(t, m.ConfidenceScore, 0.95)

	assert.True(t, m.AutoApproved, "0.9483 clears the 0.85 auto-approve threshold")
	require.NotNil(t, m.AmountVariance)
	assert.True(t, m.AmountVariance.LessThan(decimal.RequireFromString("0.05")))
}

func TestMatchOne_MixedCurrencyNeverMatches(t *testing.T) {
	fx := newFixture(t)
	fx.store.pos[fx.poID].Currency = models.CurrencyEUR
	invID := fx.addInvoice("INV-9003", "PO-12345", "1000.00", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))

	decision, err := fx.engine.MatchOne(context.Background(), invID, false)
	require.NoError(t, err)
	assert.False(t, decision.Matched)
	assert.Empty(t, fx.store.matches)
	assert.Equal(t, models.StatusUnmatched, fx.store.invoices[invID].Status)
}

func TestMatchOne_ForceRematch(t *testing.T) {
	fx := newFixture(t)
	invID := fx.addInvoice("INV-9004", "PO-12345", "1000.00", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := fx.engine.MatchOne(ctx, invID, false)
	require.NoError(t, err)

	// Without force the prior decision comes back unchanged.
	again, err := fx.engine.MatchOne(ctx, invID, false)
	require.NoError(t, err)
	assert.Equal(t, first.Result.ID, again.Result.ID)
	assert.Len(t, fx.store.matches, 1)

	// With force the pipeline re-runs; the old result stays in storage.
	forced, err := fx.engine.MatchOne(ctx, invID, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.Result.ID, forced.Result.ID)
	assert.Len(t, fx.store.matches, 2)
}

func TestMatchOne_MissingInvoiceIsAbsenceNotError(t *testing.T) {
	fx := newFixture(t)
	decision, err := fx.engine.MatchOne(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	assert.False(t, decision.Matched)
}

func TestMatchBatch_Metrics(t *testing.T) {
	fx := newFixture(t)
	base := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	ids := []uuid.UUID{
		fx.addInvoice("INV-1", "PO-12345", "1000.00", base), // exact
		fx.addInvoice("INV-2", "PO12345", "1020.00", base),  // fuzzy
		fx.addInvoice("INV-3", "", "500.00", base.AddDate(0, 5, 0)), // outside the PO date window
		uuid.New(), // missing invoice -> absence
	}

	metrics := fx.engine.MatchBatch(context.Background(), ids, true)

	assert.Equal(t, 4, metrics.TotalInvoices)
	assert.Equal(t, 1, metrics.ExactMatches)
	assert.Equal(t, 1, metrics.FuzzyMatches)
	assert.Equal(t, 2, metrics.NoMatches)
	assert.Equal(t, 0, metrics.Errors)
	assert.Equal(t, 2, metrics.AutoApproved)
	assert.Greater(t, metrics.MeanConfidence, 0.9)
	assert.LessOrEqual(t, metrics.MeanConfidence, 1.0)
}

func TestUserFeedback_RejectBreaksCanonicalMatch(t *testing.T) {
	fx := newFixture(t)
	invID := fx.addInvoice("INV-9005", "PO-12345", "1000.00", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	decision, err := fx.engine.MatchOne(ctx, invID, false)
	require.NoError(t, err)

	reviewer := uuid.New()
	actor := models.Actor{UserID: &reviewer, TenantID: fx.tenantID, Role: "approver"}
	updated, err := fx.engine.UserFeedback(ctx, decision.Result.ID, FeedbackReject, actor, "wrong PO")
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusRejected, updated.MatchStatus)
	assert.Nil(t, updated.ApprovedAt)
	assert.Equal(t, "wrong PO", updated.ReviewNotes)
	require.NotNil(t, updated.ReviewedAt)

	// Rejected matches stop being canonical, so a fresh MatchOne
	// recomputes instead of replaying.
	again, err := fx.engine.MatchOne(ctx, invID, false)
	require.NoError(t, err)
	assert.NotEqual(t, decision.Result.ID, again.Result.ID)

	// match_created + user_feedback + second match_created, and every
	// per-result chain verifies.
	require.Len(t, fx.store.events, 3)
	for _, id := range []uuid.UUID{decision.Result.ID, again.Result.ID} {
		var chain []models.AuditEvent
		for _, ev := range fx.store.events {
			if ev.MatchResultID == id {
				chain = append(chain, ev)
			}
		}
		bad, err := audit.Verify(chain)
		require.NoError(t, err)
		assert.Equal(t, -1, bad)
	}
}

func TestNewEngine_RefusesBadThresholds(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{cfg: testConfig(tenantID)}
	store.cfg.AutoApproveThreshold = 0.4 // below manual_review

	logger := zap.NewNop()
	_, err := NewEngine(context.Background(), tenantID, store, audit.NewLogger(store, logger), logger)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewEngine_RefusesBadWeights(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{cfg: testConfig(tenantID)}
	store.cfg.Weights.Reference = 0.5 // sum 1.4

	logger := zap.NewNop()
	_, err := NewEngine(context.Background(), tenantID, store, audit.NewLogger(store, logger), logger)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
