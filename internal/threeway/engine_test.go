package threeway

import (
	"context"
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

type fakeStore struct {
	cfg          *models.MatchingConfiguration
	invoices     map[uuid.UUID]*models.Invoice
	invoiceLines map[uuid.UUID][]models.InvoiceLine
	pos          map[uuid.UUID]*models.PurchaseOrder
	poLines      map[uuid.UUID][]models.PurchaseOrderLine
	receipts     map[uuid.UUID][]models.Receipt
	receiptLines map[uuid.UUID][]models.ReceiptLine
	matches      []*models.MatchResult
	events       []models.AuditEvent
}

func (f *fakeStore) ActiveConfiguration(context.Context, uuid.UUID) (*models.MatchingConfiguration, error) {
	return f.cfg, nil
}

func (f *fakeStore) ListTolerances(context.Context, uuid.UUID) ([]models.MatchingTolerance, error) {
	return nil, nil
}

func (f *fakeStore) GetInvoice(_ context.Context, _, id uuid.UUID) (*models.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return inv, nil
}

func (f *fakeStore) GetInvoiceLines(_ context.Context, _, id uuid.UUID) ([]models.InvoiceLine, error) {
	return f.invoiceLines[id], nil
}

func (f *fakeStore) FindPOByNumber(_ context.Context, _ uuid.UUID, number string) (*models.PurchaseOrder, error) {
	for _, po := range f.pos {
		if po.PONumber == number {
			return po, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListPOsByAmount(_ context.Context, _, vendorID uuid.UUID, currency string, _, lo, hi decimal.Decimal) ([]models.PurchaseOrder, error) {
	var out []models.PurchaseOrder
	for _, po := range f.pos {
		if po.VendorID != vendorID || po.Currency != currency {
			continue
		}
		if po.TotalAmount.LessThan(lo) || po.TotalAmount.GreaterThan(hi) {
			continue
		}
		out = append(out, *po)
	}
	return out, nil
}

func (f *fakeStore) GetPOLines(_ context.Context, _, id uuid.UUID) ([]models.PurchaseOrderLine, error) {
	return f.poLines[id], nil
}

func (f *fakeStore) ListReceiptsForPO(_ context.Context, _, poID uuid.UUID) ([]models.Receipt, error) {
	return f.receipts[poID], nil
}

func (f *fakeStore) GetReceiptLines(_ context.Context, _, receiptID uuid.UUID) ([]models.ReceiptLine, error) {
	return f.receiptLines[receiptID], nil
}

func (f *fakeStore) InsertMatchResult(_ context.Context, m *models.MatchResult) error {
	cp := *m
	f.matches = append(f.matches, &cp)
	return nil
}

func (f *fakeStore) UpdateInvoiceStatus(_ context.Context, _, id uuid.UUID, status string) error {
	if inv, ok := f.invoices[id]; ok {
		inv.Status = status
	}
	return nil
}

func (f *fakeStore) LastEventHash(_ context.Context, _, matchResultID uuid.UUID) (string, error) {
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].MatchResultID == matchResultID {
			return f.events[i].EventHash, nil
		}
	}
	return "", nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, ev *models.AuditEvent) error {
	f.events = append(f.events, *ev)
	return nil
}

// fixture: vendor with PO-777 (one line: 10 × 100.00 of WIDGET-1) and
// an invoice billing exactly that line.
type fixture struct {
	tenantID  uuid.UUID
	vendorID  uuid.UUID
	invoiceID uuid.UUID
	poID      uuid.UUID
	poLineID  uuid.UUID
	store     *fakeStore
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		tenantID:  uuid.New(),
		vendorID:  uuid.New(),
		invoiceID: uuid.New(),
		poID:      uuid.New(),
		poLineID:  uuid.New(),
	}
	invLineID := uuid.New()
	invDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	fx.store = &fakeStore{
		cfg: &models.MatchingConfiguration{
			TenantID:              fx.tenantID,
			Active:                true,
			AutoApproveThreshold:  0.90,
			ManualReviewThreshold: 0.50,
			RejectionThreshold:    0.30,
			Weights:               models.FactorWeights{VendorName: 0.4, Amount: 0.3, Date: 0.2, Reference: 0.1},
		},
		invoices: map[uuid.UUID]*models.Invoice{
			fx.invoiceID: {
				ID: fx.invoiceID, TenantID: fx.tenantID, VendorID: fx.vendorID,
				InvoiceNumber: "INV-3W-1", POReference: "PO-777",
				Currency:    models.CurrencyUSD,
				TotalAmount: decimal.RequireFromString("1000.00"),
				InvoiceDate: invDate, Status: models.StatusPending,
			},
		},
		invoiceLines: map[uuid.UUID][]models.InvoiceLine{
			fx.invoiceID: {{
				ID: invLineID, TenantID: fx.tenantID, InvoiceID: fx.invoiceID,
				LineNumber: 1, ItemCode: "WIDGET-1", Description: "blue widget",
				Quantity:  decimal.NewFromInt(10),
				UnitPrice: decimal.RequireFromString("100.00"),
				LineTotal: decimal.RequireFromString("1000.00"),
			}},
		},
		pos: map[uuid.UUID]*models.PurchaseOrder{
			fx.poID: {
				ID: fx.poID, TenantID: fx.tenantID, VendorID: fx.vendorID,
				PONumber: "PO-777", Currency: models.CurrencyUSD,
				TotalAmount: decimal.RequireFromString("1000.00"),
				PODate:      invDate.AddDate(0, 0, -5),
				Status:      models.StatusPending,
			},
		},
		poLines: map[uuid.UUID][]models.PurchaseOrderLine{
			fx.poID: {{
				ID: fx.poLineID, TenantID: fx.tenantID, PurchaseOrderID: fx.poID,
				LineNumber: 1, ItemCode: "WIDGET-1", Description: "blue widget",
				Quantity:  decimal.NewFromInt(10),
				UnitPrice: decimal.RequireFromString("100.00"),
				LineTotal: decimal.RequireFromString("1000.00"),
			}},
		},
		receipts:     map[uuid.UUID][]models.Receipt{},
		receiptLines: map[uuid.UUID][]models.ReceiptLine{},
	}

	logger := zap.NewNop()
	engine, err := NewEngine(context.Background(), fx.tenantID, fx.store, audit.NewLogger(fx.store, logger), logger)
	require.NoError(t, err)
	engine.now = func() time.Time { return time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC) }
	fx.engine = engine
	return fx
}

func (fx *fixture) addReceipt(qty, unitCost string) {
	receiptID := uuid.New()
	q := decimal.RequireFromString(qty)
	c := decimal.RequireFromString(unitCost)
	fx.store.receipts[fx.poID] = append(fx.store.receipts[fx.poID], models.Receipt{
		ID: receiptID, TenantID: fx.tenantID, PurchaseOrderID: fx.poID,
		ReceiptNumber: "RCT-" + receiptID.String()[:8],
		ReceiptDate:   time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		TotalQuantity: q, TotalValue: q.Mul(c), Status: models.StatusPending,
	})
	fx.store.receiptLines[receiptID] = []models.ReceiptLine{{
		ID: uuid.New(), TenantID: fx.tenantID, ReceiptID: receiptID,
		POLineID: fx.poLineID, LineNumber: 1,
		QuantityReceived: q, UnitCost: c, LineValue: q.Mul(c),
		Condition: models.ConditionGood,
	}}
}

func TestPerform_PerfectMatch(t *testing.T) {
	fx := newFixture(t)
	fx.addReceipt("10", "100.00")

	out, err := fx.engine.Perform(context.Background(), fx.invoiceID)
	require.NoError(t, err)
	require.True(t, out.Matched)

	assert.Equal(t, ClassPerfectMatch, out.Classification)
	assert.Equal(t, 0.95, out.Confidence)
	assert.True(t, out.AutoApproved)
	assert.Empty(t, out.Exceptions)

	require.Len(t, out.Lines, 1)
	line := out.Lines[0]
	require.NotNil(t, line.POLineID)
	assert.Equal(t, fx.poLineID, *line.POLineID)
	assert.True(t, line.WithinTolerance)
	assert.True(t, line.QuantityVariance.IsZero())
	assert.True(t, line.AmountVariance.IsZero())

	require.NotNil(t, out.Result)
	assert.Equal(t, models.MatchStatusApproved, out.Result.MatchStatus)
	assert.Equal(t, models.MatchTypeExact, out.Result.MatchType)
	require.NotNil(t, out.Result.ReceiptID)

	require.Len(t, fx.store.events, 1)
	assert.Equal(t, models.EventMatchCreated, fx.store.events[0].EventType)
	assert.Equal(t, ClassPerfectMatch, fx.store.events[0].DecisionFactors["classification"])
}

func TestPerform_PartialReceipt(t *testing.T) {
	fx := newFixture(t)
	fx.addReceipt("7", "100.00")

	out, err := fx.engine.Perform(context.Background(), fx.invoiceID)
	require.NoError(t, err)
	require.True(t, out.Matched)

	assert.Equal(t, ClassPartialReceipt, out.Classification)
	assert.GreaterOrEqual(t, out.Confidence, 0.70)
	assert.LessOrEqual(t, out.Confidence, 0.85)
	assert.False(t, out.AutoApproved)
	assert.True(t, out.RequiresReview)

	foundNote := false
	for _, ex := range out.Exceptions {
		if ex == "partial receipt: received 7 of 10 ordered units" {
			foundNote = true
		}
	}
	assert.True(t, foundNote, "exceptions: %v", out.Exceptions)

	assert.Equal(t, models.MatchTypePartial, out.Result.MatchType)
	assert.Equal(t, models.MatchStatusManualReview, out.Result.MatchStatus)
}

func TestPerform_NoReceiptsFallsBackToInvoiceQuantity(t *testing.T) {
	// No receipts at all: the quantity comparison falls back to the
	// invoice line, which reconciles perfectly, and the perfect-match
	// predicate wins over the partial-receipt one.
	fx := newFixture(t)

	out, err := fx.engine.Perform(context.Background(), fx.invoiceID)
	require.NoError(t, err)
	require.True(t, out.Matched)
	assert.Equal(t, ClassPerfectMatch, out.Classification)
	assert.Nil(t, out.Result.ReceiptID)
}

func TestPerform_MissingInvoiceIsAbsence(t *testing.T) {
	fx := newFixture(t)
	out, err := fx.engine.Perform(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Nil(t, out.Result)
}

func TestPerform_NoPlausiblePO(t *testing.T) {
	fx := newFixture(t)
	inv := fx.store.invoices[fx.invoiceID]
	inv.POReference = "PO-MISSING"
	inv.TotalAmount = decimal.RequireFromString("5000.00") // outside ±10% of any PO

	out, err := fx.engine.Perform(context.Background(), fx.invoiceID)
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, models.StatusUnmatched, inv.Status)
}

func TestPerform_UnmatchedLineBecomesException(t *testing.T) {
	fx := newFixture(t)
	fx.addReceipt("10", "100.00")
	// A second invoice line with nothing comparable on the PO.
	fx.store.invoiceLines[fx.invoiceID] = append(fx.store.invoiceLines[fx.invoiceID], models.InvoiceLine{
		ID: uuid.New(), TenantID: fx.tenantID, InvoiceID: fx.invoiceID,
		LineNumber: 2, ItemCode: "FREIGHT", Description: "expedited shipping surcharge",
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.RequireFromString("250.00"),
		LineTotal: decimal.RequireFromString("250.00"),
	})

	out, err := fx.engine.Perform(context.Background(), fx.invoiceID)
	require.NoError(t, err)
	require.True(t, out.Matched)

	require.Len(t, out.Lines, 2)
	unmatched := out.Lines[1]
	assert.Nil(t, unmatched.POLineID)
	assert.Equal(t, 0.0, unmatched.Confidence)
	assert.True(t, unmatched.QuantityVariance.Equal(decimal.NewFromInt(1)))
	assert.False(t, out.AutoApproved)
	assert.NotEmpty(t, out.Exceptions)
	assert.Equal(t, models.StatusException, fx.store.invoices[fx.invoiceID].Status)
}

func TestLineScore_SubFactors(t *testing.T) {
	po := models.PurchaseOrderLine{
		ItemCode: "A-1", Description: "steel bracket",
		Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100),
		LineTotal: decimal.NewFromInt(1000),
	}

	identical := models.InvoiceLine{
		ItemCode: "A-1", Description: "steel bracket",
		Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100),
		LineTotal: decimal.NewFromInt(1000),
	}
	assert.InDelta(t, 1.0, lineScore(&identical, &po), 1e-9)

	// Missing item codes on both sides: 0.1 + 0.3 + 0.2 + 0.1 = 0.7.
	noCodes := identical
	noCodes.ItemCode = ""
	poNoCode := po
	poNoCode.ItemCode = ""
	assert.InDelta(t, 0.7, lineScore(&noCodes, &poNoCode), 1e-9)

	// Half the words shared: jaccard 1/3.
	halfDesc := identical
	halfDesc.Description = "steel flange"
	assert.InDelta(t, 0.4+0.3/3+0.2+0.1, lineScore(&halfDesc, &po), 1e-9)

	// 10% price delta scales the price factor.
	priced := identical
	priced.UnitPrice = decimal.NewFromInt(110)
	assert.InDelta(t, 0.4+0.3+0.2*0.9+0.1, lineScore(&priced, &po), 1e-9)

	// Double the quantity halves the reasonableness factor.
	doubled := identical
	doubled.Quantity = decimal.NewFromInt(20)
	assert.InDelta(t, 0.4+0.3+0.2+0.1*0.5, lineScore(&doubled, &po), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("Blue Widget", "blue widget"))
	assert.Equal(t, 0.0, jaccard("bolt", "nut"))
	assert.InDelta(t, 1.0/3.0, jaccard("steel bracket", "steel flange"), 1e-9)
	assert.Equal(t, 1.0, jaccard("", ""))
}
