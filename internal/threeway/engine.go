// Package threeway reconciles invoice, purchase order and receipt at
// header and line granularity: discover the PO, pull its receipts, pair
// invoice lines with PO lines under sub-factor scoring, then classify
// the whole document and decide approval.
package threeway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/audit"
	"github.com/ledgerline/recon-engine/internal/db"
	"github.com/ledgerline/recon-engine/internal/tolerance"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// Document classifications, most specific first.
const (
	ClassPerfectMatch     = "perfect_match"
	ClassPartialReceipt   = "partial_receipt"
	ClassSplitDelivery    = "split_delivery"
	ClassPriceVariance    = "price_variance"
	ClassQuantityVariance = "quantity_variance"
	ClassReviewRequired   = "review_required"
)

// PO discovery window and amount band around the invoice.
const (
	lookbackDays  = 30
	lookaheadDays = 7
)

var (
	amountBandLow  = decimal.RequireFromString("0.9")
	amountBandHigh = decimal.RequireFromString("1.1")

	// Default line-level tolerances when no tenant rule applies:
	// 1% on quantity, 2% on amount.
	defaultLineQtyTol = decimal.RequireFromString("0.01")
	defaultLineAmtTol = decimal.RequireFromString("0.02")
)

// Store is the persistence surface the three-way matcher needs.
// *db.PostgresStore satisfies it.
type Store interface {
	ActiveConfiguration(ctx context.Context, tenantID uuid.UUID) (*models.MatchingConfiguration, error)
	ListTolerances(ctx context.Context, tenantID uuid.UUID) ([]models.MatchingTolerance, error)

	GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*models.Invoice, error)
	GetInvoiceLines(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]models.InvoiceLine, error)
	FindPOByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*models.PurchaseOrder, error)
	ListPOsByAmount(ctx context.Context, tenantID, vendorID uuid.UUID, currency string, target, lo, hi decimal.Decimal) ([]models.PurchaseOrder, error)
	GetPOLines(ctx context.Context, tenantID, poID uuid.UUID) ([]models.PurchaseOrderLine, error)
	ListReceiptsForPO(ctx context.Context, tenantID, poID uuid.UUID) ([]models.Receipt, error)
	GetReceiptLines(ctx context.Context, tenantID, receiptID uuid.UUID) ([]models.ReceiptLine, error)

	InsertMatchResult(ctx context.Context, m *models.MatchResult) error
	UpdateInvoiceStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error
}

// LineMatch is the per-invoice-line outcome.
type LineMatch struct {
	InvoiceLineID    uuid.UUID       `json:"invoiceLineId"`
	POLineID         *uuid.UUID      `json:"poLineId,omitempty"`
	Confidence       float64         `json:"confidence"`
	QuantityVariance decimal.Decimal `json:"quantityVariance"`
	AmountVariance   decimal.Decimal `json:"amountVariance"`
	WithinTolerance  bool            `json:"withinTolerance"`
}

// Outcome is the full three-way result. Matched == false means the
// invoice or a plausible PO could not be found; it is absence, not an
// error.
type Outcome struct {
	Matched        bool                `json:"matched"`
	Classification string              `json:"classification,omitempty"`
	Confidence     float64             `json:"confidence"`
	AutoApproved   bool                `json:"autoApproved"`
	RequiresReview bool                `json:"requiresReview"`
	Lines          []LineMatch         `json:"lines,omitempty"`
	Exceptions     []string            `json:"exceptions,omitempty"`
	Result         *models.MatchResult `json:"result,omitempty"`
}

// Engine performs three-way matches for one tenant.
type Engine struct {
	tenantID   uuid.UUID
	store      Store
	audit      *audit.Logger
	log        *zap.Logger
	cfg        *models.MatchingConfiguration
	tolerances []models.MatchingTolerance
	now        func() time.Time
}

// NewEngine loads the tenant configuration and tolerance rules.
func NewEngine(ctx context.Context, tenantID uuid.UUID, store Store, auditLog *audit.Logger, logger *zap.Logger) (*Engine, error) {
	cfg, err := store.ActiveConfiguration(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tolerances, err := store.ListTolerances(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tolerances: %w", err)
	}
	return &Engine{
		tenantID:   tenantID,
		store:      store,
		audit:      auditLog,
		log:        logger,
		cfg:        cfg,
		tolerances: tolerances,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Perform runs the three-way match for one invoice.
func (e *Engine) Perform(ctx context.Context, invoiceID uuid.UUID) (*Outcome, error) {
	inv, err := e.store.GetInvoice(ctx, e.tenantID, invoiceID)
	if errors.Is(err, db.ErrNotFound) {
		return &Outcome{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	invLines, err := e.store.GetInvoiceLines(ctx, e.tenantID, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("load invoice lines: %w", err)
	}

	po, err := e.findPO(ctx, inv)
	if err != nil {
		return nil, err
	}
	if po == nil {
		if err := e.store.UpdateInvoiceStatus(ctx, e.tenantID, inv.ID, models.StatusUnmatched); err != nil {
			e.log.Warn("mark invoice unmatched", zap.Error(err))
		}
		return &Outcome{}, nil
	}

	poLines, err := e.store.GetPOLines(ctx, e.tenantID, po.ID)
	if err != nil {
		return nil, fmt.Errorf("load PO lines: %w", err)
	}

	receipts, receiptLines, err := e.findReceipts(ctx, inv, po)
	if err != nil {
		return nil, err
	}
	receiptByPOLine := aggregateReceipts(receiptLines)

	outcome := e.matchLines(inv, invLines, poLines, receiptByPOLine)
	e.classify(outcome, inv, po, poLines, receiptByPOLine, len(receiptLines))

	if err := e.persist(ctx, outcome, inv, po, receipts); err != nil {
		return nil, err
	}
	return outcome, nil
}

// findPO tries the exact reference first, then the fuzzy amount band
// inside the date window, closest amount first.
func (e *Engine) findPO(ctx context.Context, inv *models.Invoice) (*models.PurchaseOrder, error) {
	if inv.POReference != "" {
		po, err := e.store.FindPOByNumber(ctx, e.tenantID, inv.POReference)
		if err != nil {
			return nil, fmt.Errorf("exact PO lookup: %w", err)
		}
		if po != nil && po.VendorID == inv.VendorID &&
			po.Currency == inv.Currency && po.Status != models.StatusArchived {
			return po, nil
		}
	}

	lo := inv.TotalAmount.Mul(amountBandLow)
	hi := inv.TotalAmount.Mul(amountBandHigh)
	candidates, err := e.store.ListPOsByAmount(ctx, e.tenantID, inv.VendorID, inv.Currency, inv.TotalAmount, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("fuzzy PO lookup: %w", err)
	}

	from := inv.InvoiceDate.AddDate(0, 0, -lookbackDays)
	to := inv.InvoiceDate.AddDate(0, 0, lookaheadDays)
	for i := range candidates {
		po := &candidates[i]
		if po.Status == models.StatusArchived {
			continue
		}
		if po.PODate.Before(from) || po.PODate.After(to) {
			continue
		}
		return po, nil
	}
	return nil, nil
}

// findReceipts pulls all receipts for the PO inside a wide envelope
// around the invoice date, with their lines.
func (e *Engine) findReceipts(ctx context.Context, inv *models.Invoice, po *models.PurchaseOrder) ([]models.Receipt, []models.ReceiptLine, error) {
	receipts, err := e.store.ListReceiptsForPO(ctx, e.tenantID, po.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load receipts: %w", err)
	}

	now := e.now()
	from := inv.InvoiceDate.AddDate(0, 0, -60)
	if nf := now.AddDate(0, 0, -90); nf.Before(from) {
		from = nf
	}
	to := inv.InvoiceDate.AddDate(0, 0, 30)
	if to.Before(now) {
		to = now
	}

	var kept []models.Receipt
	var lines []models.ReceiptLine
	for _, r := range receipts {
		if r.ReceiptDate.Before(from) || r.ReceiptDate.After(to) {
			continue
		}
		rl, err := e.store.GetReceiptLines(ctx, e.tenantID, r.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load receipt lines: %w", err)
		}
		kept = append(kept, r)
		lines = append(lines, rl...)
	}
	return kept, lines, nil
}

// matchLines pairs each invoice line with its best PO line and computes
// per-line variances against the resolved tolerances.
func (e *Engine) matchLines(inv *models.Invoice, invLines []models.InvoiceLine, poLines []models.PurchaseOrderLine, receipts map[string]receiptAgg) *Outcome {
	vendorID := inv.VendorID.String()
	qtyTol := e.resolveLineTol(models.ToleranceTypeQuantity, &vendorID, inv.TotalAmount, defaultLineQtyTol)
	amtTol := e.resolveLineTol(models.ToleranceTypePrice, &vendorID, inv.TotalAmount, defaultLineAmtTol)

	outcome := &Outcome{Matched: true}
	for i := range invLines {
		il := &invLines[i]

		var bestPO *models.PurchaseOrderLine
		bestScore := 0.0
		for j := range poLines {
			if s := lineScore(il, &poLines[j]); s > bestScore {
				bestScore = s
				bestPO = &poLines[j]
			}
		}

		if bestPO == nil || bestScore < lineMatchThreshold {
			outcome.Lines = append(outcome.Lines, LineMatch{
				InvoiceLineID:    il.ID,
				Confidence:       0,
				QuantityVariance: decimal.NewFromInt(1),
				AmountVariance:   decimal.NewFromInt(1),
			})
			outcome.Exceptions = append(outcome.Exceptions,
				fmt.Sprintf("line %d: no matching PO line", il.LineNumber))
			continue
		}

		// Receipt quantity wins over invoice quantity when goods have
		// actually been received against the PO line.
		qty := il.Quantity
		if agg, ok := receipts[bestPO.ID.String()]; ok && agg.Quantity.GreaterThan(decimal.Zero) {
			qty = agg.Quantity
		}
		qtyVar := relativeVariance(qty, bestPO.Quantity)
		amtVar := relativeVariance(il.LineTotal, bestPO.LineTotal)

		within := qtyVar.LessThanOrEqual(qtyTol) && amtVar.LessThanOrEqual(amtTol)
		if !within {
			outcome.Exceptions = append(outcome.Exceptions,
				fmt.Sprintf("line %d: variance out of tolerance (qty %s, amount %s)",
					il.LineNumber, qtyVar.StringFixed(4), amtVar.StringFixed(4)))
		}

		poLineID := bestPO.ID
		outcome.Lines = append(outcome.Lines, LineMatch{
			InvoiceLineID:    il.ID,
			POLineID:         &poLineID,
			Confidence:       bestScore,
			QuantityVariance: qtyVar,
			AmountVariance:   amtVar,
			WithinTolerance:  within,
		})
	}
	return outcome
}

// resolveLineTol returns the percentage tolerance from the best tenant
// rule, or the three-way line default when none applies.
func (e *Engine) resolveLineTol(tolType string, vendorID *string, amount, fallback decimal.Decimal) decimal.Decimal {
	var winner *models.MatchingTolerance
	for i := range e.tolerances {
		r := &e.tolerances[i]
		if !r.Active || r.ToleranceType != tolType || r.PercentageTolerance == nil {
			continue
		}
		if r.VendorID != nil && (vendorID == nil || r.VendorID.String() != *vendorID) {
			continue
		}
		if r.AmountThreshold != nil && r.AmountThreshold.GreaterThan(amount) {
			continue
		}
		if winner == nil || r.Priority > winner.Priority {
			winner = r
		}
	}
	if winner == nil {
		return fallback
	}
	return *winner.PercentageTolerance
}

// classify derives the document class, confidence and header-level
// exceptions from the line outcomes.
func (e *Engine) classify(o *Outcome, inv *models.Invoice, po *models.PurchaseOrder, poLines []models.PurchaseOrderLine, receipts map[string]receiptAgg, receiptLineCount int) {
	total := len(o.Lines)
	matched, withinTol := 0, 0
	for _, l := range o.Lines {
		if l.POLineID != nil {
			matched++
		}
		if l.WithinTolerance {
			withinTol++
		}
	}
	matchPct, tolPct := 0.0, 0.0
	if total > 0 {
		matchPct = float64(matched) / float64(total)
		tolPct = float64(withinTol) / float64(total)
	}

	poQty := decimal.Zero
	for _, l := range poLines {
		poQty = poQty.Add(l.Quantity)
	}
	receiptQty := decimal.Zero
	for _, agg := range receipts {
		receiptQty = receiptQty.Add(agg.Quantity)
	}

	vendorID := inv.VendorID.String()
	amountCfg := tolerance.Resolve(e.tolerances, &vendorID, inv.TotalAmount, models.ToleranceTypePrice)
	headerAmountOK, _ := tolerance.CheckAmount(inv.TotalAmount, po.TotalAmount, amountCfg)

	// Header quantity compares total invoiced units to total ordered.
	invQty := invoicedQuantity(o, poLines)
	qtyCfg := tolerance.Resolve(e.tolerances, &vendorID, inv.TotalAmount, models.ToleranceTypeQuantity)
	headerQtyOK, _ := tolerance.CheckQuantity(invQty, poQty, qtyCfg)

	switch {
	case matchPct >= 0.95 && tolPct >= 0.95:
		o.Classification = ClassPerfectMatch
		o.Confidence = 0.95
	case receiptQty.LessThan(poQty):
		o.Classification = ClassPartialReceipt
		o.Confidence = matchPct * 0.85
		o.Exceptions = append(o.Exceptions,
			fmt.Sprintf("partial receipt: received %s of %s ordered units",
				receiptQty.String(), poQty.String()))
	case receiptLineCount > len(poLines):
		o.Classification = ClassSplitDelivery
		o.Confidence = matchPct * 0.80
	case !headerAmountOK:
		o.Classification = ClassPriceVariance
		o.Confidence = tolPct * 0.75
	case !headerQtyOK:
		o.Classification = ClassQuantityVariance
		o.Confidence = tolPct * 0.70
	default:
		o.Classification = ClassReviewRequired
		o.Confidence = matchPct * tolPct * 0.80
	}
	if o.Confidence > 1 {
		o.Confidence = 1
	}
	if o.Confidence < 0 {
		o.Confidence = 0
	}

	if !headerAmountOK {
		o.Exceptions = append(o.Exceptions, "header amount out of tolerance")
	}
	if !headerQtyOK {
		o.Exceptions = append(o.Exceptions, "header quantity out of tolerance")
	}

	o.AutoApproved = o.Confidence >= 0.95 && len(o.Exceptions) == 0 && headerAmountOK && headerQtyOK
	o.RequiresReview = !o.AutoApproved && o.Confidence >= e.cfg.ManualReviewThreshold
}

// invoicedQuantity sums the matched invoice-side quantities used for
// the header quantity check; unmatched lines count as zero against the
// PO total, surfacing under-invoicing.
func invoicedQuantity(o *Outcome, poLines []models.PurchaseOrderLine) decimal.Decimal {
	byID := make(map[string]decimal.Decimal, len(poLines))
	for _, l := range poLines {
		byID[l.ID.String()] = l.Quantity
	}
	sum := decimal.Zero
	for _, l := range o.Lines {
		if l.POLineID == nil {
			continue
		}
		poQty := byID[l.POLineID.String()]
		// Reconstruct the compared quantity from the recorded variance
		// direction-insensitively: within tolerance means full credit.
		if l.WithinTolerance {
			sum = sum.Add(poQty)
			continue
		}
		sum = sum.Add(poQty.Mul(decimal.NewFromInt(1).Sub(l.QuantityVariance)))
	}
	return sum
}

// persist writes the MatchResult, advances the invoice and appends the
// match_created audit event carrying the full classification block.
func (e *Engine) persist(ctx context.Context, o *Outcome, inv *models.Invoice, po *models.PurchaseOrder, receipts []models.Receipt) error {
	now := e.now()

	matchType := models.MatchTypeFuzzy
	switch o.Classification {
	case ClassPerfectMatch:
		matchType = models.MatchTypeExact
	case ClassPartialReceipt, ClassSplitDelivery:
		matchType = models.MatchTypePartial
	}

	var receiptID *uuid.UUID
	if len(receipts) > 0 {
		receiptID = &receipts[0].ID
	}

	amountVar := relativeVariance(inv.TotalAmount, po.TotalAmount)
	result := &models.MatchResult{
		ID:              uuid.New(),
		TenantID:        e.tenantID,
		InvoiceID:       inv.ID,
		PurchaseOrderID: &po.ID,
		ReceiptID:       receiptID,
		MatchType:       matchType,
		ConfidenceScore: o.Confidence,
		MatchStatus:     models.MatchStatusPending,
		CriteriaMet:     e.classificationBlock(o),
		AutoApproved:    o.AutoApproved,
		RequiresReview:  o.RequiresReview,
		AmountVariance:  &amountVar,
		MatchedAt:       now,
		MatchedBy:       "system",
	}
	if o.AutoApproved {
		result.MatchStatus = models.MatchStatusApproved
		result.ApprovedAt = &now
	} else if o.RequiresReview {
		result.MatchStatus = models.MatchStatusManualReview
	}

	if err := e.store.InsertMatchResult(ctx, result); err != nil {
		return fmt.Errorf("persist three-way result: %w", err)
	}

	status := models.StatusMatched
	if len(o.Exceptions) > 0 && !o.AutoApproved {
		status = models.StatusException
	}
	if err := e.store.UpdateInvoiceStatus(ctx, e.tenantID, inv.ID, status); err != nil {
		e.log.Warn("advance invoice status", zap.Error(err))
	}

	if err := e.audit.Append(ctx, &models.AuditEvent{
		TenantID:         e.tenantID,
		MatchResultID:    result.ID,
		EventType:        models.EventMatchCreated,
		EventDescription: fmt.Sprintf("three-way match against PO %s (%s)", po.PONumber, o.Classification),
		DecisionFactors:  e.classificationBlock(o),
		Actor:            models.SystemActor(e.tenantID),
	}); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	o.Result = result
	return nil
}

// classificationBlock renders the outcome as the opaque factor map
// stored on results and audit events.
func (e *Engine) classificationBlock(o *Outcome) map[string]any {
	lines := make([]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		entry := map[string]any{
			"invoice_line_id":   l.InvoiceLineID.String(),
			"confidence":        l.Confidence,
			"quantity_variance": l.QuantityVariance.String(),
			"amount_variance":   l.AmountVariance.String(),
			"within_tolerance":  l.WithinTolerance,
		}
		if l.POLineID != nil {
			entry["po_line_id"] = l.POLineID.String()
		}
		lines = append(lines, entry)
	}
	return map[string]any{
		"classification":  o.Classification,
		"confidence":      o.Confidence,
		"lines":           lines,
		"exception_items": o.Exceptions,
	}
}
