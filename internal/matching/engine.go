// Package matching implements the two-way (invoice ↔ purchase order)
// matching engine: an exact pass on the PO reference followed by a
// fuzzy, tolerance-arbitrated scored pass over a date-windowed candidate
// pool. Decisions are persisted as MatchResults and every decision
// appends to the hash-chained audit log.
package matching

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
	"github.com/ledgerline/recon-engine/internal/fuzzy"
	"github.com/ledgerline/recon-engine/internal/normalize"
	"github.com/ledgerline/recon-engine/internal/scoring"
	"github.com/ledgerline/recon-engine/internal/tolerance"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// ErrInvalidConfig is returned at initialization when the tenant's
// matching configuration violates its ordering or weight invariants.
var ErrInvalidConfig = errors.New("matching: invalid configuration")

// Candidate PO date window around the invoice date: POs are normally
// raised before the invoice, so look back further than forward.
const (
	lookbackDays  = 30
	lookaheadDays = 7
)

// Store is the persistence surface the engine reads and writes.
// *db.PostgresStore satisfies it; tests substitute fakes.
type Store interface {
	ActiveConfiguration(ctx context.Context, tenantID uuid.UUID) (*models.MatchingConfiguration, error)
	ListTolerances(ctx context.Context, tenantID uuid.UUID) ([]models.MatchingTolerance, error)
	ListActiveVendors(ctx context.Context, tenantID uuid.UUID) ([]models.Vendor, error)
	ListApprovedAliases(ctx context.Context, tenantID uuid.UUID) ([]models.VendorAlias, error)

	GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*models.Invoice, error)
	GetVendor(ctx context.Context, tenantID, id uuid.UUID) (*models.Vendor, error)
	FindPOByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*models.PurchaseOrder, error)
	ListCandidatePOs(ctx context.Context, tenantID, vendorID uuid.UUID, currency string, from, to time.Time) ([]models.PurchaseOrder, error)
	UpdateInvoiceStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error
	MarkPOMatched(ctx context.Context, tenantID, poID uuid.UUID) error

	InsertMatchResult(ctx context.Context, m *models.MatchResult) error
	GetMatchResult(ctx context.Context, tenantID, id uuid.UUID) (*models.MatchResult, error)
	LatestMatchForInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.MatchResult, error)
	UpdateMatchReview(ctx context.Context, m *models.MatchResult) error
	UpsertVendorAlias(ctx context.Context, a *models.VendorAlias) error
}

// Decision is the outcome of matching one invoice. Matched == false
// means absence, not failure: the invoice simply has no acceptable PO.
type Decision struct {
	InvoiceID uuid.UUID           `json:"invoiceId"`
	Matched   bool                `json:"matched"`
	Result    *models.MatchResult `json:"result,omitempty"`
}

// Engine matches invoices against purchase orders for one tenant. The
// vendor corpus and configuration are fixed at construction, so an
// engine is safe for concurrent use by batch workers.
type Engine struct {
	tenantID   uuid.UUID
	store      Store
	audit      *audit.Logger
	log        *zap.Logger
	cfg        *models.MatchingConfiguration
	scorer     *scoring.Scorer
	matcher    *fuzzy.VendorMatcher
	tolerances []models.MatchingTolerance
}

// NewEngine loads the tenant's active configuration, validates it,
// prefits the fuzzy vendor corpus (canonical names plus approved
// aliases) and returns a ready engine.
func NewEngine(ctx context.Context, tenantID uuid.UUID, store Store, auditLog *audit.Logger, logger *zap.Logger) (*Engine, error) {
	cfg, err := store.ActiveConfiguration(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg.AutoApproveThreshold < cfg.ManualReviewThreshold ||
		cfg.ManualReviewThreshold < cfg.RejectionThreshold {
		return nil, fmt.Errorf("%w: thresholds out of order (%.2f / %.2f / %.2f)",
			ErrInvalidConfig, cfg.AutoApproveThreshold, cfg.ManualReviewThreshold, cfg.RejectionThreshold)
	}

	scorer, err := scoring.NewScorer(cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	vendors, err := store.ListActiveVendors(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load vendor corpus: %w", err)
	}
	aliases, err := store.ListApprovedAliases(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load alias corpus: %w", err)
	}
	corpus := make([]string, 0, len(vendors)+len(aliases))
	for _, v := range vendors {
		corpus = append(corpus, v.Name)
	}
	for _, a := range aliases {
		corpus = append(corpus, a.Alias)
	}

	tolerances, err := store.ListTolerances(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tolerances: %w", err)
	}

	logger.Info("matching engine initialized",
		zap.String("tenantId", tenantID.String()),
		zap.Int("configVersion", cfg.ConfigVersion),
		zap.Int("corpusSize", len(corpus)),
		zap.Int("toleranceRules", len(tolerances)))

	return &Engine{
		tenantID:   tenantID,
		store:      store,
		audit:      auditLog,
		log:        logger,
		cfg:        cfg,
		scorer:     scorer,
		matcher:    fuzzy.NewVendorMatcher(corpus, cfg.Features.OCRCorrection, cfg.Features.PhoneticMatching),
		tolerances: tolerances,
	}, nil
}

// Config exposes the active configuration, read-only.
func (e *Engine) Config() models.MatchingConfiguration { return *e.cfg }

// MatchOne matches a single invoice. Unless forceRematch is set, an
// existing non-rejected match is returned as-is instead of recomputing.
func (e *Engine) MatchOne(ctx context.Context, invoiceID uuid.UUID, forceRematch bool) (*Decision, error) {
	inv, err := e.store.GetInvoice(ctx, e.tenantID, invoiceID)
	if errors.Is(err, db.ErrNotFound) {
		return &Decision{InvoiceID: invoiceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if inv.Status == models.StatusArchived {
		return &Decision{InvoiceID: invoiceID}, nil
	}

	if !forceRematch {
		existing, err := e.store.LatestMatchForInvoice(ctx, e.tenantID, invoiceID)
		if err != nil {
			return nil, fmt.Errorf("load existing match: %w", err)
		}
		if existing != nil {
			return &Decision{InvoiceID: invoiceID, Matched: true, Result: existing}, nil
		}
	}

	if cand := e.exactPass(ctx, inv); cand != nil {
		return e.finalize(ctx, inv, cand)
	}

	if e.cfg.Features.FuzzyMatching {
		cand, err := e.fuzzyPass(ctx, inv)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			return e.finalize(ctx, inv, cand)
		}
	}

	if err := e.store.UpdateInvoiceStatus(ctx, e.tenantID, inv.ID, models.StatusUnmatched); err != nil {
		e.log.Warn("mark invoice unmatched", zap.Error(err))
	}
	return &Decision{InvoiceID: invoiceID}, nil
}

// candidate is an internal scored pairing awaiting persistence.
type candidate struct {
	po         *models.PurchaseOrder
	matchType  string
	confidence float64
	breakdown  scoring.Breakdown
	amountVar  decimal.Decimal
	tolApplied map[string]any
}

// exactPass resolves the invoice's PO reference directly. A hit needs
// the same vendor, the same currency, an equal total and a live PO.
func (e *Engine) exactPass(ctx context.Context, inv *models.Invoice) *candidate {
	if inv.POReference == "" {
		return nil
	}
	po, err := e.store.FindPOByNumber(ctx, e.tenantID, inv.POReference)
	if err != nil {
		e.log.Warn("exact pass lookup failed", zap.Error(err))
		return nil
	}
	if po == nil || po.VendorID != inv.VendorID || po.Status == models.StatusArchived {
		return nil
	}
	if po.Currency != inv.Currency || !po.TotalAmount.Equal(inv.TotalAmount) {
		return nil
	}
	return &candidate{
		po:         po,
		matchType:  models.MatchTypeExact,
		confidence: 1.0,
		breakdown:  scoring.Breakdown{VendorName: 1, Amount: 1, Date: 1, Reference: 1},
		amountVar:  decimal.Zero,
		tolApplied: map[string]any{"exact": true},
	}
}

// fuzzyPass scores every candidate PO in the date window and keeps the
// argmax, provided it clears the manual-review threshold.
func (e *Engine) fuzzyPass(ctx context.Context, inv *models.Invoice) (*candidate, error) {
	vendor, err := e.store.GetVendor(ctx, e.tenantID, inv.VendorID)
	if err != nil {
		return nil, fmt.Errorf("load vendor: %w", err)
	}

	from := inv.InvoiceDate.AddDate(0, 0, -lookbackDays)
	to := inv.InvoiceDate.AddDate(0, 0, lookaheadDays)
	pos, err := e.store.ListCandidatePOs(ctx, e.tenantID, inv.VendorID, inv.Currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("load candidate POs: %w", err)
	}
	if len(pos) == 0 {
		return nil, nil
	}

	vendorIDStr := inv.VendorID.String()
	amountTol := tolerance.Resolve(e.tolerances, &vendorIDStr, inv.TotalAmount, models.ToleranceTypePrice)
	dateDays := tolerance.ResolveDateDays(e.tolerances, &vendorIDStr, inv.TotalAmount)

	// The vendor string as it appeared on the document, when the
	// extraction kept it; falls back to the master name.
	rawVendor := vendor.Name
	if s, ok := inv.ExtractedData["vendor_name"].(string); ok && s != "" {
		rawVendor = normalize.VendorName(s)
	}

	var best *candidate
	for i := range pos {
		po := &pos[i]

		amountOK, amountVar := tolerance.CheckAmount(inv.TotalAmount, po.TotalAmount, amountTol)
		dateOK, gapDays := tolerance.CheckDate(inv.InvoiceDate, po.PODate, dateDays)

		refExact := inv.POReference != "" &&
			(po.PONumber == inv.POReference || po.ExternalPONumber == inv.POReference)
		refSim := 0.0
		if inv.POReference != "" && !refExact {
			refSim = fuzzy.LevenshteinRatio(inv.POReference, po.PONumber)
		}

		varF, _ := amountVar.Float64()
		confidence, breakdown := e.scorer.Score(scoring.Factors{
			VendorSimilarity:      e.matcher.Score(rawVendor, vendor.Name),
			AmountWithinTolerance: amountOK,
			AmountVariance:        varF,
			DateWithinTolerance:   dateOK,
			DateGapDays:           gapDays,
			ReferenceExact:        refExact,
			ReferenceSimilarity:   refSim,
		})

		if confidence < e.cfg.ManualReviewThreshold {
			continue
		}
		if best == nil || confidence > best.confidence {
			best = &candidate{
				po:         po,
				matchType:  models.MatchTypeFuzzy,
				confidence: confidence,
				breakdown:  breakdown,
				amountVar:  amountVar,
				tolApplied: tolAsMap(amountTol, dateDays),
			}
		}
	}
	return best, nil
}

// finalize persists the decision, moves the documents through their
// lifecycle, appends the audit event and optionally records a learned
// vendor alias.
func (e *Engine) finalize(ctx context.Context, inv *models.Invoice, c *candidate) (*Decision, error) {
	now := time.Now().UTC()
	autoApproved := c.confidence >= e.cfg.AutoApproveThreshold
	requiresReview := !autoApproved && c.confidence >= e.cfg.ManualReviewThreshold

	result := &models.MatchResult{
		ID:               uuid.New(),
		TenantID:         e.tenantID,
		InvoiceID:        inv.ID,
		PurchaseOrderID:  &c.po.ID,
		MatchType:        c.matchType,
		ConfidenceScore:  c.confidence,
		MatchStatus:      models.MatchStatusPending,
		CriteriaMet:      c.breakdown.Map(),
		ToleranceApplied: c.tolApplied,
		AutoApproved:     autoApproved,
		RequiresReview:   requiresReview,
		AmountVariance:   &c.amountVar,
		MatchedAt:        now,
		MatchedBy:        "system",
	}
	if autoApproved {
		result.MatchStatus = models.MatchStatusApproved
		result.ApprovedAt = &now
	} else if requiresReview {
		result.MatchStatus = models.MatchStatusManualReview
	}

	if err := e.store.InsertMatchResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persist match result: %w", err)
	}
	if err := e.store.UpdateInvoiceStatus(ctx, e.tenantID, inv.ID, models.StatusMatched); err != nil {
		e.log.Warn("mark invoice matched", zap.Error(err))
	}
	if autoApproved {
		if err := e.store.MarkPOMatched(ctx, e.tenantID, c.po.ID); err != nil {
			e.log.Warn("mark PO matched", zap.Error(err))
		}
	}

	factors := c.breakdown.Map()
	factors["match_type"] = c.matchType
	factors["confidence"] = c.confidence
	if err := e.audit.Append(ctx, &models.AuditEvent{
		TenantID:            e.tenantID,
		MatchResultID:       result.ID,
		EventType:           models.EventMatchCreated,
		EventDescription:    fmt.Sprintf("%s match against PO %s", c.matchType, c.po.PONumber),
		DecisionFactors:     factors,
		ConfidenceBreakdown: c.breakdown.Map(),
		Actor:               models.SystemActor(e.tenantID),
	}); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}

	e.learnAlias(ctx, inv, c)

	return &Decision{InvoiceID: inv.ID, Matched: true, Result: result}, nil
}

// learnAlias records the document's raw vendor spelling as a learning
// alias when feedback learning is on and the match was confident.
func (e *Engine) learnAlias(ctx context.Context, inv *models.Invoice, c *candidate) {
	if !e.cfg.Features.FeedbackLearning || c.po.VendorID == uuid.Nil {
		return
	}
	raw, ok := inv.ExtractedData["vendor_name"].(string)
	if !ok || raw == "" {
		return
	}
	vendor, err := e.store.GetVendor(ctx, e.tenantID, inv.VendorID)
	if err != nil {
		return
	}
	alias := normalize.VendorName(raw)
	if alias == vendor.Name || c.confidence < e.cfg.AutoApproveThreshold {
		return
	}
	if err := e.store.UpsertVendorAlias(ctx, &models.VendorAlias{
		TenantID:   e.tenantID,
		VendorID:   vendor.ID,
		Alias:      alias,
		Similarity: c.breakdown.VendorName,
		Source:     models.AliasSourceLearning,
		Confidence: c.confidence,
	}); err != nil {
		e.log.Warn("record learned alias", zap.Error(err))
	}
}

func tolAsMap(amount tolerance.Config, dateDays int) map[string]any {
	m := map[string]any{"date_days": dateDays}
	if amount.Percentage != nil {
		m["amount_percentage"], _ = amount.Percentage.Float64()
	}
	if amount.Absolute != nil {
		m["amount_absolute"], _ = amount.Absolute.Float64()
	}
	return m
}
