package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tolerance types.
const (
	ToleranceTypePrice    = "price"
	ToleranceTypeQuantity = "quantity"
	ToleranceTypeDate     = "date"
)

// MatchingTolerance is a tenant-scoped tolerance rule. A nil VendorID
// applies to all vendors; a nil AmountThreshold applies to all amounts.
// At least one of PercentageTolerance / AbsoluteTolerance is non-nil.
//
// Lookup contract: for a given (tenant, vendor, amount, type), the active
// rule with the highest priority whose vendor matches or is nil AND whose
// amount threshold is <= amount or is nil wins.
type MatchingTolerance struct {
	ID                  uuid.UUID        `json:"id"`
	TenantID            uuid.UUID        `json:"tenantId"`
	VendorID            *uuid.UUID       `json:"vendorId,omitempty"`
	AmountThreshold     *decimal.Decimal `json:"amountThreshold,omitempty"`
	ToleranceType       string           `json:"toleranceType"` // price / quantity / date
	PercentageTolerance *decimal.Decimal `json:"percentageTolerance,omitempty"` // 0.0 - 1.0
	AbsoluteTolerance   *decimal.Decimal `json:"absoluteTolerance,omitempty"`
	Priority            int              `json:"priority"` // 1 - 10, higher wins
	Active              bool             `json:"active"`
}

// FactorWeights are the two-way confidence factor weights. They must sum
// to 1.0 (within 1e-3).
type FactorWeights struct {
	VendorName float64 `json:"vendorName"`
	Amount     float64 `json:"amount"`
	Date       float64 `json:"date"`
	Reference  float64 `json:"reference"`
}

// Sum returns the total weight mass.
func (w FactorWeights) Sum() float64 {
	return w.VendorName + w.Amount + w.Date + w.Reference
}

// MatchingFeatures are per-tenant feature flags.
type MatchingFeatures struct {
	FuzzyMatching    bool `json:"fuzzyMatching"`
	PhoneticMatching bool `json:"phoneticMatching"`
	OCRCorrection    bool `json:"ocrCorrection"`
	MLMatching       bool `json:"mlMatching"`
	FeedbackLearning bool `json:"feedbackLearning"`
	ParallelBatch    bool `json:"parallelBatch"`
}

// MatchingConfiguration is the per-tenant, versioned matching setup.
// Exactly one version is active per tenant at any time. Thresholds are
// ordered: auto_approve >= manual_review >= rejection.
type MatchingConfiguration struct {
	ID                    uuid.UUID        `json:"id"`
	TenantID              uuid.UUID        `json:"tenantId"`
	ConfigVersion         int              `json:"configVersion"`
	Active                bool             `json:"active"`
	AutoApproveThreshold  float64          `json:"autoApproveThreshold"`
	ManualReviewThreshold float64          `json:"manualReviewThreshold"`
	RejectionThreshold    float64          `json:"rejectionThreshold"`
	Features              MatchingFeatures `json:"features"`
	Weights               FactorWeights    `json:"weights"`
	BatchSize             int              `json:"batchSize"`         // (0, 1000]
	MaxConcurrentJobs     int              `json:"maxConcurrentJobs"` // (0, 20]
	DefaultDateRangeDays  int              `json:"defaultDateRangeDays"`
	MaxDateRangeDays      int              `json:"maxDateRangeDays"`
	CreatedAt             time.Time        `json:"createdAt"`
}

// Match types.
const (
	MatchTypeExact   = "exact"
	MatchTypeFuzzy   = "fuzzy"
	MatchTypeManual  = "manual"
	MatchTypePartial = "partial"
)

// Match statuses.
const (
	MatchStatusPending      = "pending"
	MatchStatusApproved     = "approved"
	MatchStatusRejected     = "rejected"
	MatchStatusManualReview = "manual_review"
)

// MatchResult is a confidence-scored decision correlating an invoice with
// a PO (and for three-way matches, a receipt).
//
// Invariants: status == approved iff ApprovedAt is set; RequiresReview is
// mutually exclusive with AutoApproved.
type MatchResult struct {
	ID               uuid.UUID        `json:"id"`
	TenantID         uuid.UUID        `json:"tenantId"`
	InvoiceID        uuid.UUID        `json:"invoiceId"`
	PurchaseOrderID  *uuid.UUID       `json:"purchaseOrderId,omitempty"`
	ReceiptID        *uuid.UUID       `json:"receiptId,omitempty"`
	MatchType        string           `json:"matchType"`
	ConfidenceScore  float64          `json:"confidenceScore"`
	MatchStatus      string           `json:"matchStatus"`
	CriteriaMet      map[string]any   `json:"criteriaMet,omitempty"`
	ToleranceApplied map[string]any   `json:"toleranceApplied,omitempty"`
	AutoApproved     bool             `json:"autoApproved"`
	RequiresReview   bool             `json:"requiresReview"`
	AmountVariance   *decimal.Decimal `json:"amountVariance,omitempty"`
	QuantityVariance *decimal.Decimal `json:"quantityVariance,omitempty"`
	MatchedAt        time.Time        `json:"matchedAt"`
	ReviewedAt       *time.Time       `json:"reviewedAt,omitempty"`
	ApprovedAt       *time.Time       `json:"approvedAt,omitempty"`
	ApprovedBy       *uuid.UUID       `json:"approvedBy,omitempty"`
	ReviewNotes      string           `json:"reviewNotes,omitempty"`
	MatchedBy        string           `json:"matchedBy"` // system / user
}

// Audit event types.
const (
	EventMatchCreated      = "match_created"
	EventMatchUpdated      = "match_updated"
	EventStatusChanged     = "status_changed"
	EventConfidenceUpdated = "confidence_updated"
	EventManualReview      = "manual_review"
	EventApprovalGranted   = "approval_granted"
	EventApprovalDenied    = "approval_denied"
	EventToleranceApplied  = "tolerance_applied"
	EventExceptionCreated  = "exception_created"
	EventUserFeedback      = "user_feedback"
)

// AuditEvent is one link in the hash chain for a match result. Events are
// append-only; EventHash covers the event type, decision factors,
// timestamp, and the previous hash for the same match result.
type AuditEvent struct {
	ID                  uuid.UUID      `json:"id"`
	TenantID            uuid.UUID      `json:"tenantId"`
	MatchResultID       uuid.UUID      `json:"matchResultId"`
	EventType           string         `json:"eventType"`
	EventDescription    string         `json:"eventDescription,omitempty"`
	DecisionFactors     map[string]any `json:"decisionFactors,omitempty"`
	AlgorithmVersion    string         `json:"algorithmVersion,omitempty"`
	ConfidenceBreakdown map[string]any `json:"confidenceBreakdown,omitempty"`
	OldValues           map[string]any `json:"oldValues,omitempty"`
	NewValues           map[string]any `json:"newValues,omitempty"`
	Actor               Actor          `json:"actor"`
	OccurredAt          time.Time      `json:"occurredAt"`
	EventHash           string         `json:"eventHash"`
}

// ProcessingMetrics aggregates the outcome of a batch matching run.
type ProcessingMetrics struct {
	TotalInvoices   int           `json:"totalInvoices"`
	ExactMatches    int           `json:"exactMatches"`
	FuzzyMatches    int           `json:"fuzzyMatches"`
	NoMatches       int           `json:"noMatches"`
	AutoApproved    int           `json:"autoApproved"`
	RequiresReview  int           `json:"requiresReview"`
	Errors          int           `json:"errors"`
	MeanConfidence  float64       `json:"meanConfidence"`
	ElapsedTime     time.Duration `json:"elapsedTime"`
}
