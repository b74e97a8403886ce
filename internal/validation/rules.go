// Package validation runs the per-row rule chain of the ingestion
// pipeline: required fields, type checks, business rules, vendor
// resolution and duplicate detection, in that fixed order.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/internal/normalize"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// Canonical field names rows are mapped onto.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldVendor        = "vendor"
	FieldAmount        = "amount"
	FieldInvoiceDate   = "invoice_date"
	FieldDueDate       = "due_date"
	FieldTaxAmount     = "tax_amount"
	FieldSubtotal      = "subtotal"
	FieldCurrency      = "currency"
	FieldDescription   = "description"
	FieldPOReference   = "po_reference"
)

// Error codes emitted by the rule chain.
const (
	CodeMissingField       = "MISSING_REQUIRED_FIELD"
	CodeInvalidType        = "INVALID_TYPE"
	CodeNonPositiveAmount  = "NON_POSITIVE_AMOUNT"
	CodeAmountUnusuallyBig = "AMOUNT_UNUSUALLY_LARGE"
	CodeInvalidTax         = "INVALID_TAX_AMOUNT"
	CodeHighTaxRatio       = "HIGH_TAX_RATIO"
	CodeFutureDate         = "FUTURE_INVOICE_DATE"
	CodeStaleDate          = "STALE_INVOICE_DATE"
	CodeDueBeforeInvoice   = "DUE_BEFORE_INVOICE"
	CodeLongPaymentTerm    = "LONG_PAYMENT_TERM"
	CodeTotalMismatch      = "TOTAL_MISMATCH"
	CodeInvalidVendorName  = "INVALID_VENDOR_NAME"
	CodeNewVendor          = "NEW_VENDOR"
	CodeDuplicateInBatch   = "DUPLICATE_IN_BATCH"
	CodeDuplicateInStore   = "DUPLICATE_IN_STORAGE"
)

// Error is one finding from a rule. Severity "error" blocks persistence
// of the row; "warning" accompanies a persisted row.
type Error struct {
	ErrorType      string `json:"errorType"` // validation / business_rule / duplicate / parsing
	Code           string `json:"code"`
	Message        string `json:"message"`
	Field          string `json:"field,omitempty"`
	RawValue       string `json:"rawValue,omitempty"`
	ExpectedFormat string `json:"expectedFormat,omitempty"`
	SuggestedFix   string `json:"suggestedFix,omitempty"`
	Severity       string `json:"severity"`
}

// Row is the unit the chain validates: the raw mapped cells plus the
// parsed values the rules (and later the persister) consume. Rules
// attach derived data here, notably MatchedVendorID.
type Row struct {
	Number int               // 1-based row number in the source file
	Raw    map[string]string // canonical field -> raw cell value

	InvoiceNumber string
	VendorName    string // normalized (uppercase, suffix-stripped)
	Amount        *decimal.Decimal
	TaxAmount     *decimal.Decimal
	Subtotal      *decimal.Decimal
	InvoiceDate   *time.Time
	DueDate       *time.Time

	MatchedVendorID *uuid.UUID
}

// HasBlockingError reports whether any finding has severity error.
func HasBlockingError(errs []Error) bool {
	for _, e := range errs {
		if e.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

// Rule is one link of the chain.
type Rule interface {
	Name() string
	Validate(ctx context.Context, row *Row) []Error
}

// VendorLookup resolves vendor names and invoice numbers against
// storage; implemented by the Postgres store, faked in tests.
type VendorLookup interface {
	FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error)
	InvoiceExists(ctx context.Context, tenantID, vendorID uuid.UUID, invoiceNumber string) (bool, error)
}

// ─── RequiredFields ─────────────────────────────────────────────────

type RequiredFieldsRule struct{}

func (RequiredFieldsRule) Name() string { return "required_fields" }

func (RequiredFieldsRule) Validate(_ context.Context, row *Row) []Error {
	var errs []Error
	for _, field := range []string{FieldInvoiceNumber, FieldVendor, FieldAmount, FieldInvoiceDate} {
		if strings.TrimSpace(row.Raw[field]) == "" {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorValidation,
				Code:      CodeMissingField,
				Message:   fmt.Sprintf("required field %s is empty", field),
				Field:     field,
				Severity:  models.SeverityError,
			})
		}
	}
	return errs
}

// ─── Types ──────────────────────────────────────────────────────────

// TypesRule parses the typed fields and stores the parsed values on the
// row for the downstream rules. Parsing failures are type errors.
type TypesRule struct{}

func (TypesRule) Name() string { return "types" }

func (TypesRule) Validate(_ context.Context, row *Row) []Error {
	var errs []Error

	row.InvoiceNumber = normalize.InvoiceNumber(row.Raw[FieldInvoiceNumber])
	row.VendorName = normalize.VendorName(row.Raw[FieldVendor])

	if raw := strings.TrimSpace(row.Raw[FieldAmount]); raw != "" {
		if d, err := normalize.Amount(raw); err != nil {
			errs = append(errs, typeError(FieldAmount, raw, "decimal amount, e.g. 1234.56"))
		} else {
			row.Amount = &d
		}
	}
	if raw := strings.TrimSpace(row.Raw[FieldTaxAmount]); raw != "" {
		if d, err := normalize.Amount(raw); err != nil {
			errs = append(errs, typeError(FieldTaxAmount, raw, "decimal amount, e.g. 123.45"))
		} else {
			row.TaxAmount = &d
		}
	}
	if raw := strings.TrimSpace(row.Raw[FieldSubtotal]); raw != "" {
		if d, err := normalize.Amount(raw); err != nil {
			errs = append(errs, typeError(FieldSubtotal, raw, "decimal amount, e.g. 1111.11"))
		} else {
			row.Subtotal = &d
		}
	}
	if raw := strings.TrimSpace(row.Raw[FieldInvoiceDate]); raw != "" {
		if d, err := normalize.Date(raw); err != nil {
			errs = append(errs, typeError(FieldInvoiceDate, raw, "calendar date, e.g. 2023-01-15"))
		} else {
			row.InvoiceDate = &d
		}
	}
	if raw := strings.TrimSpace(row.Raw[FieldDueDate]); raw != "" {
		if d, err := normalize.Date(raw); err != nil {
			errs = append(errs, typeError(FieldDueDate, raw, "calendar date, e.g. 2023-02-15"))
		} else {
			row.DueDate = &d
		}
	}
	return errs
}

func typeError(field, raw, expected string) Error {
	return Error{
		ErrorType:      models.ImportErrorValidation,
		Code:           CodeInvalidType,
		Message:        fmt.Sprintf("value %q is not a valid %s", raw, field),
		Field:          field,
		RawValue:       raw,
		ExpectedFormat: expected,
		Severity:       models.SeverityError,
	}
}

// ─── BusinessRules ──────────────────────────────────────────────────

var (
	amountWarnCeiling = decimal.NewFromInt(1_000_000)
	totalSlack        = decimal.NewFromFloat(0.02)
)

type BusinessRulesRule struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (BusinessRulesRule) Name() string { return "business_rules" }

func (r BusinessRulesRule) Validate(_ context.Context, row *Row) []Error {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	today := now.Truncate(24 * time.Hour)

	var errs []Error

	if row.Amount != nil {
		if !row.Amount.IsPositive() {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeNonPositiveAmount,
				Message: "total amount must be positive", Field: FieldAmount,
				RawValue: row.Raw[FieldAmount], Severity: models.SeverityError,
			})
		} else if row.Amount.GreaterThan(amountWarnCeiling) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeAmountUnusuallyBig,
				Message: "total amount exceeds $1,000,000", Field: FieldAmount,
				RawValue: row.Raw[FieldAmount], Severity: models.SeverityWarning,
			})
		}
	}

	if row.TaxAmount != nil && row.Amount != nil {
		if row.TaxAmount.IsNegative() || row.TaxAmount.GreaterThan(*row.Amount) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeInvalidTax,
				Message: "tax amount must be between 0 and the total", Field: FieldTaxAmount,
				RawValue: row.Raw[FieldTaxAmount], Severity: models.SeverityError,
			})
		} else if row.Amount.IsPositive() && row.TaxAmount.Div(*row.Amount).GreaterThan(decimal.NewFromFloat(0.5)) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeHighTaxRatio,
				Message: "tax exceeds 50% of the total", Field: FieldTaxAmount,
				RawValue: row.Raw[FieldTaxAmount], Severity: models.SeverityWarning,
			})
		}
	}

	if row.InvoiceDate != nil {
		if row.InvoiceDate.After(today) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeFutureDate,
				Message: "invoice date is in the future", Field: FieldInvoiceDate,
				RawValue: row.Raw[FieldInvoiceDate], Severity: models.SeverityError,
			})
		} else if row.InvoiceDate.Before(today.AddDate(-3, 0, 0)) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeStaleDate,
				Message: "invoice date is more than 3 years old", Field: FieldInvoiceDate,
				RawValue: row.Raw[FieldInvoiceDate], Severity: models.SeverityWarning,
			})
		}
	}

	if row.DueDate != nil && row.InvoiceDate != nil {
		if row.DueDate.Before(*row.InvoiceDate) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeDueBeforeInvoice,
				Message: "due date precedes the invoice date", Field: FieldDueDate,
				RawValue: row.Raw[FieldDueDate], Severity: models.SeverityError,
			})
		} else if row.DueDate.Sub(*row.InvoiceDate) > 365*24*time.Hour {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeLongPaymentTerm,
				Message: "payment term exceeds 365 days", Field: FieldDueDate,
				RawValue: row.Raw[FieldDueDate], Severity: models.SeverityWarning,
			})
		}
	}

	// Cross-field: total must reconcile with subtotal + tax to the cent.
	if row.Amount != nil && row.Subtotal != nil && row.TaxAmount != nil {
		expected := row.Subtotal.Add(*row.TaxAmount)
		if row.Amount.Sub(expected).Abs().GreaterThan(totalSlack) {
			errs = append(errs, Error{
				ErrorType: models.ImportErrorBusinessRule, Code: CodeTotalMismatch,
				Message:        fmt.Sprintf("total %s does not equal subtotal + tax (%s)", row.Amount, expected),
				Field:          FieldAmount,
				RawValue:       row.Raw[FieldAmount],
				ExpectedFormat: "total = subtotal + tax (±0.02)",
				Severity:       models.SeverityError,
			})
		}
	}
	return errs
}

// ─── VendorValidation ───────────────────────────────────────────────

// VendorValidationRule checks name plausibility and resolves the vendor
// against the tenant's master data. A miss is only a warning: ingestion
// will auto-create the vendor.
type VendorValidationRule struct {
	TenantID uuid.UUID
	Lookup   VendorLookup
}

func (VendorValidationRule) Name() string { return "vendor" }

func (r VendorValidationRule) Validate(ctx context.Context, row *Row) []Error {
	name := row.VendorName
	if name == "" {
		return nil // required-fields already flagged it
	}

	if !plausibleVendorName(name) {
		return []Error{{
			ErrorType: models.ImportErrorValidation, Code: CodeInvalidVendorName,
			Message:  "vendor name must be at least 2 characters and contain letters",
			Field:    FieldVendor,
			RawValue: row.Raw[FieldVendor],
			Severity: models.SeverityError,
		}}
	}

	vendor, err := r.Lookup.FindVendorByName(ctx, r.TenantID, name)
	if err != nil {
		return []Error{{
			ErrorType: models.ImportErrorSystem, Code: "VENDOR_LOOKUP_FAILED",
			Message: "vendor lookup failed", Field: FieldVendor,
			Severity: models.SeverityError,
		}}
	}
	if vendor != nil {
		id := vendor.ID
		row.MatchedVendorID = &id
		return nil
	}
	return []Error{{
		ErrorType: models.ImportErrorValidation, Code: CodeNewVendor,
		Message:      fmt.Sprintf("vendor %q is not on file; a new vendor will be created", name),
		Field:        FieldVendor,
		RawValue:     row.Raw[FieldVendor],
		SuggestedFix: "verify the vendor name or add the vendor to the master list first",
		Severity:     models.SeverityWarning,
	}}
}

// plausibleVendorName requires at least 2 characters and at least one
// letter, which also rules out purely numeric names.
func plausibleVendorName(name string) bool {
	if len([]rune(name)) < 2 {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// ─── DuplicateDetection ─────────────────────────────────────────────

// DuplicateDetectionRule flags duplicates within the running batch on
// (VENDOR_UPPER, invoice_number), and against storage by the resolved
// vendor id.
type DuplicateDetectionRule struct {
	TenantID uuid.UUID
	Lookup   VendorLookup

	seen map[string]int // batch key -> first row number
}

func NewDuplicateDetectionRule(tenantID uuid.UUID, lookup VendorLookup) *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		TenantID: tenantID,
		Lookup:   lookup,
		seen:     make(map[string]int),
	}
}

func (*DuplicateDetectionRule) Name() string { return "duplicates" }

func (r *DuplicateDetectionRule) Validate(ctx context.Context, row *Row) []Error {
	if row.InvoiceNumber == "" || row.VendorName == "" {
		return nil
	}

	key := strings.ToUpper(row.VendorName) + "\x00" + row.InvoiceNumber
	if first, dup := r.seen[key]; dup {
		return []Error{{
			ErrorType: models.ImportErrorDuplicate, Code: CodeDuplicateInBatch,
			Message:  fmt.Sprintf("duplicate of row %d (same vendor and invoice number)", first),
			Field:    FieldInvoiceNumber,
			RawValue: row.InvoiceNumber,
			Severity: models.SeverityError,
		}}
	}
	r.seen[key] = row.Number

	if row.MatchedVendorID != nil {
		exists, err := r.Lookup.InvoiceExists(ctx, r.TenantID, *row.MatchedVendorID, row.InvoiceNumber)
		if err != nil {
			return []Error{{
				ErrorType: models.ImportErrorSystem, Code: "DUPLICATE_CHECK_FAILED",
				Message: "duplicate check failed", Severity: models.SeverityError,
			}}
		}
		if exists {
			return []Error{{
				ErrorType: models.ImportErrorDuplicate, Code: CodeDuplicateInStore,
				Message:  "an invoice with this number already exists for the vendor",
				Field:    FieldInvoiceNumber,
				RawValue: row.InvoiceNumber,
				Severity: models.SeverityError,
			}}
		}
	}
	return nil
}
