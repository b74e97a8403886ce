package models

import (
	"time"

	"github.com/google/uuid"
)

// Currency codes accepted on documents. All documents in one matching
// comparison must share a currency; there is no conversion.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
	CurrencyCAD = "CAD"
	CurrencyAUD = "AUD"
)

// ValidCurrency reports whether code is one of the supported currencies.
func ValidCurrency(code string) bool {
	switch code {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyCAD, CurrencyAUD:
		return true
	}
	return false
}

// Tenant is the root of isolation. Every row in every other table carries
// the tenant id, and every query is filtered by it.
type Tenant struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Settings    map[string]any `json:"settings,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Vendor is a supplier master record. (tenant_id, vendor_code) is unique.
type Vendor struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenantId"`
	VendorCode      string     `json:"vendorCode"`
	Name            string     `json:"name"`
	LegalName       string     `json:"legalName,omitempty"`
	TaxID           string     `json:"taxId,omitempty"`
	DefaultCurrency string     `json:"defaultCurrency"`
	PaymentTerms    int        `json:"paymentTerms"` // net days
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CreatedBy       *uuid.UUID `json:"createdBy,omitempty"`
	UpdatedBy       *uuid.UUID `json:"updatedBy,omitempty"`
}

// Alias provenance.
const (
	AliasSourceManual   = "manual"
	AliasSourceOCR      = "ocr"
	AliasSourceLearning = "learning"
)

// VendorAlias is a learned or approved name variation used by the fuzzy
// matcher. (tenant_id, vendor_id, alias) is unique.
type VendorAlias struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenantId"`
	VendorID   uuid.UUID `json:"vendorId"`
	Alias      string    `json:"alias"`
	Similarity float64   `json:"similarity"` // 0.0 - 1.0 against the canonical name
	Approved   bool      `json:"approved"`
	Source     string    `json:"source"` // manual / ocr / learning
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Actor identifies who (or what) performed an operation, for audit rows.
// The authentication subsystem supplies it; the core only records it.
type Actor struct {
	UserID    *uuid.UUID `json:"userId,omitempty"`
	TenantID  uuid.UUID  `json:"tenantId"`
	Role      string     `json:"role,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"userAgent,omitempty"`
}

// SystemActor is used when the matching engine itself makes a decision.
func SystemActor(tenantID uuid.UUID) Actor {
	return Actor{TenantID: tenantID, Role: "system"}
}
