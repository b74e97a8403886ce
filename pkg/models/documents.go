package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Document lifecycle status shared by invoices and purchase orders.
// Archived rows are soft-deleted: they stay in storage but are excluded
// from matching.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusMatched    = "matched"
	StatusUnmatched  = "unmatched"
	StatusException  = "exception"
	StatusArchived   = "archived"
)

// PurchaseOrder is the buyer's commitment. (tenant_id, po_number) is unique.
type PurchaseOrder struct {
	ID                   uuid.UUID       `json:"id"`
	TenantID             uuid.UUID       `json:"tenantId"`
	VendorID             uuid.UUID       `json:"vendorId"`
	PONumber             string          `json:"poNumber"`
	ExternalPONumber     string          `json:"externalPoNumber,omitempty"`
	Currency             string          `json:"currency"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"taxAmount"`
	TotalAmount          decimal.Decimal `json:"totalAmount"`
	PODate               time.Time       `json:"poDate"`
	ExpectedDeliveryDate *time.Time      `json:"expectedDeliveryDate,omitempty"`
	Status               string          `json:"status"`
	ApprovalStatus       string          `json:"approvalStatus,omitempty"`
	Description          string          `json:"description,omitempty"`
	DeliveryAddress      string          `json:"deliveryAddress,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	CreatedBy            *uuid.UUID      `json:"createdBy,omitempty"`
	UpdatedBy            *uuid.UUID      `json:"updatedBy,omitempty"`
}

// PurchaseOrderLine is a line item on a PO. line_number is unique within
// the PO. quantity_received and quantity_invoiced track fulfilment and
// never exceed the ordered quantity.
type PurchaseOrderLine struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         uuid.UUID       `json:"tenantId"`
	PurchaseOrderID  uuid.UUID       `json:"purchaseOrderId"`
	LineNumber       int             `json:"lineNumber"`
	ItemCode         string          `json:"itemCode,omitempty"`
	Description      string          `json:"description,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	LineTotal        decimal.Decimal `json:"lineTotal"`
	UnitOfMeasure    string          `json:"unitOfMeasure,omitempty"`
	QuantityReceived decimal.Decimal `json:"quantityReceived"`
	QuantityInvoiced decimal.Decimal `json:"quantityInvoiced"`
}

// Invoice is the vendor's bill. (tenant_id, vendor_id, invoice_number) is
// unique. POReference is free text copied from the document and may be
// absent or noisy; the matching engine treats it as a hint, not a key.
type Invoice struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         uuid.UUID       `json:"tenantId"`
	VendorID         uuid.UUID       `json:"vendorId"`
	InvoiceNumber    string          `json:"invoiceNumber"`
	POReference      string          `json:"poReference,omitempty"`
	Currency         string          `json:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxAmount        decimal.Decimal `json:"taxAmount"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	InvoiceDate      time.Time       `json:"invoiceDate"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
	ReceivedDate     *time.Time      `json:"receivedDate,omitempty"`
	Status           string          `json:"status"`
	ProcessingStatus string          `json:"processingStatus,omitempty"`
	OCRConfidence    *float64        `json:"ocrConfidence,omitempty"`
	ExtractedData    map[string]any  `json:"extractedData,omitempty"`
	RawText          string          `json:"rawText,omitempty"`
	FileName         string          `json:"fileName,omitempty"`
	FilePath         string          `json:"filePath,omitempty"`
	FileHash         string          `json:"fileHash,omitempty"`
	FileSize         int64           `json:"fileSize,omitempty"`
	MimeType         string          `json:"mimeType,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	CreatedBy        *uuid.UUID      `json:"createdBy,omitempty"`
	UpdatedBy        *uuid.UUID      `json:"updatedBy,omitempty"`
}

// InvoiceLine is a line item on an invoice.
type InvoiceLine struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenantId"`
	InvoiceID   uuid.UUID       `json:"invoiceId"`
	LineNumber  int             `json:"lineNumber"`
	ItemCode    string          `json:"itemCode,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// Receipt line condition.
const (
	ConditionGood     = "good"
	ConditionDamaged  = "damaged"
	ConditionRejected = "rejected"
)

// Receipt is a goods-receipt header against a PO. (tenant_id,
// receipt_number) is unique.
type Receipt struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenantId"`
	PurchaseOrderID    uuid.UUID       `json:"purchaseOrderId"`
	ReceiptNumber      string          `json:"receiptNumber"`
	DeliveryNote       string          `json:"deliveryNote,omitempty"`
	ReceiptDate        time.Time       `json:"receiptDate"`
	ReceivedBy         string          `json:"receivedBy,omitempty"`
	TotalQuantity      decimal.Decimal `json:"totalQuantity"`
	TotalValue         decimal.Decimal `json:"totalValue"`
	Status             string          `json:"status"`
	Notes              string          `json:"notes,omitempty"`
	DeliveryConditions string          `json:"deliveryConditions,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// ReceiptLine records quantities received against a specific PO line.
type ReceiptLine struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         uuid.UUID       `json:"tenantId"`
	ReceiptID        uuid.UUID       `json:"receiptId"`
	POLineID         uuid.UUID       `json:"poLineId"`
	LineNumber       int             `json:"lineNumber"`
	QuantityReceived decimal.Decimal `json:"quantityReceived"`
	UnitCost         decimal.Decimal `json:"unitCost"`
	LineValue        decimal.Decimal `json:"lineValue"`
	Condition        string          `json:"condition"` // good / damaged / rejected
}
