// Package ingest runs the CSV import pipeline: file detection, chunk
// reassembly, row validation, transactional persistence with per-row
// savepoints, progress reporting and cooperative cancellation.
package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// ImportTx is the per-batch transaction the pipeline writes through.
// Savepoint runs fn inside a nested transaction: fn returning an error
// rolls that row back while the outer batch transaction stays open.
type ImportTx interface {
	FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error)
	InvoiceExists(ctx context.Context, tenantID, vendorID uuid.UUID, invoiceNumber string) (bool, error)
	VendorCodeExists(ctx context.Context, tenantID uuid.UUID, code string) (bool, error)
	InsertVendor(ctx context.Context, v *models.Vendor) error
	InsertInvoice(ctx context.Context, inv *models.Invoice) error
	InsertInvoiceLine(ctx context.Context, line *models.InvoiceLine) error

	Savepoint(ctx context.Context, fn func(ImportTx) error) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens batch transactions and manages batch metadata. Implemented
// by the Postgres store, faked in tests.
type Store interface {
	BeginImport(ctx context.Context, tenantID uuid.UUID) (ImportTx, error)

	GetImportBatch(ctx context.Context, tenantID, id uuid.UUID) (*models.ImportBatch, error)
	MarkImportStarted(ctx context.Context, tenantID, id uuid.UUID, totalRecords int) error
	UpdateImportProgress(ctx context.Context, b *models.ImportBatch) error
	FinalizeImport(ctx context.Context, b *models.ImportBatch) error
	InsertImportError(ctx context.Context, e *models.ImportError) error
}
