package ingest

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/internal/db"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// PgStore adapts the Postgres store to the pipeline's Store interface.
// Batch metadata writes go straight through the pool; row persistence
// runs inside a tenant transaction with pgx nested transactions as the
// savepoint mechanism.
type PgStore struct {
	*db.PostgresStore
}

func NewPgStore(store *db.PostgresStore) *PgStore {
	return &PgStore{PostgresStore: store}
}

// BeginImport opens the batch transaction with the tenant GUC set, so
// row-level security applies to every statement in the batch.
func (s *PgStore) BeginImport(ctx context.Context, tenantID uuid.UUID) (ImportTx, error) {
	tx, err := s.BeginTenantTx(ctx, tenantID.String())
	if err != nil {
		return nil, err
	}
	return &pgImportTx{tx: tx}, nil
}

type pgImportTx struct {
	tx pgx.Tx
}

func (t *pgImportTx) FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	return db.FindVendorByNameTx(ctx, t.tx, tenantID, name)
}

func (t *pgImportTx) InvoiceExists(ctx context.Context, tenantID, vendorID uuid.UUID, invoiceNumber string) (bool, error) {
	return db.InvoiceExistsTx(ctx, t.tx, tenantID, vendorID, invoiceNumber)
}

func (t *pgImportTx) VendorCodeExists(ctx context.Context, tenantID uuid.UUID, code string) (bool, error) {
	return db.VendorCodeExistsTx(ctx, t.tx, tenantID, code)
}

func (t *pgImportTx) InsertVendor(ctx context.Context, v *models.Vendor) error {
	return db.InsertVendorTx(ctx, t.tx, v)
}

func (t *pgImportTx) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	return db.InsertInvoiceTx(ctx, t.tx, inv)
}

func (t *pgImportTx) InsertInvoiceLine(ctx context.Context, line *models.InvoiceLine) error {
	return db.InsertInvoiceLineTx(ctx, t.tx, line)
}

// Savepoint nests a transaction (pgx issues SAVEPOINT/RELEASE under the
// hood) so a failing row rolls back alone.
func (t *pgImportTx) Savepoint(ctx context.Context, fn func(ImportTx) error) error {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	inner := &pgImportTx{tx: nested}
	if err := fn(inner); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}

func (t *pgImportTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgImportTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
