package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/progress"
	"github.com/ledgerline/recon-engine/internal/validation"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// ErrCancelled is returned when a run stops at a cancellation checkpoint.
// Rows processed before the checkpoint are rolled back with the batch
// transaction.
var ErrCancelled = errors.New("import cancelled")

// checkpointEvery is the row interval between progress writes and
// cancellation polls.
const checkpointEvery = 50

// requiredTargets are the canonical fields a column mapping must cover.
var requiredTargets = []string{
	validation.FieldInvoiceNumber,
	validation.FieldVendor,
	validation.FieldAmount,
	validation.FieldInvoiceDate,
}

// Pipeline drives one import batch end to end. All persisted rows share
// a single tenant transaction; each row writes inside its own savepoint
// so a bad row never poisons its neighbors.
type Pipeline struct {
	store    Store
	registry *progress.Registry
	log      *zap.Logger
}

func NewPipeline(store Store, registry *progress.Registry, log *zap.Logger) *Pipeline {
	return &Pipeline{store: store, registry: registry, log: log}
}

// txLookup exposes the open batch transaction to the validation rules,
// so vendors and invoices created earlier in the same batch are visible
// to later rows.
type txLookup struct {
	tx ImportTx
}

func (l txLookup) FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	return l.tx.FindVendorByName(ctx, tenantID, name)
}

func (l txLookup) InvoiceExists(ctx context.Context, tenantID, vendorID uuid.UUID, invoiceNumber string) (bool, error) {
	return l.tx.InvoiceExists(ctx, tenantID, vendorID, invoiceNumber)
}

// Run processes the batch's records through validation and persistence.
// records are the raw CSV rows including the header when the batch has
// one; the batch's ColumnMapping (CSV column -> canonical field) decides
// what each cell means.
func (p *Pipeline) Run(ctx context.Context, batch *models.ImportBatch, meta *Metadata, records [][]string) error {
	if err := validateMapping(batch.ColumnMapping); err != nil {
		return p.fail(ctx, batch, err)
	}

	dataRows := records
	rowOffset := 1 // 1-based row number of the first data row
	if batch.HasHeader && len(records) > 0 {
		dataRows = records[1:]
		rowOffset = 2
	}
	total := len(dataRows)
	if total == 0 {
		return p.fail(ctx, batch, errors.New("file contains no data rows"))
	}

	if err := p.store.MarkImportStarted(ctx, batch.TenantID, batch.ID, total); err != nil {
		return err
	}
	batch.Status = models.ImportStatusProcessing
	batch.TotalRecords = total
	p.registry.PublishStatus(ctx, batch.ID, batch.TenantID, models.ImportStatusProcessing,
		map[string]any{"total_records": total})

	colIndex := columnIndex(meta, batch, records)

	tx, err := p.store.BeginImport(ctx, batch.TenantID)
	if err != nil {
		return p.fail(ctx, batch, err)
	}
	defer tx.Rollback(ctx)

	engine := validation.NewEngine(batch.TenantID, txLookup{tx})

	// Diagnostics accumulate here and are written after the transaction
	// resolves, so they survive a batch rollback only when the batch
	// itself survives.
	var diagnostics []models.ImportError

	for i, cells := range dataRows {
		rowNum := rowOffset + i

		row := &validation.Row{Number: rowNum, Raw: mapRow(cells, colIndex, batch.ColumnMapping)}
		findings := engine.Validate(ctx, row)

		diagnostics = append(diagnostics, toImportErrors(batch, rowNum, cells, findings)...)

		if validation.HasBlockingError(findings) {
			if hasDuplicate(findings) {
				batch.DuplicateRecords++
			} else {
				batch.ErrorRecords++
			}
		} else {
			if err := tx.Savepoint(ctx, func(inner ImportTx) error {
				return p.persistRow(ctx, inner, batch, row)
			}); err != nil {
				p.log.Warn("row persistence failed",
					zap.String("batchId", batch.ID.String()),
					zap.Int("row", rowNum),
					zap.Error(err))
				diagnostics = append(diagnostics, models.ImportError{
					TenantID:      batch.TenantID,
					ImportBatchID: batch.ID,
					RowNumber:     rowNum,
					ErrorType:     models.ImportErrorSystem,
					ErrorCode:     "PERSISTENCE_FAILED",
					ErrorMessage:  err.Error(),
					Severity:      models.SeverityError,
					RawRowData:    cells,
				})
				batch.ErrorRecords++
			} else {
				batch.SuccessfulRecords++
			}
		}
		batch.ProcessedRecords++

		if batch.ProcessedRecords%checkpointEvery == 0 || batch.ProcessedRecords == total {
			if p.registry.IsCancelled(ctx, batch.ID) {
				tx.Rollback(ctx)
				return p.cancel(ctx, batch, diagnostics)
			}
			p.checkpoint(ctx, batch)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return p.fail(ctx, batch, fmt.Errorf("commit batch: %w", err))
	}

	p.writeDiagnostics(ctx, diagnostics)
	return p.finalize(ctx, batch)
}

// persistRow resolves or creates the vendor and inserts the invoice,
// all inside the row's savepoint.
func (p *Pipeline) persistRow(ctx context.Context, tx ImportTx, batch *models.ImportBatch, row *validation.Row) error {
	var vendorID uuid.UUID
	if row.MatchedVendorID != nil {
		vendorID = *row.MatchedVendorID
	} else {
		// Re-check inside the savepoint: an earlier row in this batch may
		// have created the vendor after validation ran.
		vendor, err := tx.FindVendorByName(ctx, batch.TenantID, row.VendorName)
		if err != nil {
			return err
		}
		if vendor == nil {
			vendor, err = p.createVendor(ctx, tx, batch.TenantID, row.VendorName)
			if err != nil {
				return err
			}
		}
		vendorID = vendor.ID
	}

	currency := strings.ToUpper(strings.TrimSpace(row.Raw[validation.FieldCurrency]))
	if !models.ValidCurrency(currency) {
		currency = models.CurrencyUSD
	}

	inv := &models.Invoice{
		TenantID:      batch.TenantID,
		VendorID:      vendorID,
		InvoiceNumber: row.InvoiceNumber,
		POReference:   strings.TrimSpace(row.Raw[validation.FieldPOReference]),
		Currency:      currency,
		TotalAmount:   *row.Amount,
		InvoiceDate:   *row.InvoiceDate,
		DueDate:       row.DueDate,
		Status:        models.StatusPending,
		ExtractedData: map[string]any{
			"vendor_name":     row.Raw[validation.FieldVendor],
			"import_batch_id": batch.ID.String(),
		},
	}
	if row.Subtotal != nil {
		inv.Subtotal = *row.Subtotal
	}
	if row.TaxAmount != nil {
		inv.TaxAmount = *row.TaxAmount
	}
	if err := tx.InsertInvoice(ctx, inv); err != nil {
		return err
	}

	if desc := strings.TrimSpace(row.Raw[validation.FieldDescription]); desc != "" {
		line := &models.InvoiceLine{
			TenantID:    batch.TenantID,
			InvoiceID:   inv.ID,
			LineNumber:  1,
			Description: desc,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   inv.TotalAmount,
			LineTotal:   inv.TotalAmount,
		}
		if err := tx.InsertInvoiceLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// createVendor auto-creates a vendor master record with sane defaults
// for a name first seen in an import.
func (p *Pipeline) createVendor(ctx context.Context, tx ImportTx, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	code, err := GenerateVendorCode(ctx, name, func(ctx context.Context, c string) (bool, error) {
		return tx.VendorCodeExists(ctx, tenantID, c)
	})
	if err != nil {
		return nil, err
	}
	vendor := &models.Vendor{
		TenantID:        tenantID,
		VendorCode:      code,
		Name:            name,
		DefaultCurrency: models.CurrencyUSD,
		PaymentTerms:    30,
		Active:          true,
	}
	if err := tx.InsertVendor(ctx, vendor); err != nil {
		return nil, err
	}
	p.log.Info("vendor auto-created",
		zap.String("tenantId", tenantID.String()),
		zap.String("vendorCode", code),
		zap.String("name", name))
	return vendor, nil
}

// checkpoint persists counters and fans progress out. Progress maps the
// processing stage onto 10..95; finalize claims the rest.
func (p *Pipeline) checkpoint(ctx context.Context, batch *models.ImportBatch) {
	pct := 95
	if batch.TotalRecords > 0 {
		pct = 10 + batch.ProcessedRecords*80/batch.TotalRecords
		if pct > 95 {
			pct = 95
		}
	}
	batch.ProgressPercentage = pct
	batch.ProcessingStage = "persisting_rows"

	if err := p.store.UpdateImportProgress(ctx, batch); err != nil {
		p.log.Warn("progress write failed", zap.String("batchId", batch.ID.String()), zap.Error(err))
	}
	p.registry.PublishProgress(ctx, batch.ID, map[string]any{
		"progress":           pct,
		"processed_records":  batch.ProcessedRecords,
		"total_records":      batch.TotalRecords,
		"successful_records": batch.SuccessfulRecords,
		"error_records":      batch.ErrorRecords,
		"duplicate_records":  batch.DuplicateRecords,
	})
}

// finalize commits the terminal status: completed when anything landed,
// failed when every row was rejected.
func (p *Pipeline) finalize(ctx context.Context, batch *models.ImportBatch) error {
	if batch.SuccessfulRecords > 0 {
		batch.Status = models.ImportStatusCompleted
	} else {
		batch.Status = models.ImportStatusFailed
		batch.ErrorSummary = "no rows imported"
	}
	batch.ProgressPercentage = 100
	batch.ProcessingSummary = summary(batch)

	if err := p.store.FinalizeImport(ctx, batch); err != nil {
		return err
	}
	p.registry.PublishStatus(ctx, batch.ID, batch.TenantID, batch.Status, batch.ProcessingSummary)
	return nil
}

// cancel records the cancelled terminal state after the transaction has
// been rolled back. Diagnostics gathered so far are kept so the user can
// see what the aborted run found.
func (p *Pipeline) cancel(ctx context.Context, batch *models.ImportBatch, diagnostics []models.ImportError) error {
	p.writeDiagnostics(ctx, diagnostics)

	// No rows survive the rollback.
	batch.SuccessfulRecords = 0
	batch.Status = models.ImportStatusCancelled
	batch.ProcessingSummary = summary(batch)
	if err := p.store.FinalizeImport(ctx, batch); err != nil {
		p.log.Error("finalize cancelled batch", zap.String("batchId", batch.ID.String()), zap.Error(err))
	}
	p.registry.ClearCancel(ctx, batch.ID)
	p.registry.PublishStatus(ctx, batch.ID, batch.TenantID, models.ImportStatusCancelled, nil)
	return ErrCancelled
}

func (p *Pipeline) fail(ctx context.Context, batch *models.ImportBatch, cause error) error {
	p.log.Error("import failed",
		zap.String("batchId", batch.ID.String()),
		zap.Error(cause))
	batch.Status = models.ImportStatusFailed
	batch.ErrorSummary = cause.Error()
	if err := p.store.FinalizeImport(ctx, batch); err != nil {
		p.log.Error("finalize failed batch", zap.String("batchId", batch.ID.String()), zap.Error(err))
	}
	p.registry.PublishError(ctx, batch.ID, batch.TenantID, cause.Error())
	p.registry.PublishStatus(ctx, batch.ID, batch.TenantID, models.ImportStatusFailed, nil)
	return cause
}

func (p *Pipeline) writeDiagnostics(ctx context.Context, diagnostics []models.ImportError) {
	for i := range diagnostics {
		if err := p.store.InsertImportError(ctx, &diagnostics[i]); err != nil {
			p.log.Warn("import error write failed", zap.Error(err))
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────

func validateMapping(mapping map[string]string) error {
	mapped := make(map[string]bool)
	for _, target := range mapping {
		mapped[target] = true
	}
	var missing []string
	for _, target := range requiredTargets {
		if !mapped[target] {
			missing = append(missing, target)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("column mapping missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// columnIndex resolves CSV column names to cell indexes, preferring the
// header row and falling back to the detection metadata for headerless
// files.
func columnIndex(meta *Metadata, batch *models.ImportBatch, records [][]string) map[string]int {
	index := make(map[string]int)
	if batch.HasHeader && len(records) > 0 {
		for i, name := range records[0] {
			index[strings.TrimSpace(name)] = i
		}
		return index
	}
	if meta != nil {
		for i, col := range meta.Columns {
			index[col.Name] = i
		}
	}
	return index
}

// mapRow projects raw cells onto canonical fields via the mapping.
func mapRow(cells []string, colIndex map[string]int, mapping map[string]string) map[string]string {
	raw := make(map[string]string, len(mapping))
	for column, target := range mapping {
		idx, ok := colIndex[column]
		if !ok || idx >= len(cells) {
			continue
		}
		raw[target] = cells[idx]
	}
	return raw
}

func hasDuplicate(findings []validation.Error) bool {
	for _, f := range findings {
		if f.ErrorType == models.ImportErrorDuplicate && f.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

func toImportErrors(batch *models.ImportBatch, rowNum int, cells []string, findings []validation.Error) []models.ImportError {
	out := make([]models.ImportError, 0, len(findings))
	for _, f := range findings {
		out = append(out, models.ImportError{
			TenantID:       batch.TenantID,
			ImportBatchID:  batch.ID,
			RowNumber:      rowNum,
			ColumnName:     f.Field,
			ErrorType:      f.ErrorType,
			ErrorCode:      f.Code,
			ErrorMessage:   f.Message,
			Severity:       f.Severity,
			RawValue:       f.RawValue,
			ExpectedFormat: f.ExpectedFormat,
			SuggestedFix:   f.SuggestedFix,
			RawRowData:     cells,
		})
	}
	return out
}

func summary(batch *models.ImportBatch) map[string]any {
	return map[string]any{
		"total_records":      batch.TotalRecords,
		"processed_records":  batch.ProcessedRecords,
		"successful_records": batch.SuccessfulRecords,
		"error_records":      batch.ErrorRecords,
		"duplicate_records":  batch.DuplicateRecords,
		"completed_at":       time.Now().UTC().Format(time.RFC3339),
	}
}
