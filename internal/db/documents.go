package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// InvoiceExists reports whether the tenant already stores an invoice
// with this number for the vendor.
func (s *PostgresStore) InvoiceExists(ctx context.Context, tenantID, vendorID uuid.UUID, number string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE tenant_id = $1 AND vendor_id = $2 AND invoice_number = $3)`,
		tenantID, vendorID, number).Scan(&exists)
	return exists, err
}

// InsertInvoiceTx persists an invoice inside the caller's transaction.
func InsertInvoiceTx(ctx context.Context, tx pgx.Tx, inv *models.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = models.StatusPending
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO invoices (id, tenant_id, vendor_id, invoice_number, po_reference,
			currency, subtotal, tax_amount, total_amount, invoice_date, due_date,
			received_date, status, ocr_confidence, extracted_data, file_name, file_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		inv.ID, inv.TenantID, inv.VendorID, inv.InvoiceNumber, inv.POReference,
		inv.Currency, inv.Subtotal, inv.TaxAmount, inv.TotalAmount, inv.InvoiceDate,
		inv.DueDate, inv.ReceivedDate, inv.Status, inv.OCRConfidence,
		inv.ExtractedData, inv.FileName, inv.FileHash)
	return err
}

// InsertInvoiceLineTx persists an invoice line inside the caller's
// transaction.
func InsertInvoiceLineTx(ctx context.Context, tx pgx.Tx, line *models.InvoiceLine) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO invoice_lines (id, tenant_id, invoice_id, line_number,
			item_code, description, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		line.ID, line.TenantID, line.InvoiceID, line.LineNumber,
		line.ItemCode, line.Description, line.Quantity, line.UnitPrice, line.LineTotal)
	return err
}

// InvoiceExistsTx is InvoiceExists visible to the import pipeline's
// outer transaction.
func InvoiceExistsTx(ctx context.Context, tx pgx.Tx, tenantID, vendorID uuid.UUID, number string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE tenant_id = $1 AND vendor_id = $2 AND invoice_number = $3)`,
		tenantID, vendorID, number).Scan(&exists)
	return exists, err
}

const invoiceColumns = `
	id, tenant_id, vendor_id, invoice_number, po_reference, currency,
	subtotal, tax_amount, total_amount, invoice_date, due_date, received_date,
	status, ocr_confidence, created_at, updated_at`

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.VendorID, &inv.InvoiceNumber,
		&inv.POReference, &inv.Currency, &inv.Subtotal, &inv.TaxAmount,
		&inv.TotalAmount, &inv.InvoiceDate, &inv.DueDate, &inv.ReceivedDate,
		&inv.Status, &inv.OCRConfidence, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice loads one invoice.
func (s *PostgresStore) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*models.Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return inv, err
}

// ListInvoicesByStatus returns the tenant's invoices in a lifecycle
// state, oldest first so batch runs drain the backlog in order.
func (s *PostgresStore) ListInvoicesByStatus(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]models.Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3`, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]models.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// UpdateInvoiceStatus moves an invoice through its lifecycle.
func (s *PostgresStore) UpdateInvoiceStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Purchase orders ───

const poColumns = `
	id, tenant_id, vendor_id, po_number, external_po_number, currency,
	subtotal, tax_amount, total_amount, po_date, expected_delivery_date,
	status, created_at, updated_at`

func scanPO(row pgx.Row) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := row.Scan(&po.ID, &po.TenantID, &po.VendorID, &po.PONumber,
		&po.ExternalPONumber, &po.Currency, &po.Subtotal, &po.TaxAmount,
		&po.TotalAmount, &po.PODate, &po.ExpectedDeliveryDate, &po.Status,
		&po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// GetPurchaseOrder loads one PO.
func (s *PostgresStore) GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (*models.PurchaseOrder, error) {
	po, err := scanPO(s.pool.QueryRow(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return po, err
}

// FindPOByNumber resolves an exact PO number for the tenant. A miss
// returns (nil, nil).
func (s *PostgresStore) FindPOByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*models.PurchaseOrder, error) {
	po, err := scanPO(s.pool.QueryRow(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE tenant_id = $1 AND (po_number = $2 OR external_po_number = $2)
		LIMIT 1`, tenantID, number))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return po, err
}

// ListCandidatePOs returns non-archived POs for a vendor whose po_date
// falls in [from, to], the candidate pool for two-way matching.
// Mixed-currency pairs are excluded up front.
func (s *PostgresStore) ListCandidatePOs(ctx context.Context, tenantID, vendorID uuid.UUID, currency string, from, to time.Time) ([]models.PurchaseOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE tenant_id = $1 AND vendor_id = $2 AND currency = $3
			AND status <> 'archived'
			AND po_date BETWEEN $4 AND $5
		ORDER BY po_date DESC`,
		tenantID, vendorID, currency, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pos := make([]models.PurchaseOrder, 0)
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		pos = append(pos, *po)
	}
	return pos, rows.Err()
}

// ListPOsByAmount returns open POs for a vendor whose total falls inside
// [lo, hi], ordered by closeness to target. Used by three-way PO
// discovery when no exact reference resolves.
func (s *PostgresStore) ListPOsByAmount(ctx context.Context, tenantID, vendorID uuid.UUID, currency string, target, lo, hi decimal.Decimal) ([]models.PurchaseOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE tenant_id = $1 AND vendor_id = $2 AND currency = $3
			AND status IN ('pending', 'unmatched')
			AND total_amount BETWEEN $5 AND $6
		ORDER BY ABS(total_amount - $4)`,
		tenantID, vendorID, currency, target, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pos := make([]models.PurchaseOrder, 0)
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		pos = append(pos, *po)
	}
	return pos, rows.Err()
}

// GetPOLines returns a PO's line items ordered by line number.
func (s *PostgresStore) GetPOLines(ctx context.Context, tenantID, poID uuid.UUID) ([]models.PurchaseOrderLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, purchase_order_id, line_number, item_code, description,
			quantity, unit_price, line_total, unit_of_measure, quantity_received, quantity_invoiced
		FROM purchase_order_lines
		WHERE tenant_id = $1 AND purchase_order_id = $2
		ORDER BY line_number`, tenantID, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]models.PurchaseOrderLine, 0)
	for rows.Next() {
		var l models.PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.TenantID, &l.PurchaseOrderID, &l.LineNumber,
			&l.ItemCode, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineTotal,
			&l.UnitOfMeasure, &l.QuantityReceived, &l.QuantityInvoiced); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetInvoiceLines returns an invoice's line items ordered by line number.
func (s *PostgresStore) GetInvoiceLines(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]models.InvoiceLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, invoice_id, line_number, item_code, description,
			quantity, unit_price, line_total
		FROM invoice_lines
		WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY line_number`, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]models.InvoiceLine, 0)
	for rows.Next() {
		var l models.InvoiceLine
		if err := rows.Scan(&l.ID, &l.TenantID, &l.InvoiceID, &l.LineNumber,
			&l.ItemCode, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListReceiptsForPO returns receipts posted against a PO, oldest first.
func (s *PostgresStore) ListReceiptsForPO(ctx context.Context, tenantID, poID uuid.UUID) ([]models.Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, purchase_order_id, receipt_number, delivery_note,
			receipt_date, received_by, total_quantity, total_value, status, created_at
		FROM receipts
		WHERE tenant_id = $1 AND purchase_order_id = $2
		ORDER BY receipt_date`, tenantID, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]models.Receipt, 0)
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.ID, &r.TenantID, &r.PurchaseOrderID, &r.ReceiptNumber,
			&r.DeliveryNote, &r.ReceiptDate, &r.ReceivedBy, &r.TotalQuantity,
			&r.TotalValue, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// GetReceiptLines returns a receipt's line items ordered by line number.
func (s *PostgresStore) GetReceiptLines(ctx context.Context, tenantID, receiptID uuid.UUID) ([]models.ReceiptLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, receipt_id, po_line_id, line_number,
			quantity_received, unit_cost, line_value, condition
		FROM receipt_lines
		WHERE tenant_id = $1 AND receipt_id = $2
		ORDER BY line_number`, tenantID, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]models.ReceiptLine, 0)
	for rows.Next() {
		var l models.ReceiptLine
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ReceiptID, &l.POLineID, &l.LineNumber,
			&l.QuantityReceived, &l.UnitCost, &l.LineValue, &l.Condition); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// MarkPOMatched flips a PO to matched and records the invoiced quantity
// roll-up on its lines.
func (s *PostgresStore) MarkPOMatched(ctx context.Context, tenantID, poID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE purchase_orders SET status = 'matched', updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, poID)
	return err
}
