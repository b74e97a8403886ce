package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/internal/normalize"
	"github.com/ledgerline/recon-engine/pkg/models"
)

const vendorColumns = `
	id, tenant_id, vendor_code, name, legal_name, tax_id,
	default_currency, payment_terms, active, created_at, updated_at`

func scanVendor(row pgx.Row) (*models.Vendor, error) {
	var v models.Vendor
	err := row.Scan(&v.ID, &v.TenantID, &v.VendorCode, &v.Name, &v.LegalName,
		&v.TaxID, &v.DefaultCurrency, &v.PaymentTerms, &v.Active,
		&v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FindVendorByName resolves a raw vendor name against the master data:
// first the normalized canonical name, then approved aliases. A miss
// returns (nil, nil).
func (s *PostgresStore) FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	normalized := normalize.VendorName(name)

	v, err := scanVendor(s.pool.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors
		WHERE tenant_id = $1 AND active AND UPPER(name) = $2
		LIMIT 1`, tenantID, normalized))
	if err != nil {
		return nil, fmt.Errorf("vendor by name: %w", err)
	}
	if v != nil {
		return v, nil
	}

	v, err = scanVendor(s.pool.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors v
		JOIN vendor_aliases a ON a.vendor_id = v.id AND a.tenant_id = v.tenant_id
		WHERE v.tenant_id = $1 AND v.active AND a.approved AND UPPER(a.alias) = $2
		ORDER BY a.confidence DESC
		LIMIT 1`, tenantID, normalized))
	if err != nil {
		return nil, fmt.Errorf("vendor by alias: %w", err)
	}
	return v, nil
}

// GetVendor loads a vendor by id.
func (s *PostgresStore) GetVendor(ctx context.Context, tenantID, id uuid.UUID) (*models.Vendor, error) {
	v, err := scanVendor(s.pool.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// ListActiveVendors returns all active vendors for a tenant, used to
// build the fuzzy-matching corpus.
func (s *PostgresStore) ListActiveVendors(ctx context.Context, tenantID uuid.UUID) ([]models.Vendor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors WHERE tenant_id = $1 AND active
		ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vendors := make([]models.Vendor, 0)
	for rows.Next() {
		var v models.Vendor
		if err := rows.Scan(&v.ID, &v.TenantID, &v.VendorCode, &v.Name, &v.LegalName,
			&v.TaxID, &v.DefaultCurrency, &v.PaymentTerms, &v.Active,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// ListApprovedAliases returns approved alias -> vendor id pairs for a
// tenant, merged into the fuzzy corpus alongside canonical names.
func (s *PostgresStore) ListApprovedAliases(ctx context.Context, tenantID uuid.UUID) ([]models.VendorAlias, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, vendor_id, alias, similarity, approved, source, confidence, created_at
		FROM vendor_aliases
		WHERE tenant_id = $1 AND approved`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make([]models.VendorAlias, 0)
	for rows.Next() {
		var a models.VendorAlias
		if err := rows.Scan(&a.ID, &a.TenantID, &a.VendorID, &a.Alias, &a.Similarity,
			&a.Approved, &a.Source, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// UpsertVendorAlias records a learned or manual name variation. Repeated
// sightings of the same alias refresh its confidence.
func (s *PostgresStore) UpsertVendorAlias(ctx context.Context, a *models.VendorAlias) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vendor_aliases (id, tenant_id, vendor_id, alias, similarity, approved, source, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, vendor_id, alias) DO UPDATE SET
			similarity = GREATEST(vendor_aliases.similarity, EXCLUDED.similarity),
			confidence = GREATEST(vendor_aliases.confidence, EXCLUDED.confidence)`,
		a.ID, a.TenantID, a.VendorID, a.Alias, a.Similarity, a.Approved, a.Source, a.Confidence)
	return err
}

// VendorCodeExistsTx reports whether a vendor code is already taken,
// inside the caller's transaction so code generation stays race-free
// within an import.
func VendorCodeExistsTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, code string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM vendors WHERE tenant_id = $1 AND vendor_code = $2)`,
		tenantID, code).Scan(&exists)
	return exists, err
}

// InsertVendorTx creates a vendor inside the caller's transaction. The
// import pipeline uses this when a row references an unknown vendor.
func InsertVendorTx(ctx context.Context, tx pgx.Tx, v *models.Vendor) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO vendors (id, tenant_id, vendor_code, name, legal_name, tax_id,
			default_currency, payment_terms, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.TenantID, v.VendorCode, v.Name, v.LegalName, v.TaxID,
		v.DefaultCurrency, v.PaymentTerms, v.Active, v.CreatedBy)
	return err
}

// FindVendorByNameTx is FindVendorByName visible to the import
// pipeline's outer transaction, so rows created earlier in the same
// batch are found by later rows.
func FindVendorByNameTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	normalized := normalize.VendorName(name)
	v, err := scanVendor(tx.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors
		WHERE tenant_id = $1 AND active AND UPPER(name) = $2
		LIMIT 1`, tenantID, normalized))
	if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	return scanVendor(tx.QueryRow(ctx, `
		SELECT `+vendorColumns+`
		FROM vendors v
		JOIN vendor_aliases a ON a.vendor_id = v.id AND a.tenant_id = v.tenant_id
		WHERE v.tenant_id = $1 AND v.active AND a.approved AND UPPER(a.alias) = $2
		ORDER BY a.confidence DESC
		LIMIT 1`, tenantID, normalized))
}
