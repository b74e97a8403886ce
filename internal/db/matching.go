package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// ActiveConfiguration loads the tenant's single active matching
// configuration. Exactly one is active; a tenant with none is
// misconfigured and gets ErrNotFound.
func (s *PostgresStore) ActiveConfiguration(ctx context.Context, tenantID uuid.UUID) (*models.MatchingConfiguration, error) {
	var c models.MatchingConfiguration
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, config_version, active,
			auto_approve_threshold, manual_review_threshold, rejection_threshold,
			features, weights, batch_size, max_concurrent_jobs,
			default_date_range_days, max_date_range_days, created_at
		FROM matching_configurations
		WHERE tenant_id = $1 AND active`, tenantID).Scan(
		&c.ID, &c.TenantID, &c.ConfigVersion, &c.Active,
		&c.AutoApproveThreshold, &c.ManualReviewThreshold, &c.RejectionThreshold,
		&c.Features, &c.Weights, &c.BatchSize, &c.MaxConcurrentJobs,
		&c.DefaultDateRangeDays, &c.MaxDateRangeDays, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no active matching configuration for tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfiguration inserts a new configuration version and, when it is
// marked active, atomically deactivates the previous active version.
func (s *PostgresStore) SaveConfiguration(ctx context.Context, c *models.MatchingConfiguration) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return s.WithTenantTx(ctx, c.TenantID.String(), func(tx pgx.Tx) error {
		if c.Active {
			if _, err := tx.Exec(ctx, `
				UPDATE matching_configurations SET active = FALSE
				WHERE tenant_id = $1 AND active`, c.TenantID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO matching_configurations (id, tenant_id, config_version, active,
				auto_approve_threshold, manual_review_threshold, rejection_threshold,
				features, weights, batch_size, max_concurrent_jobs,
				default_date_range_days, max_date_range_days)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ID, c.TenantID, c.ConfigVersion, c.Active,
			c.AutoApproveThreshold, c.ManualReviewThreshold, c.RejectionThreshold,
			c.Features, c.Weights, c.BatchSize, c.MaxConcurrentJobs,
			c.DefaultDateRangeDays, c.MaxDateRangeDays)
		return err
	})
}

// ListTolerances returns the tenant's active tolerance rules ordered by
// priority so arbitration can scan front to back.
func (s *PostgresStore) ListTolerances(ctx context.Context, tenantID uuid.UUID) ([]models.MatchingTolerance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, vendor_id, amount_threshold, tolerance_type,
			percentage_tolerance, absolute_tolerance, priority, active
		FROM matching_tolerances
		WHERE tenant_id = $1 AND active
		ORDER BY priority DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]models.MatchingTolerance, 0)
	for rows.Next() {
		var r models.MatchingTolerance
		if err := rows.Scan(&r.ID, &r.TenantID, &r.VendorID, &r.AmountThreshold,
			&r.ToleranceType, &r.PercentageTolerance, &r.AbsoluteTolerance,
			&r.Priority, &r.Active); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// InsertMatchResult persists a scored match decision.
func (s *PostgresStore) InsertMatchResult(ctx context.Context, m *models.MatchResult) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.MatchedAt.IsZero() {
		m.MatchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO match_results (id, tenant_id, invoice_id, purchase_order_id, receipt_id,
			match_type, confidence_score, match_status, criteria_met, tolerance_applied,
			auto_approved, requires_review, amount_variance, quantity_variance,
			matched_at, approved_at, matched_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		m.ID, m.TenantID, m.InvoiceID, m.PurchaseOrderID, m.ReceiptID,
		m.MatchType, m.ConfidenceScore, m.MatchStatus, m.CriteriaMet, m.ToleranceApplied,
		m.AutoApproved, m.RequiresReview, m.AmountVariance, m.QuantityVariance,
		m.MatchedAt, m.ApprovedAt, m.MatchedBy)
	return err
}

const matchColumns = `
	id, tenant_id, invoice_id, purchase_order_id, receipt_id, match_type,
	confidence_score, match_status, criteria_met, tolerance_applied,
	auto_approved, requires_review, amount_variance, quantity_variance,
	matched_at, reviewed_at, approved_at, approved_by, review_notes, matched_by`

func scanMatch(row pgx.Row) (*models.MatchResult, error) {
	var m models.MatchResult
	err := row.Scan(&m.ID, &m.TenantID, &m.InvoiceID, &m.PurchaseOrderID, &m.ReceiptID,
		&m.MatchType, &m.ConfidenceScore, &m.MatchStatus, &m.CriteriaMet, &m.ToleranceApplied,
		&m.AutoApproved, &m.RequiresReview, &m.AmountVariance, &m.QuantityVariance,
		&m.MatchedAt, &m.ReviewedAt, &m.ApprovedAt, &m.ApprovedBy, &m.ReviewNotes, &m.MatchedBy)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMatchResult loads one match result.
func (s *PostgresStore) GetMatchResult(ctx context.Context, tenantID, id uuid.UUID) (*models.MatchResult, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx, `
		SELECT `+matchColumns+`
		FROM match_results WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

// LatestMatchForInvoice returns the most recent non-rejected match for
// an invoice, the canonical answer to "what is this invoice matched
// to". A miss returns (nil, nil).
func (s *PostgresStore) LatestMatchForInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.MatchResult, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx, `
		SELECT `+matchColumns+`
		FROM match_results
		WHERE tenant_id = $1 AND invoice_id = $2 AND match_status <> 'rejected'
		ORDER BY matched_at DESC
		LIMIT 1`, tenantID, invoiceID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// UpdateMatchReview records a review decision on a match result.
func (s *PostgresStore) UpdateMatchReview(ctx context.Context, m *models.MatchResult) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE match_results SET
			match_status = $3, requires_review = $4, auto_approved = $5,
			reviewed_at = $6, approved_at = $7, approved_by = $8, review_notes = $9
		WHERE tenant_id = $1 AND id = $2`,
		m.TenantID, m.ID, m.MatchStatus, m.RequiresReview, m.AutoApproved,
		m.ReviewedAt, m.ApprovedAt, m.ApprovedBy, m.ReviewNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
