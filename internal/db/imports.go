package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// CreateImportBatch registers a new CSV ingestion job.
func (s *PostgresStore) CreateImportBatch(ctx context.Context, b *models.ImportBatch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = models.ImportStatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_batches (id, tenant_id, filename, original_filename,
			file_size, file_hash, mime_type, storage_path, status,
			csv_delimiter, csv_encoding, has_header, column_mapping, preview_data, total_records)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		b.ID, b.TenantID, b.Filename, b.OriginalFilename,
		b.FileSize, b.FileHash, b.MimeType, b.StoragePath, b.Status,
		b.CSVDelimiter, b.CSVEncoding, b.HasHeader, b.ColumnMapping, b.PreviewData, b.TotalRecords)
	return err
}

const importBatchColumns = `
	id, tenant_id, filename, original_filename, file_size, file_hash, mime_type,
	storage_path, status, processing_stage, progress_percentage,
	total_records, processed_records, successful_records, error_records, duplicate_records,
	csv_delimiter, csv_encoding, has_header, column_mapping, preview_data,
	processing_summary, error_summary, created_at, updated_at, started_at, completed_at`

func scanImportBatch(row pgx.Row) (*models.ImportBatch, error) {
	var b models.ImportBatch
	err := row.Scan(&b.ID, &b.TenantID, &b.Filename, &b.OriginalFilename,
		&b.FileSize, &b.FileHash, &b.MimeType, &b.StoragePath, &b.Status,
		&b.ProcessingStage, &b.ProgressPercentage,
		&b.TotalRecords, &b.ProcessedRecords, &b.SuccessfulRecords, &b.ErrorRecords, &b.DuplicateRecords,
		&b.CSVDelimiter, &b.CSVEncoding, &b.HasHeader, &b.ColumnMapping, &b.PreviewData,
		&b.ProcessingSummary, &b.ErrorSummary, &b.CreatedAt, &b.UpdatedAt, &b.StartedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetImportBatch loads one batch.
func (s *PostgresStore) GetImportBatch(ctx context.Context, tenantID, id uuid.UUID) (*models.ImportBatch, error) {
	b, err := scanImportBatch(s.pool.QueryRow(ctx, `
		SELECT `+importBatchColumns+`
		FROM import_batches WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

// UpdateImportDetection records the detection outcome on the batch row:
// dialect, header flag, preview and row count.
func (s *PostgresStore) UpdateImportDetection(ctx context.Context, b *models.ImportBatch) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET
			csv_delimiter = $3, csv_encoding = $4, has_header = $5,
			preview_data = $6, total_records = $7, status = $8, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		b.TenantID, b.ID, b.CSVDelimiter, b.CSVEncoding, b.HasHeader,
		b.PreviewData, b.TotalRecords, b.Status)
	return err
}

// SetImportMapping stores the confirmed column mapping ahead of a run.
func (s *PostgresStore) SetImportMapping(ctx context.Context, tenantID, id uuid.UUID, mapping map[string]string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET column_mapping = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, mapping)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkImportStarted transitions a batch into processing and stamps the
// start time and record total.
func (s *PostgresStore) MarkImportStarted(ctx context.Context, tenantID, id uuid.UUID, totalRecords int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET
			status = 'processing', started_at = NOW(), updated_at = NOW(), total_records = $3
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'validating')`,
		tenantID, id, totalRecords)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateImportProgress writes the batch counters and progress
// percentage mid-run. The caller rates-limits how often it is called.
func (s *PostgresStore) UpdateImportProgress(ctx context.Context, b *models.ImportBatch) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET
			progress_percentage = $3, processed_records = $4,
			successful_records = $5, error_records = $6, duplicate_records = $7,
			processing_stage = $8, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		b.TenantID, b.ID, b.ProgressPercentage, b.ProcessedRecords,
		b.SuccessfulRecords, b.ErrorRecords, b.DuplicateRecords, b.ProcessingStage)
	return err
}

// FinalizeImport records the terminal state of a batch.
func (s *PostgresStore) FinalizeImport(ctx context.Context, b *models.ImportBatch) error {
	now := time.Now().UTC()
	b.CompletedAt = &now
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET
			status = $3, progress_percentage = $4, processed_records = $5,
			successful_records = $6, error_records = $7, duplicate_records = $8,
			processing_summary = $9, error_summary = $10,
			completed_at = $11, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		b.TenantID, b.ID, b.Status, b.ProgressPercentage, b.ProcessedRecords,
		b.SuccessfulRecords, b.ErrorRecords, b.DuplicateRecords,
		b.ProcessingSummary, b.ErrorSummary, b.CompletedAt)
	return err
}

// InsertImportError records a per-row diagnostic. Runs outside the
// batch transaction so diagnostics survive row rollbacks.
func (s *PostgresStore) InsertImportError(ctx context.Context, e *models.ImportError) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_errors (id, tenant_id, import_batch_id, row_number,
			column_name, column_index, error_type, error_code, error_message,
			severity, raw_value, expected_format, suggested_fix, raw_row_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.TenantID, e.ImportBatchID, e.RowNumber,
		e.ColumnName, e.ColumnIndex, e.ErrorType, e.ErrorCode, e.ErrorMessage,
		e.Severity, e.RawValue, e.ExpectedFormat, e.SuggestedFix, e.RawRowData)
	return err
}

// ListImportErrors returns a batch's diagnostics in row order.
func (s *PostgresStore) ListImportErrors(ctx context.Context, tenantID, batchID uuid.UUID, limit int) ([]models.ImportError, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, import_batch_id, row_number, column_name, column_index,
			error_type, error_code, error_message, severity, raw_value,
			expected_format, suggested_fix, raw_row_data, resolved, created_at
		FROM import_errors
		WHERE tenant_id = $1 AND import_batch_id = $2
		ORDER BY row_number
		LIMIT $3`, tenantID, batchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	errs := make([]models.ImportError, 0)
	for rows.Next() {
		var e models.ImportError
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ImportBatchID, &e.RowNumber,
			&e.ColumnName, &e.ColumnIndex, &e.ErrorType, &e.ErrorCode, &e.ErrorMessage,
			&e.Severity, &e.RawValue, &e.ExpectedFormat, &e.SuggestedFix,
			&e.RawRowData, &e.Resolved, &e.CreatedAt); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
