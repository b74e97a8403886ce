package models

import (
	"time"

	"github.com/google/uuid"
)

// Import batch statuses.
const (
	ImportStatusPending    = "pending"
	ImportStatusUploading  = "uploading"
	ImportStatusValidating = "validating"
	ImportStatusProcessing = "processing"
	ImportStatusCompleted  = "completed"
	ImportStatusFailed     = "failed"
	ImportStatusCancelled  = "cancelled"
)

// ImportBatch is a single CSV ingestion job with its own lifecycle and
// counters. Counters are monotonic and successful+error+duplicate never
// exceeds total.
type ImportBatch struct {
	ID                 uuid.UUID         `json:"id"`
	TenantID           uuid.UUID         `json:"tenantId"`
	Filename           string            `json:"filename"`
	OriginalFilename   string            `json:"originalFilename"`
	FileSize           int64             `json:"fileSize"`
	FileHash           string            `json:"fileHash"`
	MimeType           string            `json:"mimeType,omitempty"`
	StoragePath        string            `json:"storagePath"`
	Status             string            `json:"status"`
	ProcessingStage    string            `json:"processingStage,omitempty"`
	ProgressPercentage int               `json:"progressPercentage"`
	TotalRecords       int               `json:"totalRecords"`
	ProcessedRecords   int               `json:"processedRecords"`
	SuccessfulRecords  int               `json:"successfulRecords"`
	ErrorRecords       int               `json:"errorRecords"`
	DuplicateRecords   int               `json:"duplicateRecords"`
	CSVDelimiter       string            `json:"csvDelimiter,omitempty"`
	CSVEncoding        string            `json:"csvEncoding,omitempty"`
	HasHeader          bool              `json:"hasHeader"`
	ColumnMapping      map[string]string `json:"columnMapping,omitempty"` // CSV column -> canonical field
	PreviewData        [][]string        `json:"previewData,omitempty"`   // first N raw rows
	ProcessingSummary  map[string]any    `json:"processingSummary,omitempty"`
	ErrorSummary       string            `json:"errorSummary,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	StartedAt          *time.Time        `json:"startedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
}

// Import error types.
const (
	ImportErrorValidation   = "validation"
	ImportErrorParsing      = "parsing"
	ImportErrorBusinessRule = "business_rule"
	ImportErrorDuplicate    = "duplicate"
	ImportErrorSystem       = "system"
)

// Import error severities. A severity=error blocks persistence of the
// row; warnings accompany a persisted row.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ImportError is a per-row diagnostic attached to an import batch.
type ImportError struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenantId"`
	ImportBatchID   uuid.UUID  `json:"importBatchId"`
	RowNumber       int        `json:"rowNumber"`
	ColumnName      string     `json:"columnName,omitempty"`
	ColumnIndex     int        `json:"columnIndex"`
	ErrorType       string     `json:"errorType"`
	ErrorCode       string     `json:"errorCode"`
	ErrorMessage    string     `json:"errorMessage"`
	Severity        string     `json:"severity"`
	RawValue        string     `json:"rawValue,omitempty"`
	ExpectedFormat  string     `json:"expectedFormat,omitempty"`
	SuggestedFix    string     `json:"suggestedFix,omitempty"`
	RawRowData      []string   `json:"rawRowData,omitempty"`
	Resolved        bool       `json:"resolved"`
	ResolvedBy      *uuid.UUID `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}
