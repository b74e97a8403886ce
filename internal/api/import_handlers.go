package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/db"
	"github.com/ledgerline/recon-engine/internal/ingest"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// handleCreateImport registers a new import batch ahead of the chunked
// upload.
// POST /api/v1/imports {filename, fileSize, fileHash, mimeType}
func (h *Handler) handleCreateImport(c *gin.Context) {
	tenantID := tenantFrom(c)

	var req struct {
		Filename string `json:"filename" binding:"required"`
		FileSize int64  `json:"fileSize"`
		FileHash string `json:"fileHash"`
		MimeType string `json:"mimeType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.FileSize > ingest.MaxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the 50MB limit"})
		return
	}

	batch := &models.ImportBatch{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Filename:         req.Filename,
		OriginalFilename: req.Filename,
		FileSize:         req.FileSize,
		FileHash:         req.FileHash,
		MimeType:         req.MimeType,
		Status:           models.ImportStatusUploading,
	}
	batch.StoragePath = filepath.Join(h.uploadDir, batch.ID.String(), "assembled.csv")

	if err := h.store.CreateImportBatch(c.Request.Context(), batch); err != nil {
		h.log.Error("create import batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create import batch"})
		return
	}
	c.JSON(http.StatusCreated, batch)
}

// handleUploadChunk stores one raw upload part.
// POST /api/v1/imports/:id/chunks/:index
func (h *Handler) handleUploadChunk(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	if batch.Status != models.ImportStatusUploading && batch.Status != models.ImportStatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "batch is not accepting chunks", "status": batch.Status})
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk index must be a non-negative integer"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, ingest.MaxFileSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read chunk body"})
		return
	}
	if int64(len(data)) > ingest.MaxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk exceeds the file size limit"})
		return
	}

	if err := ingest.WriteChunk(filepath.Dir(batch.StoragePath), index, data); err != nil {
		h.log.Error("store chunk", zap.String("batchId", batch.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store chunk"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batchId": batch.ID, "chunkIndex": index, "received": len(data)})
}

// handleCompleteUpload reassembles the chunks, verifies the declared
// hash, and runs detection to produce the preview and mapping
// suggestions.
// POST /api/v1/imports/:id/complete {totalChunks, sha256}
func (h *Handler) handleCompleteUpload(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}

	var req struct {
		TotalChunks int    `json:"totalChunks" binding:"required"`
		SHA256      string `json:"sha256"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.SHA256 == "" {
		req.SHA256 = batch.FileHash
	}

	dir := filepath.Dir(batch.StoragePath)
	if err := ingest.AssembleChunks(dir, req.TotalChunks, req.SHA256, batch.StoragePath); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assembly failed: " + err.Error()})
		return
	}

	data, err := os.ReadFile(batch.StoragePath)
	if err != nil {
		h.log.Error("read assembled file", zap.String("batchId", batch.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read assembled file"})
		return
	}

	meta, err := ingest.DetectMetadata(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "detection failed: " + err.Error()})
		return
	}
	if err := ingest.CachePreview(c.Request.Context(), h.cache, batch.ID, meta); err != nil {
		h.log.Warn("cache preview", zap.String("batchId", batch.ID.String()), zap.Error(err))
	}

	batch.CSVDelimiter = meta.Delimiter
	batch.CSVEncoding = meta.Encoding
	batch.HasHeader = meta.HasHeader
	batch.PreviewData = meta.Preview
	batch.TotalRecords = meta.TotalRows
	batch.Status = models.ImportStatusValidating
	if err := h.store.UpdateImportDetection(c.Request.Context(), batch); err != nil {
		h.log.Error("persist detection", zap.String("batchId", batch.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist detection"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batchId": batch.ID, "metadata": meta})
}

// handleStartImport confirms the column mapping and launches the
// pipeline in the background.
// POST /api/v1/imports/:id/start {columnMapping}
func (h *Handler) handleStartImport(c *gin.Context) {
	tenantID := tenantFrom(c)
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	if batch.Status != models.ImportStatusPending && batch.Status != models.ImportStatusValidating {
		c.JSON(http.StatusConflict, gin.H{"error": "batch already started", "status": batch.Status})
		return
	}

	var req struct {
		ColumnMapping map[string]string `json:"columnMapping" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.store.SetImportMapping(c.Request.Context(), tenantID, batch.ID, req.ColumnMapping); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store column mapping"})
		return
	}
	batch.ColumnMapping = req.ColumnMapping

	data, err := os.ReadFile(batch.StoragePath)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "upload is not complete for this batch"})
		return
	}
	records, err := ingest.ReadRecords(data, batch.CSVDelimiter)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "parse failed: " + err.Error()})
		return
	}

	meta, err := ingest.LoadPreview(c.Request.Context(), h.cache, batch.ID)
	if err != nil {
		meta = nil // headerless column names degrade to positional
	}

	go func() {
		// Detached from the request context: the run outlives the call.
		if err := h.pipeline.Run(context.Background(), batch, meta, records); err != nil && !errors.Is(err, ingest.ErrCancelled) {
			h.log.Error("import run failed", zap.String("batchId", batch.ID.String()), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"batchId": batch.ID, "status": models.ImportStatusProcessing})
}

// handleCancelImport raises the cancellation flag the pipeline polls.
// POST /api/v1/imports/:id/cancel
func (h *Handler) handleCancelImport(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	switch batch.Status {
	case models.ImportStatusCompleted, models.ImportStatusFailed, models.ImportStatusCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": "batch already finished", "status": batch.Status})
		return
	}
	if err := h.registry.RequestCancel(c.Request.Context(), batch.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request cancellation"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batchId": batch.ID, "status": "cancellation_requested"})
}

// handleGetImport returns the batch with its live counters.
// GET /api/v1/imports/:id
func (h *Handler) handleGetImport(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, batch)
}

// handleImportPreview returns the cached detection outcome.
// GET /api/v1/imports/:id/preview
func (h *Handler) handleImportPreview(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	meta, err := ingest.LoadPreview(c.Request.Context(), h.cache, batch.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preview"})
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview expired; re-run upload completion"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// handleImportErrors lists a batch's row diagnostics.
// GET /api/v1/imports/:id/errors?limit=200
func (h *Handler) handleImportErrors(c *gin.Context) {
	tenantID := tenantFrom(c)
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	errs, err := h.store.ListImportErrors(c.Request.Context(), tenantID, batch.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list import errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batchId": batch.ID, "errors": errs, "count": len(errs)})
}

// loadBatch resolves the :id param against the calling tenant.
func (h *Handler) loadBatch(c *gin.Context) (*models.ImportBatch, bool) {
	tenantID := tenantFrom(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch id must be a UUID"})
		return nil, false
	}
	batch, err := h.store.GetImportBatch(c.Request.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "import batch not found"})
		} else {
			h.log.Error("load import batch", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load import batch"})
		}
		return nil, false
	}
	return batch, true
}
