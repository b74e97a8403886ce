package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/audit"
	"github.com/ledgerline/recon-engine/internal/db"
	"github.com/ledgerline/recon-engine/internal/matching"
	"github.com/ledgerline/recon-engine/internal/threeway"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// twoWayEngine builds a matching engine for the calling tenant. The
// engine loads the tenant's active configuration and prefits the vendor
// corpus, so it is constructed per request rather than cached.
func (h *Handler) twoWayEngine(c *gin.Context) (*matching.Engine, bool) {
	engine, err := matching.NewEngine(c.Request.Context(), tenantFrom(c), h.store, h.audit, h.log)
	if err != nil {
		if errors.Is(err, matching.ErrInvalidConfig) || errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "no usable matching configuration: " + err.Error()})
		} else {
			h.log.Error("build matching engine", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize matching engine"})
		}
		return nil, false
	}
	return engine, true
}

// handleMatchInvoice runs two-way matching for one invoice.
// POST /api/v1/invoices/:id/match?force=true
func (h *Handler) handleMatchInvoice(c *gin.Context) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoice id must be a UUID"})
		return
	}
	force := c.Query("force") == "true"

	engine, ok := h.twoWayEngine(c)
	if !ok {
		return
	}

	decision, err := engine.MatchOne(c.Request.Context(), invoiceID, force)
	if err != nil {
		h.log.Error("match invoice", zap.String("invoiceId", invoiceID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "matching failed"})
		return
	}
	c.JSON(http.StatusOK, decision)
}

// handleMatchBatch runs two-way matching over a set of invoices and
// returns the aggregate metrics.
// POST /api/v1/match/batch {invoiceIds, parallel}
func (h *Handler) handleMatchBatch(c *gin.Context) {
	var req struct {
		InvoiceIDs []uuid.UUID `json:"invoiceIds" binding:"required"`
		Parallel   bool        `json:"parallel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if len(req.InvoiceIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceIds must not be empty"})
		return
	}

	engine, ok := h.twoWayEngine(c)
	if !ok {
		return
	}

	metrics := engine.MatchBatch(c.Request.Context(), req.InvoiceIDs, req.Parallel)
	c.JSON(http.StatusOK, metrics)
}

// handleThreeWayMatch runs invoice/PO/receipt reconciliation for one
// invoice.
// POST /api/v1/invoices/:id/match/threeway
func (h *Handler) handleThreeWayMatch(c *gin.Context) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoice id must be a UUID"})
		return
	}

	engine, err := threeway.NewEngine(c.Request.Context(), tenantFrom(c), h.store, h.audit, h.log)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "failed to initialize three-way engine: " + err.Error()})
		return
	}

	outcome, err := engine.Perform(c.Request.Context(), invoiceID)
	if err != nil {
		h.log.Error("three-way match", zap.String("invoiceId", invoiceID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "three-way matching failed"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleMatchFeedback applies reviewer feedback to a match result.
// POST /api/v1/matches/:id/feedback {action, notes}
func (h *Handler) handleMatchFeedback(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match id must be a UUID"})
		return
	}

	var req struct {
		Action string `json:"action" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	switch req.Action {
	case matching.FeedbackApprove, matching.FeedbackReject, matching.FeedbackModify:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be approve, reject or modify"})
		return
	}

	engine, ok := h.twoWayEngine(c)
	if !ok {
		return
	}

	actor := models.Actor{
		UserID:    userFrom(c),
		TenantID:  tenantFrom(c),
		Role:      "reviewer",
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	result, err := engine.UserFeedback(c.Request.Context(), matchID, req.Action, actor, req.Notes)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "match result not found"})
			return
		}
		h.log.Error("apply feedback", zap.String("matchId", matchID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply feedback"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleGetMatch returns one match result.
// GET /api/v1/matches/:id
func (h *Handler) handleGetMatch(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match id must be a UUID"})
		return
	}

	result, err := h.store.GetMatchResult(c.Request.Context(), tenantFrom(c), matchID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "match result not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load match result"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleAuditTrail returns a match's audit chain together with the
// verification outcome.
// GET /api/v1/matches/:id/audit
func (h *Handler) handleAuditTrail(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match id must be a UUID"})
		return
	}

	events, err := h.store.ListAuditEvents(c.Request.Context(), tenantFrom(c), matchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit trail"})
		return
	}

	corruptedAt, err := audit.Verify(events)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify audit chain"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matchId":     matchID,
		"events":      events,
		"chainIntact": corruptedAt < 0,
		"corruptedAt": corruptedAt,
	})
}
