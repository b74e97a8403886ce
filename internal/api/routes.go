// Package api exposes the reconciliation core over a thin gin surface:
// chunked CSV upload and import control, two- and three-way matching,
// reviewer feedback, audit trails, and a websocket progress stream.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/audit"
	"github.com/ledgerline/recon-engine/internal/config"
	"github.com/ledgerline/recon-engine/internal/db"
	"github.com/ledgerline/recon-engine/internal/ingest"
	"github.com/ledgerline/recon-engine/internal/progress"
)

// Handler carries the wired dependencies shared by all routes.
type Handler struct {
	store     *db.PostgresStore
	registry  *progress.Registry
	cache     progress.Cache
	pipeline  *ingest.Pipeline
	audit     *audit.Logger
	uploadDir string
	log       *zap.Logger
}

// SetupRouter wires the middleware chain and all route groups.
func SetupRouter(cfg *config.Config, store *db.PostgresStore, registry *progress.Registry, cache progress.Cache, auditLog *audit.Logger, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	handler := &Handler{
		store:     store,
		registry:  registry,
		cache:     cache,
		pipeline:  ingest.NewPipeline(ingest.NewPgStore(store), registry, log),
		audit:     auditLog,
		uploadDir: cfg.Ingest.UploadDir,
		log:       log,
	}

	limiter := NewRateLimiter(cfg.Ingest.RateLimit, cfg.Ingest.RateBurst)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(log))

	api.GET("/health", handler.handleHealth)

	tenant := api.Group("")
	tenant.Use(TenantMiddleware())
	{
		tenant.GET("/stream", handler.handleStream)

		imports := tenant.Group("/imports")
		{
			imports.POST("", limiter.Middleware(), handler.handleCreateImport)
			imports.POST("/:id/chunks/:index", limiter.Middleware(), handler.handleUploadChunk)
			imports.POST("/:id/complete", handler.handleCompleteUpload)
			imports.POST("/:id/start", handler.handleStartImport)
			imports.POST("/:id/cancel", handler.handleCancelImport)
			imports.GET("/:id", handler.handleGetImport)
			imports.GET("/:id/preview", handler.handleImportPreview)
			imports.GET("/:id/errors", handler.handleImportErrors)
		}

		tenant.POST("/invoices/:id/match", handler.handleMatchInvoice)
		tenant.POST("/invoices/:id/match/threeway", handler.handleThreeWayMatch)
		tenant.POST("/match/batch", limiter.Middleware(), handler.handleMatchBatch)

		matches := tenant.Group("/matches")
		{
			matches.GET("/:id", handler.handleGetMatch)
			matches.POST("/:id/feedback", handler.handleMatchFeedback)
			matches.GET("/:id/audit", handler.handleAuditTrail)
		}
	}

	return r
}

// corsMiddleware allows the origins named in ALLOWED_ORIGINS, or any
// origin when unset (development).
func corsMiddleware() gin.HandlerFunc {
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Tenant-ID, X-User-ID, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// handleHealth reports process status for service discovery.
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "ledgerline reconciliation core",
		"capabilities": gin.H{
			"two_way_matching":   true,
			"three_way_matching": true,
			"fuzzy_vendor_match": true,
			"csv_import":         true,
			"audit_chain":        true,
		},
		"algorithmVersion": audit.AlgorithmVersion,
	})
}
