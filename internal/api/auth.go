package api

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Authentication and tenant resolution.
//
// Real identity lives in an upstream gateway; this layer checks an
// optional shared bearer token (API_AUTH_TOKEN) and requires the
// gateway-supplied X-Tenant-ID header on every tenant-scoped route.

const (
	tenantContextKey = "tenantID"
	userContextKey   = "userID"
)

// AuthMiddleware validates the shared bearer token when one is
// configured. With API_AUTH_TOKEN unset all requests pass (dev mode).
func AuthMiddleware(log *zap.Logger) gin.HandlerFunc {
	token := os.Getenv("API_AUTH_TOKEN")
	if token == "" && os.Getenv("GIN_MODE") == "release" {
		log.Warn("API_AUTH_TOKEN is not set in release mode; all routes are publicly accessible")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing Authorization header",
				"hint":  "use: Authorization: Bearer <token>",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid Authorization header format"})
			c.Abort()
			return
		}

		// Constant-time comparison prevents timing-based token probing.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// TenantMiddleware resolves the calling tenant from X-Tenant-ID and
// stashes it (plus the optional X-User-ID) in the request context.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Tenant-ID")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-ID header is required"})
			c.Abort()
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-ID must be a UUID"})
			c.Abort()
			return
		}
		c.Set(tenantContextKey, tenantID)

		if rawUser := c.GetHeader("X-User-ID"); rawUser != "" {
			if userID, err := uuid.Parse(rawUser); err == nil {
				c.Set(userContextKey, userID)
			}
		}
		c.Next()
	}
}

func tenantFrom(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(tenantContextKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func userFrom(c *gin.Context) *uuid.UUID {
	if v, ok := c.Get(userContextKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return &id
		}
	}
	return nil
}
