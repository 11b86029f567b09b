package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/licentia/internal/brand"
)

const (
	// ContextKeyAPIKey is the key for storing the API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyBrand is the key for storing the authenticated brand
	ContextKeyBrand = "authBrand"
	// ContextKeyAdmin marks a request authenticated with the admin secret
	ContextKeyAdmin = "authAdmin"
)

// Middleware extracts and validates the API key from the request and, when
// valid, resolves the owning brand into the context. Requests without a key
// pass through unauthenticated; RequireBrand enforces.
func Middleware(m *Manager, brands brand.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				b, err := brands.GetBrand(c.Request.Context(), key.BrandID)
				if err == nil {
					c.Set(ContextKeyAPIKey, key)
					c.Set(ContextKeyBrand, b)
				}
			}
		}

		c.Next()
	}
}

// RequireBrand rejects requests that did not authenticate as a brand
func RequireBrand() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyBrand); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Brand API key required. Include 'Authorization: Bearer bk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests that do not carry the admin secret.
// When no secret is configured the admin surface is disabled entirely.
func RequireAdmin(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminSecret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin API is not enabled.",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(adminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}

		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// GetBrand returns the authenticated brand from context
func GetBrand(c *gin.Context) (*brand.Brand, bool) {
	v, exists := c.Get(ContextKeyBrand)
	if !exists {
		return nil, false
	}
	b, ok := v.(*brand.Brand)
	return b, ok
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	k, ok := key.(*APIKey)
	return k, ok
}

// IsAdmin checks whether the request passed admin authentication
func IsAdmin(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAdmin)
	return exists
}
