package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/licentia/internal/brand"
	"github.com/mbd888/licentia/internal/validation"
)

// Handler provides the admin HTTP endpoints for brand API key management.
type Handler struct {
	manager *Manager
	brands  brand.Store
}

// NewHandler creates a new auth handler.
func NewHandler(manager *Manager, brands brand.Store) *Handler {
	return &Handler{manager: manager, brands: brands}
}

// RegisterAdminRoutes sets up the admin-only key management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/brands/:id/keys", h.CreateKey)
	r.GET("/brands/:id/keys", h.ListKeys)
	r.DELETE("/brands/:id/keys/:keyId", h.RevokeKey)
}

// CreateKey handles POST /v1/admin/brands/:id/keys.
func (h *Handler) CreateKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "API key"
	}

	if _, err := h.brands.GetBrand(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "brand not found"})
		return
	}

	rawKey, keyInfo, err := h.manager.GenerateKey(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Name, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to generate key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /v1/admin/brands/:id/keys.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /v1/admin/brands/:id/keys/:keyId.
func (h *Handler) RevokeKey(c *gin.Context) {
	if err := h.manager.RevokeKey(c.Request.Context(), c.Param("keyId"), c.Param("id")); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": c.Param("keyId")})
}
