package license

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/licentia/internal/auth"
	"github.com/mbd888/licentia/internal/brand"
	"github.com/mbd888/licentia/internal/validation"
)

// Handler provides the brand-facing licensing endpoints and the admin
// cross-brand surface.
type Handler struct {
	service *Service
}

// NewHandler creates a new license handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterBrandRoutes sets up routes that require brand API key auth.
func (h *Handler) RegisterBrandRoutes(r *gin.RouterGroup) {
	r.POST("/licenses", h.Provision)
	r.POST("/activations", h.Activate)
	r.GET("/licenses/:key/status", h.Status)
}

// RegisterAdminRoutes sets up the admin-only cross-brand routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/customers/:email/licenses", h.ListCustomerLicenses)
	r.PATCH("/licenses/:id/status", h.SetStatus)
}

// Provision handles POST /v1/licenses.
func (h *Handler) Provision(c *gin.Context) {
	b, ok := auth.GetBrand(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "brand API key required"})
		return
	}

	var req struct {
		CustomerEmail string `json:"customerEmail" binding:"required"`
		Product       string `json:"product" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "customerEmail and product required"})
		return
	}

	email := validation.NormalizeEmail(req.CustomerEmail)
	if !validation.IsValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "customerEmail is not a valid email address"})
		return
	}
	slug := validation.NormalizeSlug(req.Product)
	if !validation.IsValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "message": "product must be a lowercase alphanumeric slug"})
		return
	}

	result, err := h.service.Provision(c.Request.Context(), b, email, slug)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"licenseKey": result.Key.Key,
		"keyCreated": result.KeyCreated,
		"license": gin.H{
			"id":        result.License.ID,
			"status":    result.License.Status,
			"expiresAt": result.License.ExpiresAt,
			"seatLimit": result.License.SeatLimit,
		},
	})
}

// Activate handles POST /v1/activations.
func (h *Handler) Activate(c *gin.Context) {
	b, ok := auth.GetBrand(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "brand API key required"})
		return
	}

	var req struct {
		LicenseKey string `json:"licenseKey" binding:"required"`
		Product    string `json:"product" binding:"required"`
		InstanceID string `json:"instanceId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "licenseKey, product, and instanceId required"})
		return
	}

	slug := validation.NormalizeSlug(req.Product)
	if !validation.IsValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "message": "product must be a lowercase alphanumeric slug"})
		return
	}
	instance := validation.SanitizeString(req.InstanceID, validation.MaxInstanceIDLength)
	if !validation.IsValidInstanceID(instance) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_instance", "message": "instanceId is missing or malformed"})
		return
	}

	act, err := h.service.Activate(c.Request.Context(), b, req.LicenseKey, slug, instance)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"activation": gin.H{
			"id":          act.ID,
			"licenseId":   act.LicenseID,
			"instanceId":  act.InstanceID,
			"activatedAt": act.ActivatedAt,
		},
	})
}

// Status handles GET /v1/licenses/:key/status?product=slug.
func (h *Handler) Status(c *gin.Context) {
	b, ok := auth.GetBrand(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "brand API key required"})
		return
	}

	keyString := c.Param("key")
	slug := validation.NormalizeSlug(c.Query("product"))
	if slug != "" && !validation.IsValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "message": "product must be a lowercase alphanumeric slug"})
		return
	}

	view, err := h.service.Status(c.Request.Context(), b, keyString, slug)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": view})
}

// ListCustomerLicenses handles GET /v1/admin/customers/:email/licenses.
func (h *Handler) ListCustomerLicenses(c *gin.Context) {
	email := validation.NormalizeEmail(c.Param("email"))
	if !validation.IsValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "not a valid email address"})
		return
	}

	licenses, err := h.service.ListByEmail(c.Request.Context(), email)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":    email,
		"licenses": licenses,
		"count":    len(licenses),
	})
}

// SetStatus handles PATCH /v1/admin/licenses/:id/status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status required"})
		return
	}
	if !ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be valid, suspended, or cancelled"})
		return
	}

	if err := h.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrLicenseNotFound), errors.Is(err, ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "license not found"})
	case errors.Is(err, brand.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found", "message": "no such product for this brand"})
	case errors.Is(err, ErrAmbiguousKey):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "ambiguous_key",
			"message": "key backs multiple licenses; pass ?product= to disambiguate",
		})
	case errors.Is(err, ErrNotActive):
		c.JSON(http.StatusForbidden, gin.H{"error": "license_not_active", "message": err.Error()})
	case errors.Is(err, ErrExpired):
		c.JSON(http.StatusForbidden, gin.H{"error": "license_expired", "message": "license has expired"})
	case errors.Is(err, ErrSeatLimitReached):
		c.JSON(http.StatusConflict, gin.H{"error": "seat_limit_reached", "message": "all seats for this license are in use"})
	case errors.Is(err, ErrTxConflict):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conflict_retry", "message": "transient conflict, retry the request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unexpected error"})
	}
}
