package brand

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/licentia/internal/idgen"
	"github.com/mbd888/licentia/internal/validation"
)

// Handler provides the admin HTTP endpoints for brand and product management.
// API key issuance for brands lives in the auth package.
type Handler struct {
	store        Store
	defaultSeats int
}

// NewHandler creates a new brand handler.
func NewHandler(store Store, defaultSeats int) *Handler {
	return &Handler{store: store, defaultSeats: defaultSeats}
}

// RegisterAdminRoutes sets up the admin-only brand management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/brands", h.CreateBrand)
	r.GET("/brands/:id", h.GetBrand)
	r.DELETE("/brands/:id", h.DeleteBrand)
	r.POST("/brands/:id/products", h.CreateProduct)
	r.GET("/brands/:id/products", h.ListProducts)
}

// CreateBrand handles POST /v1/admin/brands.
func (h *Handler) CreateBrand(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name required"})
		return
	}

	b := &Brand{
		ID:        idgen.WithPrefix("brand_"),
		Name:      validation.SanitizeString(req.Name, 200),
		CreatedAt: time.Now(),
	}
	if b.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name required"})
		return
	}

	if err := h.store.CreateBrand(c.Request.Context(), b); err != nil {
		if errors.Is(err, ErrNameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "name_taken", "message": "brand name already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create brand"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"brand": b})
}

// GetBrand handles GET /v1/admin/brands/:id.
func (h *Handler) GetBrand(c *gin.Context) {
	b, err := h.store.GetBrand(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBrandNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "brand not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"brand": b})
}

// DeleteBrand handles DELETE /v1/admin/brands/:id. Deleting a brand cascades
// into its products, license keys, licenses, and activations.
func (h *Handler) DeleteBrand(c *gin.Context) {
	if err := h.store.DeleteBrand(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrBrandNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "brand not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete brand"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// CreateProduct handles POST /v1/admin/brands/:id/products.
func (h *Handler) CreateProduct(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		Slug         string `json:"slug" binding:"required"`
		DefaultSeats int    `json:"defaultSeats"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	slug := validation.NormalizeSlug(req.Slug)
	if !validation.IsValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_slug",
			"message": "slug must be lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}

	seats := req.DefaultSeats
	if seats == 0 {
		seats = h.defaultSeats
	}
	if seats < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_seats", "message": "defaultSeats must be at least 1"})
		return
	}

	p := &Product{
		ID:           idgen.WithPrefix("prod_"),
		BrandID:      c.Param("id"),
		Name:         validation.SanitizeString(req.Name, 200),
		Slug:         slug,
		DefaultSeats: seats,
		CreatedAt:    time.Now(),
	}

	if err := h.store.CreateProduct(c.Request.Context(), p); err != nil {
		switch {
		case errors.Is(err, ErrBrandNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "brand not found"})
		case errors.Is(err, ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use for this brand"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create product"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"product": p})
}

// ListProducts handles GET /v1/admin/brands/:id/products.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.store.ListProducts(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBrandNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "brand not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}
