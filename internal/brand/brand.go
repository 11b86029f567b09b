// Package brand provides the tenant directory for the Licentia platform.
//
// A Brand is a tenant: it owns Products and, indirectly, every license key
// issued under it. Nothing in this package ever resolves an entity across
// brand boundaries; a (brand, slug) pair is the only way to reach a Product.
package brand

import (
	"errors"
	"time"
)

// Errors
var (
	ErrBrandNotFound   = errors.New("brand: not found")
	ErrNameTaken       = errors.New("brand: name already taken")
	ErrProductNotFound = errors.New("brand: product not found")
	ErrSlugTaken       = errors.New("brand: product slug already taken")
)

// Brand represents a tenant owning products and customer relationships.
type Brand struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Product is a piece of software a Brand sells licenses for.
// DefaultSeats seeds the seat_limit of every License provisioned for it.
type Product struct {
	ID           string    `json:"id"`
	BrandID      string    `json:"brandId"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	DefaultSeats int       `json:"defaultSeats"`
	CreatedAt    time.Time `json:"createdAt"`
}
