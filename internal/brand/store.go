package brand

import "context"

// Store persists brands and their products.
// Product lookups are always scoped to a brand; colliding slugs across
// brands must never resolve to each other's products.
type Store interface {
	CreateBrand(ctx context.Context, b *Brand) error
	GetBrand(ctx context.Context, id string) (*Brand, error)
	GetBrandByName(ctx context.Context, name string) (*Brand, error)
	// DeleteBrand removes a brand. The store guarantees the cascade: all of
	// the brand's products, license keys, licenses, and activations go with it.
	DeleteBrand(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, brandID, slug string) (*Product, error)
	ListProducts(ctx context.Context, brandID string) ([]*Product, error)
}
