package license

import (
	"context"

	"github.com/mbd888/licentia/internal/brand"
)

// Tx is the set of operations available inside one atomic unit of work.
// Every method sees the transaction's isolated snapshot; nothing written
// through a Tx survives unless the enclosing WithinTx call returns nil.
type Tx interface {
	// GetOrCreateKey returns the license key for (brand, email), creating it
	// atomically when absent. The bool reports whether a new key was created.
	GetOrCreateKey(ctx context.Context, key *LicenseKey) (*LicenseKey, bool, error)

	// GetProduct resolves a product strictly within the given brand.
	GetProduct(ctx context.Context, brandID, slug string) (*brand.Product, error)

	CreateLicense(ctx context.Context, l *License) error

	// LockLicense resolves a license by key string and product slug, scoped
	// to one brand, and locks it against concurrent seat accounting for the
	// rest of the transaction. Returns ErrLicenseNotFound when no such
	// entitlement exists within the brand.
	LockLicense(ctx context.Context, brandID, keyString, productSlug string) (*License, error)

	// GetOrCreateActivation inserts a seat record unless one already exists
	// for (license, instance). The bool reports whether a row was created;
	// when false the pre-existing activation is returned unchanged.
	GetOrCreateActivation(ctx context.Context, a *Activation) (*Activation, bool, error)

	CountActivations(ctx context.Context, licenseID string) (int, error)

	// DeleteActivation is the compensating rollback for a seat-cap breach.
	// It is only ever called on an activation created in the same transaction.
	DeleteActivation(ctx context.Context, id string) error
}

// Store persists license keys, licenses, and activations.
//
// WithinTx is the single write path: it runs fn inside one transaction with
// isolation strict enough that the insert-then-count seat check serializes
// against concurrent activations of the same license. It commits when fn
// returns nil and rolls back on every other exit path. Transient isolation
// conflicts surface as ErrTxConflict for the caller to retry.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// GetDetail resolves a license by key string within one brand, scoped to
	// one product.
	GetDetail(ctx context.Context, brandID, keyString, productSlug string) (*Detail, error)

	// DetailsForKey returns every license backing a key string within one
	// brand.
	DetailsForKey(ctx context.Context, brandID, keyString string) ([]*Detail, error)

	CountActivations(ctx context.Context, licenseID string) (int, error)

	// UpdateStatus moves a license through its lifecycle (valid, suspended,
	// cancelled).
	UpdateStatus(ctx context.Context, licenseID string, status Status) error

	// ListByEmail returns the customer's licenses across all brands. This is
	// the one deliberate breach of tenant isolation; only admin-scoped
	// surfaces may call it.
	ListByEmail(ctx context.Context, email string) ([]*CustomerLicense, error)
}
