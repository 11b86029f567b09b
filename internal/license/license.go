// Package license implements the entitlement core of the Licentia platform:
// license-key issuance, license lifecycle, and seat-limited idempotent
// activation.
//
// Entitlement model:
//   - A customer holds at most one LicenseKey per brand (I1).
//   - Each provisioning call creates one License under that key (repeat
//     provisioning for the same product deliberately creates a second row;
//     see Service.Provision).
//   - An Activation consumes one seat; (license, instance) is the
//     idempotency key, so re-activating the same instance never consumes
//     a second seat (I3).
//   - Live activations never exceed the license's seat limit (I4).
package license

import (
	"errors"
	"time"
)

// Errors
var (
	ErrLicenseNotFound  = errors.New("license: not found")
	ErrKeyNotFound      = errors.New("license: key not found")
	ErrNotActive        = errors.New("license: not active")
	ErrExpired          = errors.New("license: expired")
	ErrSeatLimitReached = errors.New("license: seat limit reached")
	ErrAmbiguousKey     = errors.New("license: key backs multiple licenses, product required")

	// ErrTxConflict marks a store-level serialization or deadlock conflict.
	// It is the only retryable error in this package; everything else is a
	// deterministic business outcome.
	ErrTxConflict = errors.New("license: transient transaction conflict")
)

// ValidityWindow is how long a freshly provisioned license stays valid.
const ValidityWindow = 365 * 24 * time.Hour

// Status represents a license's lifecycle state.
type Status string

const (
	StatusValid     Status = "valid"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusValid, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// LicenseKey is the per-(brand, customer) credential container. Created
// once, never mutated; a customer may hold many Licenses under one key but
// never more than one key per brand.
type LicenseKey struct {
	ID            string    `json:"id"`
	BrandID       string    `json:"brandId"`
	Key           string    `json:"key"`
	CustomerEmail string    `json:"customerEmail"`
	CreatedAt     time.Time `json:"createdAt"`
}

// License is one product entitlement under a key.
type License struct {
	ID        string     `json:"id"`
	KeyID     string     `json:"keyId"`
	ProductID string     `json:"productId"`
	Status    Status     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	SeatLimit int        `json:"seatLimit"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Expired reports whether the license's expiry, if set, has passed.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Activation records that a specific instance holds one seat of a license.
type Activation struct {
	ID          string    `json:"id"`
	LicenseID   string    `json:"licenseId"`
	InstanceID  string    `json:"instanceId"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// Detail is a license joined with the names a caller needs to present it:
// its key string, product, and owning brand.
type Detail struct {
	License     *License `json:"license"`
	KeyString   string   `json:"licenseKey"`
	BrandID     string   `json:"brandId"`
	BrandName   string   `json:"brandName"`
	ProductName string   `json:"productName"`
	ProductSlug string   `json:"productSlug"`
}

// StatusView is the customer-facing answer to "is my key good, and how many
// seats are left".
type StatusView struct {
	LicenseKey     string     `json:"licenseKey"`
	ProductName    string     `json:"productName"`
	Status         Status     `json:"status"`
	IsValid        bool       `json:"isValid"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	SeatLimit      int        `json:"seatLimit"`
	ActiveSeats    int        `json:"activeSeats"`
	RemainingSeats int        `json:"remainingSeats"`
}

// CustomerLicense is one row of the ecosystem-wide admin view: a license
// tagged with its brand, crossing tenant boundaries on purpose.
type CustomerLicense struct {
	License     *License `json:"license"`
	BrandName   string   `json:"brandName"`
	ProductName string   `json:"productName"`
	ProductSlug string   `json:"productSlug"`
	KeyString   string   `json:"licenseKey"`
}

// ProvisionResult is what a provisioning call hands back: the new license
// plus the (possibly pre-existing) key it hangs off.
type ProvisionResult struct {
	License    *License    `json:"license"`
	Key        *LicenseKey `json:"key"`
	KeyCreated bool        `json:"keyCreated"`
}
