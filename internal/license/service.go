package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/licentia/internal/brand"
	"github.com/mbd888/licentia/internal/idgen"
	"github.com/mbd888/licentia/internal/metrics"
	"github.com/mbd888/licentia/internal/retry"
	"github.com/mbd888/licentia/internal/traces"
)

// Transient transaction conflicts are retried with backoff; business
// failures are permanent and never retried.
const (
	txAttempts  = 3
	txBaseDelay = 25 * time.Millisecond
)

// Event names published by the service.
const (
	EventLicenseProvisioned = "license_provisioned"
	EventLicenseActivated   = "license_activated"
	EventSeatDenied         = "seat_denied"
)

// EventEmitter publishes license lifecycle events (to the realtime hub in
// production; a no-op when unset).
type EventEmitter interface {
	Emit(eventType string, data map[string]any)
}

// Service implements the entitlement operations: provisioning, activation,
// status computation, and the admin-only cross-brand listing.
type Service struct {
	store  Store
	logger *slog.Logger
	events EventEmitter
	now    func() time.Time
}

// NewService creates a new entitlement service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithEvents adds a lifecycle event emitter.
func (s *Service) WithEvents(events EventEmitter) *Service {
	s.events = events
	return s
}

// WithClock overrides the service clock (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Provision creates or retrieves the customer's license key for the brand
// and attaches a new License for the product, all in one transaction.
//
// Key issuance is idempotent; license creation is not: provisioning the same
// (key, product) twice creates a second License row. That mirrors upstream
// purchase flows where each order is its own entitlement — callers wanting
// dedup must check Status first.
func (s *Service) Provision(ctx context.Context, b *brand.Brand, customerEmail, productSlug string) (*ProvisionResult, error) {
	ctx, span := traces.StartSpan(ctx, "license.provision",
		traces.BrandID(b.ID), traces.ProductSlug(productSlug))
	defer span.End()

	var result *ProvisionResult
	err := s.withRetry(ctx, func() error {
		result = nil
		return s.store.WithinTx(ctx, func(tx Tx) error {
			now := s.now()
			key, created, err := tx.GetOrCreateKey(ctx, &LicenseKey{
				ID:            idgen.WithPrefix("key_"),
				BrandID:       b.ID,
				Key:           idgen.New(),
				CustomerEmail: customerEmail,
				CreatedAt:     now,
			})
			if err != nil {
				return err
			}

			product, err := tx.GetProduct(ctx, b.ID, productSlug)
			if err != nil {
				return err
			}

			expires := now.Add(ValidityWindow)
			lic := &License{
				ID:        idgen.WithPrefix("lic_"),
				KeyID:     key.ID,
				ProductID: product.ID,
				Status:    StatusValid,
				ExpiresAt: &expires,
				SeatLimit: product.DefaultSeats,
				CreatedAt: now,
			}
			if err := tx.CreateLicense(ctx, lic); err != nil {
				return err
			}

			result = &ProvisionResult{License: lic, Key: key, KeyCreated: created}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ProvisionsTotal.Inc()
	s.logger.Info("license provisioned",
		"brand_id", b.ID,
		"product", productSlug,
		"license_id", result.License.ID,
		"key_created", result.KeyCreated,
	)
	s.emit(EventLicenseProvisioned, map[string]any{
		"brand":     b.Name,
		"product":   productSlug,
		"licenseId": result.License.ID,
	})
	return result, nil
}

// Activate consumes a seat for (key, product, instance), idempotently.
//
// The whole sequence runs in one transaction: resolve and lock the license,
// gate on status and expiry, get-or-create the activation, and only for a
// newly created activation recount seats — rolling the insert back when the
// count exceeds the limit. A repeat activation of the same instance returns
// the existing record untouched, with no seat check.
func (s *Service) Activate(ctx context.Context, b *brand.Brand, keyString, productSlug, instanceID string) (*Activation, error) {
	ctx, span := traces.StartSpan(ctx, "license.activate",
		traces.BrandID(b.ID), traces.ProductSlug(productSlug), traces.InstanceID(instanceID))
	defer span.End()

	var (
		act     *Activation
		created bool
	)
	err := s.withRetry(ctx, func() error {
		act, created = nil, false
		return s.store.WithinTx(ctx, func(tx Tx) error {
			lic, err := tx.LockLicense(ctx, b.ID, keyString, productSlug)
			if err != nil {
				return err
			}

			now := s.now()
			if lic.Status != StatusValid {
				return fmt.Errorf("%w: %s", ErrNotActive, lic.Status)
			}
			if lic.Expired(now) {
				return ErrExpired
			}

			act, created, err = tx.GetOrCreateActivation(ctx, &Activation{
				ID:          idgen.WithPrefix("act_"),
				LicenseID:   lic.ID,
				InstanceID:  instanceID,
				ActivatedAt: now,
			})
			if err != nil {
				return err
			}
			if !created {
				// Idempotent re-activation: same seat, no further checks.
				return nil
			}

			seats, err := tx.CountActivations(ctx, lic.ID)
			if err != nil {
				return err
			}
			if seats > lic.SeatLimit {
				// Compensating rollback within the same transaction: the
				// rejected activation must leave no trace.
				if err := tx.DeleteActivation(ctx, act.ID); err != nil {
					return err
				}
				return ErrSeatLimitReached
			}
			return nil
		})
	})
	if err != nil {
		s.recordActivationFailure(err, productSlug, instanceID)
		return nil, err
	}

	if created {
		metrics.ActivationsTotal.WithLabelValues("created").Inc()
	} else {
		metrics.ActivationsTotal.WithLabelValues("idempotent").Inc()
	}
	s.logger.Info("license activated",
		"brand_id", b.ID,
		"product", productSlug,
		"instance", instanceID,
		"activation_id", act.ID,
		"new_seat", created,
	)
	s.emit(EventLicenseActivated, map[string]any{
		"brand":    b.Name,
		"product":  productSlug,
		"instance": instanceID,
		"newSeat":  created,
	})
	return act, nil
}

func (s *Service) recordActivationFailure(err error, productSlug, instanceID string) {
	switch {
	case errors.Is(err, ErrSeatLimitReached):
		metrics.SeatDenialsTotal.Inc()
		s.logger.Warn("seat limit reached", "product", productSlug, "instance", instanceID)
		s.emit(EventSeatDenied, map[string]any{
			"product":  productSlug,
			"instance": instanceID,
		})
	case errors.Is(err, ErrNotActive), errors.Is(err, ErrExpired):
		metrics.ActivationsTotal.WithLabelValues("rejected").Inc()
	}
}

// Status answers the customer-facing "is my key good" query. When the key
// backs more than one license, the product slug is required to disambiguate;
// guessing would report the wrong entitlement.
func (s *Service) Status(ctx context.Context, b *brand.Brand, keyString, productSlug string) (*StatusView, error) {
	ctx, span := traces.StartSpan(ctx, "license.status", traces.BrandID(b.ID))
	defer span.End()

	var detail *Detail
	if productSlug != "" {
		d, err := s.store.GetDetail(ctx, b.ID, keyString, productSlug)
		if err != nil {
			return nil, err
		}
		detail = d
	} else {
		details, err := s.store.DetailsForKey(ctx, b.ID, keyString)
		if err != nil {
			return nil, err
		}
		switch len(details) {
		case 0:
			return nil, ErrLicenseNotFound
		case 1:
			detail = details[0]
		default:
			return nil, ErrAmbiguousKey
		}
	}

	seats, err := s.store.CountActivations(ctx, detail.License.ID)
	if err != nil {
		return nil, err
	}

	lic := detail.License
	now := s.now()
	remaining := lic.SeatLimit - seats
	if remaining < 0 {
		remaining = 0
	}
	return &StatusView{
		LicenseKey:     detail.KeyString,
		ProductName:    detail.ProductName,
		Status:         lic.Status,
		IsValid:        lic.Status == StatusValid && !lic.Expired(now),
		ExpiresAt:      lic.ExpiresAt,
		SeatLimit:      lic.SeatLimit,
		ActiveSeats:    seats,
		RemainingSeats: remaining,
	}, nil
}

// SetStatus moves a license through its lifecycle (admin surface).
func (s *Service) SetStatus(ctx context.Context, licenseID string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("license: unknown status %q", status)
	}
	if err := s.store.UpdateStatus(ctx, licenseID, status); err != nil {
		return err
	}
	s.logger.Info("license status changed", "license_id", licenseID, "status", status)
	return nil
}

// ListByEmail returns all of a customer's licenses across every brand,
// each tagged with its brand name. Admin capability only: this is the one
// intentional bypass of tenant isolation.
func (s *Service) ListByEmail(ctx context.Context, email string) ([]*CustomerLicense, error) {
	ctx, span := traces.StartSpan(ctx, "license.list_by_email")
	defer span.End()

	return s.store.ListByEmail(ctx, email)
}

// withRetry retries transient transaction conflicts with backoff; every
// other error is permanent.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, txAttempts, txBaseDelay, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTxConflict) {
			return retry.Permanent(err)
		}
		metrics.TxRetriesTotal.Inc()
		return err
	})
}

func (s *Service) emit(eventType string, data map[string]any) {
	if s.events != nil {
		s.events.Emit(eventType, data)
	}
}
