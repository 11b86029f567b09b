package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/licentia/internal/brand"
)

type testEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *testEmitter) Emit(eventType string, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
}

func (e *testEmitter) has(eventType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev == eventType {
			return true
		}
	}
	return false
}

type testEnv struct {
	brands  *brand.MemoryStore
	store   *MemoryStore
	svc     *Service
	emitter *testEmitter
	brand   *brand.Brand
	product *brand.Product
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	brands := brand.NewMemoryStore()
	store := NewMemoryStore(brands)
	emitter := &testEmitter{}
	svc := NewService(store, nil).WithEvents(emitter)

	b := &brand.Brand{ID: "brand_1", Name: "Acme Software", CreatedAt: time.Now()}
	require.NoError(t, brands.CreateBrand(ctx, b))

	p := &brand.Product{
		ID: "prod_1", BrandID: b.ID,
		Name: "Photo Editor", Slug: "photo-editor",
		DefaultSeats: 3, CreatedAt: time.Now(),
	}
	require.NoError(t, brands.CreateProduct(ctx, p))

	return &testEnv{brands: brands, store: store, svc: svc, emitter: emitter, brand: b, product: p}
}

func TestProvision_NewCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	assert.True(t, result.KeyCreated)
	assert.NotEmpty(t, result.Key.Key)
	assert.Equal(t, "alice@example.com", result.Key.CustomerEmail)
	assert.Equal(t, StatusValid, result.License.Status)
	assert.Equal(t, 3, result.License.SeatLimit)
	require.NotNil(t, result.License.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(ValidityWindow), *result.License.ExpiresAt, time.Minute)
	assert.True(t, env.emitter.has(EventLicenseProvisioned))
}

func TestProvision_KeyReusedAcrossProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.brands.CreateProduct(ctx, &brand.Product{
		ID: "prod_2", BrandID: env.brand.ID,
		Name: "Video Editor", Slug: "video-editor",
		DefaultSeats: 5, CreatedAt: time.Now(),
	}))

	first, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)
	second, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "video-editor")
	require.NoError(t, err)

	assert.True(t, first.KeyCreated)
	assert.False(t, second.KeyCreated)
	assert.Equal(t, first.Key.Key, second.Key.Key)
	assert.Equal(t, 5, second.License.SeatLimit)
}

func TestProvision_DuplicateCreatesSecondLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Provision(ctx, env.brand, "bob@example.com", "photo-editor")
	require.NoError(t, err)
	second, err := env.svc.Provision(ctx, env.brand, "bob@example.com", "photo-editor")
	require.NoError(t, err)

	// Provisioning is intentionally not deduplicated per (key, product).
	assert.NotEqual(t, first.License.ID, second.License.ID)
	assert.Equal(t, first.Key.Key, second.Key.Key)

	details, err := env.store.DetailsForKey(ctx, env.brand.ID, first.Key.Key)
	require.NoError(t, err)
	assert.Len(t, details, 2)
}

func TestProvision_UnknownProduct(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Provision(context.Background(), env.brand, "alice@example.com", "no-such-product")
	assert.ErrorIs(t, err, brand.ErrProductNotFound)
}

func TestActivate_NewInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	act, err := env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	require.NoError(t, err)
	assert.Equal(t, result.License.ID, act.LicenseID)
	assert.Equal(t, "machine-1", act.InstanceID)

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, 1, view.ActiveSeats)
	assert.Equal(t, 2, view.RemainingSeats)
	assert.True(t, env.emitter.has(EventLicenseActivated))
}

func TestActivate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	first, err := env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	require.NoError(t, err)
	second, err := env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	require.NoError(t, err)

	// Repeat activation returns the existing seat, not a new one.
	assert.Equal(t, first.ID, second.ID)

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, 1, view.ActiveSeats)
}

func TestActivate_SeatLimitReached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	for i, instance := range []string{"machine-1", "machine-2", "machine-3"} {
		_, err := env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", instance)
		require.NoError(t, err, "activation %d should succeed", i+1)
	}

	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-4")
	assert.ErrorIs(t, err, ErrSeatLimitReached)
	assert.True(t, env.emitter.has(EventSeatDenied))

	// The rejected activation must leave no trace.
	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, 3, view.ActiveSeats)
	assert.Equal(t, 0, view.RemainingSeats)

	// A seat holder can still re-activate after the cap is hit.
	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-2")
	assert.NoError(t, err)
}

func TestActivate_SuspendedAndCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	require.NoError(t, env.svc.SetStatus(ctx, result.License.ID, StatusSuspended))
	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	assert.ErrorIs(t, err, ErrNotActive)

	require.NoError(t, env.svc.SetStatus(ctx, result.License.ID, StatusCancelled))
	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	assert.ErrorIs(t, err, ErrNotActive)

	// Reinstating restores activation.
	require.NoError(t, env.svc.SetStatus(ctx, result.License.ID, StatusValid))
	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	assert.NoError(t, err)
}

func TestActivate_ExpiredLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	// Move the clock past the validity window.
	env.svc.WithClock(func() time.Time { return time.Now().Add(ValidityWindow + time.Hour) })

	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	assert.ErrorIs(t, err, ErrExpired)

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, StatusValid, view.Status)
	assert.False(t, view.IsValid)
}

func TestActivate_UnknownKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Activate(context.Background(), env.brand, "no-such-key", "photo-editor", "machine-1")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestActivate_OtherBrandKeyInvisible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other := &brand.Brand{ID: "brand_2", Name: "Globex Tools", CreatedAt: time.Now()}
	require.NoError(t, env.brands.CreateBrand(ctx, other))
	require.NoError(t, env.brands.CreateProduct(ctx, &brand.Product{
		ID: "prod_g1", BrandID: other.ID,
		Name: "Photo Editor", Slug: "photo-editor",
		DefaultSeats: 3, CreatedAt: time.Now(),
	}))

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	// A key issued by one brand must not resolve under another.
	_, err = env.svc.Activate(ctx, other, result.Key.Key, "photo-editor", "machine-1")
	assert.ErrorIs(t, err, ErrLicenseNotFound)

	_, err = env.svc.Status(ctx, other, result.Key.Key, "")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestStatus_ByKeyAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "")
	require.NoError(t, err)
	assert.Equal(t, "Photo Editor", view.ProductName)
	assert.True(t, view.IsValid)
}

func TestStatus_ByKeyAlone_Ambiguous(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.brands.CreateProduct(ctx, &brand.Product{
		ID: "prod_2", BrandID: env.brand.ID,
		Name: "Video Editor", Slug: "video-editor",
		DefaultSeats: 5, CreatedAt: time.Now(),
	}))

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)
	_, err = env.svc.Provision(ctx, env.brand, "alice@example.com", "video-editor")
	require.NoError(t, err)

	// Key alone no longer identifies one license.
	_, err = env.svc.Status(ctx, env.brand, result.Key.Key, "")
	assert.ErrorIs(t, err, ErrAmbiguousKey)

	// Naming the product disambiguates.
	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "video-editor")
	require.NoError(t, err)
	assert.Equal(t, "Video Editor", view.ProductName)
}

func TestStatus_SuspendedNotValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)
	require.NoError(t, env.svc.SetStatus(ctx, result.License.ID, StatusSuspended))

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, view.Status)
	assert.False(t, view.IsValid)
}

func TestSetStatus_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.svc.SetStatus(ctx, "lic_x", Status("banana"))
	assert.Error(t, err)

	err = env.svc.SetStatus(ctx, "lic_missing", StatusSuspended)
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestListByEmail_AcrossBrands(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other := &brand.Brand{ID: "brand_2", Name: "Globex Tools", CreatedAt: time.Now()}
	require.NoError(t, env.brands.CreateBrand(ctx, other))
	require.NoError(t, env.brands.CreateProduct(ctx, &brand.Product{
		ID: "prod_g1", BrandID: other.ID,
		Name: "CAD Studio", Slug: "cad-studio",
		DefaultSeats: 2, CreatedAt: time.Now(),
	}))

	_, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)
	_, err = env.svc.Provision(ctx, other, "alice@example.com", "cad-studio")
	require.NoError(t, err)
	_, err = env.svc.Provision(ctx, env.brand, "someone-else@example.com", "photo-editor")
	require.NoError(t, err)

	licenses, err := env.svc.ListByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, licenses, 2)

	names := []string{licenses[0].BrandName, licenses[1].BrandName}
	assert.Contains(t, names, "Acme Software")
	assert.Contains(t, names, "Globex Tools")
}

func TestBrandDelete_Cascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)
	_, err = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "machine-1")
	require.NoError(t, err)

	require.NoError(t, env.brands.DeleteBrand(ctx, env.brand.ID))

	_, err = env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	assert.ErrorIs(t, err, ErrLicenseNotFound)

	licenses, err := env.svc.ListByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, licenses)
}

func TestConcurrentActivations_SeatCapHolds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			instance := fmt.Sprintf("machine-%d", n)
			_, errs[n] = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", instance)
		}(i)
	}
	wg.Wait()

	succeeded, denied := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSeatLimitReached):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, denied)

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, 3, view.ActiveSeats)
}

func TestConcurrentActivations_SameInstanceOneSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = env.svc.Activate(ctx, env.brand, result.Key.Key, "photo-editor", "shared-machine")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	view, err := env.svc.Status(ctx, env.brand, result.Key.Key, "photo-editor")
	require.NoError(t, err)
	assert.Equal(t, 1, view.ActiveSeats)
}
