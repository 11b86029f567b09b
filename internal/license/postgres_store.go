package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/licentia/internal/brand"
)

// PostgresStore implements Store with PostgreSQL.
//
// All writes go through serializable transactions. The seat check relies on
// LockLicense taking a row lock on the license (FOR UPDATE), so concurrent
// activations of the same license serialize on insert-then-count and at most
// seat_limit rows ever commit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed license store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinTx runs fn inside one serializable transaction, committing on nil
// and rolling back on every other path. Serialization failures and deadlocks
// come back as ErrTxConflict so the service layer can retry.
func (p *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return translateConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return translateConflict(err)
	}
	return nil
}

// translateConflict maps Postgres serialization_failure (40001) and
// deadlock_detected (40P01) onto ErrTxConflict.
func translateConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "40001" || pqErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", ErrTxConflict, pqErr.Code)
	}
	return err
}

// pgTx adapts a sql.Tx to the Tx interface.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetOrCreateKey(ctx context.Context, key *LicenseKey) (*LicenseKey, bool, error) {
	// Atomic get-or-create on the (brand_id, customer_email) uniqueness
	// constraint; never read-then-write.
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO license_keys (id, brand_id, key, customer_email, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (brand_id, customer_email) DO NOTHING
		RETURNING id, brand_id, key, customer_email, created_at`,
		key.ID, key.BrandID, key.Key, key.CustomerEmail, key.CreatedAt,
	)

	created, err := scanKey(row)
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	// Insert hit the constraint: the key already exists.
	existing, err := scanKey(t.tx.QueryRowContext(ctx, `
		SELECT id, brand_id, key, customer_email, created_at
		FROM license_keys WHERE brand_id = $1 AND customer_email = $2`,
		key.BrandID, key.CustomerEmail,
	))
	if err == sql.ErrNoRows {
		// Concurrent transaction inserted and is not yet visible; let the
		// retry loop take another pass.
		return nil, false, ErrTxConflict
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (t *pgTx) GetProduct(ctx context.Context, brandID, slug string) (*brand.Product, error) {
	prod := &brand.Product{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, brand_id, name, slug, default_seats, created_at
		FROM products WHERE brand_id = $1 AND slug = $2`,
		brandID, slug,
	).Scan(&prod.ID, &prod.BrandID, &prod.Name, &prod.Slug, &prod.DefaultSeats, &prod.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, brand.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return prod, nil
}

func (t *pgTx) CreateLicense(ctx context.Context, l *License) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO licenses (id, key_id, product_id, status, expires_at, seat_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.KeyID, l.ProductID, string(l.Status), l.ExpiresAt, l.SeatLimit, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

func (t *pgTx) LockLicense(ctx context.Context, brandID, keyString, productSlug string) (*License, error) {
	// Duplicate provisioning can leave several licenses for the same
	// (key, product); activation binds to the earliest one deterministically.
	l := &License{}
	var status string
	err := t.tx.QueryRowContext(ctx, `
		SELECT l.id, l.key_id, l.product_id, l.status, l.expires_at, l.seat_limit, l.created_at
		FROM licenses l
		JOIN license_keys k ON k.id = l.key_id
		JOIN products p ON p.id = l.product_id
		WHERE k.brand_id = $1 AND k.key = $2 AND p.slug = $3
		ORDER BY l.created_at, l.id
		LIMIT 1
		FOR UPDATE OF l`,
		brandID, keyString, productSlug,
	).Scan(&l.ID, &l.KeyID, &l.ProductID, &status, &l.ExpiresAt, &l.SeatLimit, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Status = Status(status)
	return l, nil
}

func (t *pgTx) GetOrCreateActivation(ctx context.Context, a *Activation) (*Activation, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO activations (id, license_id, instance_id, activated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (license_id, instance_id) DO NOTHING
		RETURNING id, license_id, instance_id, activated_at`,
		a.ID, a.LicenseID, a.InstanceID, a.ActivatedAt,
	)

	created := &Activation{}
	err := row.Scan(&created.ID, &created.LicenseID, &created.InstanceID, &created.ActivatedAt)
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	existing := &Activation{}
	err = t.tx.QueryRowContext(ctx, `
		SELECT id, license_id, instance_id, activated_at
		FROM activations WHERE license_id = $1 AND instance_id = $2`,
		a.LicenseID, a.InstanceID,
	).Scan(&existing.ID, &existing.LicenseID, &existing.InstanceID, &existing.ActivatedAt)
	if err == sql.ErrNoRows {
		return nil, false, ErrTxConflict
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (t *pgTx) CountActivations(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activations WHERE license_id = $1`, licenseID).Scan(&count)
	return count, err
}

func (t *pgTx) DeleteActivation(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM activations WHERE id = $1`, id)
	return err
}

var _ Tx = (*pgTx)(nil)

// ---------- read side ----------

const detailColumns = `
	l.id, l.key_id, l.product_id, l.status, l.expires_at, l.seat_limit, l.created_at,
	k.key, b.id, b.name, p.name, p.slug`

const detailJoins = `
	FROM licenses l
	JOIN license_keys k ON k.id = l.key_id
	JOIN products p ON p.id = l.product_id
	JOIN brands b ON b.id = k.brand_id`

func (p *PostgresStore) GetDetail(ctx context.Context, brandID, keyString, productSlug string) (*Detail, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+detailColumns+detailJoins+`
		WHERE k.brand_id = $1 AND k.key = $2 AND p.slug = $3
		ORDER BY l.created_at, l.id
		LIMIT 1`, brandID, keyString, productSlug)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	details, err := scanDetails(rows)
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, ErrLicenseNotFound
	}
	return details[0], nil
}

func (p *PostgresStore) DetailsForKey(ctx context.Context, brandID, keyString string) ([]*Detail, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+detailColumns+detailJoins+`
		WHERE k.brand_id = $1 AND k.key = $2
		ORDER BY l.created_at, l.id`, brandID, keyString)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanDetails(rows)
}

func (p *PostgresStore) CountActivations(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activations WHERE license_id = $1`, licenseID).Scan(&count)
	return count, err
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, licenseID string, status Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE licenses SET status = $1 WHERE id = $2`, string(status), licenseID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

func (p *PostgresStore) ListByEmail(ctx context.Context, email string) ([]*CustomerLicense, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+detailColumns+detailJoins+`
		WHERE k.customer_email = $1
		ORDER BY b.name, p.slug, l.created_at`, email)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	details, err := scanDetails(rows)
	if err != nil {
		return nil, err
	}
	licenses := make([]*CustomerLicense, 0, len(details))
	for _, d := range details {
		licenses = append(licenses, &CustomerLicense{
			License:     d.License,
			BrandName:   d.BrandName,
			ProductName: d.ProductName,
			ProductSlug: d.ProductSlug,
			KeyString:   d.KeyString,
		})
	}
	return licenses, nil
}

func scanKey(row *sql.Row) (*LicenseKey, error) {
	k := &LicenseKey{}
	err := row.Scan(&k.ID, &k.BrandID, &k.Key, &k.CustomerEmail, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return k, nil
}

func scanDetails(rows *sql.Rows) ([]*Detail, error) {
	var details []*Detail
	for rows.Next() {
		l := &License{}
		d := &Detail{License: l}
		var status string
		if err := rows.Scan(
			&l.ID, &l.KeyID, &l.ProductID, &status, &l.ExpiresAt, &l.SeatLimit, &l.CreatedAt,
			&d.KeyString, &d.BrandID, &d.BrandName, &d.ProductName, &d.ProductSlug,
		); err != nil {
			return nil, err
		}
		l.Status = Status(status)
		details = append(details, d)
	}
	return details, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
