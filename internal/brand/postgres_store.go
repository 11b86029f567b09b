package brand

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists brands and products in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed brand store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateBrand(ctx context.Context, b *Brand) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO brands (id, name, created_at)
		VALUES ($1, $2, $3)`,
		b.ID, b.Name, b.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetBrand(ctx context.Context, id string) (*Brand, error) {
	return p.scanBrand(p.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM brands WHERE id = $1`, id))
}

func (p *PostgresStore) GetBrandByName(ctx context.Context, name string) (*Brand, error) {
	return p.scanBrand(p.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM brands WHERE name = $1`, name))
}

// DeleteBrand removes a brand. Products, license keys, licenses, and
// activations are removed in the same statement via FK ON DELETE CASCADE;
// the schema owns the cascade, not application code.
func (p *PostgresStore) DeleteBrand(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM brands WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBrandNotFound
	}
	return nil
}

func (p *PostgresStore) CreateProduct(ctx context.Context, prod *Product) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO products (id, brand_id, name, slug, default_seats, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		prod.ID, prod.BrandID, prod.Name, prod.Slug, prod.DefaultSeats, prod.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505":
				return ErrSlugTaken
			case "23503":
				return ErrBrandNotFound
			}
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetProduct(ctx context.Context, brandID, slug string) (*Product, error) {
	return p.scanProduct(p.db.QueryRowContext(ctx, `
		SELECT id, brand_id, name, slug, default_seats, created_at
		FROM products WHERE brand_id = $1 AND slug = $2`, brandID, slug))
}

func (p *PostgresStore) ListProducts(ctx context.Context, brandID string) ([]*Product, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, brand_id, name, slug, default_seats, created_at
		FROM products WHERE brand_id = $1 ORDER BY slug`, brandID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []*Product
	for rows.Next() {
		prod := &Product{}
		if err := rows.Scan(&prod.ID, &prod.BrandID, &prod.Name, &prod.Slug,
			&prod.DefaultSeats, &prod.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, prod)
	}
	return products, rows.Err()
}

func (p *PostgresStore) scanBrand(row *sql.Row) (*Brand, error) {
	b := &Brand{}
	err := row.Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBrandNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) scanProduct(row *sql.Row) (*Product, error) {
	prod := &Product{}
	err := row.Scan(&prod.ID, &prod.BrandID, &prod.Name, &prod.Slug,
		&prod.DefaultSeats, &prod.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return prod, nil
}

var _ Store = (*PostgresStore)(nil)
