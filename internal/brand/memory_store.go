package brand

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory brand store for demo/development.
type MemoryStore struct {
	mu       sync.RWMutex
	brands   map[string]*Brand   // by ID
	names    map[string]string   // name → ID
	products map[string]*Product // by ID
	// slugs maps brandID+"/"+slug → product ID
	slugs map[string]string

	// onBrandDelete lets the license memory store hook into the cascade.
	onBrandDelete []func(brandID string)
}

// NewMemoryStore creates a new in-memory brand store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		brands:   make(map[string]*Brand),
		names:    make(map[string]string),
		products: make(map[string]*Product),
		slugs:    make(map[string]string),
	}
}

// OnBrandDelete registers a cascade hook invoked after a brand is removed.
func (m *MemoryStore) OnBrandDelete(fn func(brandID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBrandDelete = append(m.onBrandDelete, fn)
}

func (m *MemoryStore) CreateBrand(_ context.Context, b *Brand) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.names[b.Name]; exists {
		return ErrNameTaken
	}

	cp := *b
	m.brands[b.ID] = &cp
	m.names[b.Name] = b.ID
	return nil
}

func (m *MemoryStore) GetBrand(_ context.Context, id string) (*Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.brands[id]
	if !ok {
		return nil, ErrBrandNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) GetBrandByName(_ context.Context, name string) (*Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.names[name]
	if !ok {
		return nil, ErrBrandNotFound
	}
	cp := *m.brands[id]
	return &cp, nil
}

func (m *MemoryStore) DeleteBrand(_ context.Context, id string) error {
	m.mu.Lock()
	b, ok := m.brands[id]
	if !ok {
		m.mu.Unlock()
		return ErrBrandNotFound
	}
	delete(m.brands, id)
	delete(m.names, b.Name)
	for pid, prod := range m.products {
		if prod.BrandID == id {
			delete(m.products, pid)
			delete(m.slugs, prod.BrandID+"/"+prod.Slug)
		}
	}
	hooks := m.onBrandDelete
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.brands[p.BrandID]; !ok {
		return ErrBrandNotFound
	}
	key := p.BrandID + "/" + p.Slug
	if _, exists := m.slugs[key]; exists {
		return ErrSlugTaken
	}

	cp := *p
	m.products[p.ID] = &cp
	m.slugs[key] = p.ID
	return nil
}

func (m *MemoryStore) GetProduct(_ context.Context, brandID, slug string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[brandID+"/"+slug]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *m.products[id]
	return &cp, nil
}

// ProductByID looks a product up by primary key (used by the in-memory
// license store, which stores product references the way the schema does).
func (m *MemoryStore) ProductByID(id string) (*Product, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (m *MemoryStore) ListProducts(_ context.Context, brandID string) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var products []*Product
	for _, p := range m.products {
		if p.BrandID == brandID {
			cp := *p
			products = append(products, &cp)
		}
	}
	return products, nil
}

var _ Store = (*MemoryStore)(nil)
