package license

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/licentia/internal/brand"
)

// MemoryStore is an in-memory license store for demo/development.
//
// WithinTx holds one big lock for the duration of the transaction, which
// trivially gives the serializable behavior the Store contract asks for.
// Writes are staged and only applied on commit, so a failing transaction
// leaves no trace, matching the Postgres store.
type MemoryStore struct {
	mu     sync.Mutex
	brands *brand.MemoryStore

	keys        map[string]*LicenseKey // by ID
	keyByString map[string]string      // key string → ID
	keyByScope  map[string]string      // brandID+"/"+email → ID
	licenses    map[string]*License    // by ID
	activations map[string]*Activation // by ID
	actByScope  map[string]string      // licenseID+"/"+instanceID → ID
}

// NewMemoryStore creates a new in-memory license store backed by the given
// brand directory. Deleting a brand cascades into keys, licenses, and
// activations, mirroring the schema's ON DELETE CASCADE.
func NewMemoryStore(brands *brand.MemoryStore) *MemoryStore {
	m := &MemoryStore{
		brands:      brands,
		keys:        make(map[string]*LicenseKey),
		keyByString: make(map[string]string),
		keyByScope:  make(map[string]string),
		licenses:    make(map[string]*License),
		activations: make(map[string]*Activation),
		actByScope:  make(map[string]string),
	}
	brands.OnBrandDelete(m.cascadeBrandDelete)
	return m
}

func (m *MemoryStore) cascadeBrandDelete(brandID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, k := range m.keys {
		if k.BrandID != brandID {
			continue
		}
		for lid, l := range m.licenses {
			if l.KeyID != id {
				continue
			}
			for aid, a := range m.activations {
				if a.LicenseID == lid {
					delete(m.activations, aid)
					delete(m.actByScope, a.LicenseID+"/"+a.InstanceID)
				}
			}
			delete(m.licenses, lid)
		}
		delete(m.keys, id)
		delete(m.keyByString, k.Key)
		delete(m.keyByScope, k.BrandID+"/"+k.CustomerEmail)
	}
}

func (m *MemoryStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages writes against a MemoryStore; commit applies them.
// The store lock is held for the whole transaction.
type memTx struct {
	store       *MemoryStore
	newKeys     []*LicenseKey
	newLicenses []*License
	newActs     map[string]*Activation // by ID
}

func (t *memTx) GetOrCreateKey(_ context.Context, key *LicenseKey) (*LicenseKey, bool, error) {
	scope := key.BrandID + "/" + key.CustomerEmail
	if id, ok := t.store.keyByScope[scope]; ok {
		cp := *t.store.keys[id]
		return &cp, false, nil
	}
	for _, k := range t.newKeys {
		if k.BrandID == key.BrandID && k.CustomerEmail == key.CustomerEmail {
			cp := *k
			return &cp, false, nil
		}
	}
	cp := *key
	t.newKeys = append(t.newKeys, &cp)
	out := cp
	return &out, true, nil
}

func (t *memTx) GetProduct(ctx context.Context, brandID, slug string) (*brand.Product, error) {
	return t.store.brands.GetProduct(ctx, brandID, slug)
}

func (t *memTx) CreateLicense(_ context.Context, l *License) error {
	cp := *l
	t.newLicenses = append(t.newLicenses, &cp)
	return nil
}

func (t *memTx) LockLicense(_ context.Context, brandID, keyString, productSlug string) (*License, error) {
	keyID, ok := t.store.keyByString[keyString]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	if t.store.keys[keyID].BrandID != brandID {
		return nil, ErrLicenseNotFound
	}

	var matches []*License
	for _, l := range t.store.licenses {
		if l.KeyID != keyID {
			continue
		}
		if p, ok := t.store.brands.ProductByID(l.ProductID); ok && p.Slug == productSlug {
			matches = append(matches, l)
		}
	}
	if len(matches) == 0 {
		return nil, ErrLicenseNotFound
	}
	// Duplicate provisioning: bind to the earliest license, like the SQL path.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	cp := *matches[0]
	return &cp, nil
}

func (t *memTx) GetOrCreateActivation(_ context.Context, a *Activation) (*Activation, bool, error) {
	scope := a.LicenseID + "/" + a.InstanceID
	if id, ok := t.store.actByScope[scope]; ok {
		cp := *t.store.activations[id]
		return &cp, false, nil
	}
	for _, staged := range t.newActs {
		if staged.LicenseID == a.LicenseID && staged.InstanceID == a.InstanceID {
			cp := *staged
			return &cp, false, nil
		}
	}
	if t.newActs == nil {
		t.newActs = make(map[string]*Activation)
	}
	cp := *a
	t.newActs[a.ID] = &cp
	out := cp
	return &out, true, nil
}

func (t *memTx) CountActivations(_ context.Context, licenseID string) (int, error) {
	count := 0
	for _, a := range t.store.activations {
		if a.LicenseID == licenseID {
			count++
		}
	}
	for _, a := range t.newActs {
		if a.LicenseID == licenseID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) DeleteActivation(_ context.Context, id string) error {
	if _, ok := t.newActs[id]; ok {
		delete(t.newActs, id)
		return nil
	}
	if a, ok := t.store.activations[id]; ok {
		delete(t.store.activations, id)
		delete(t.store.actByScope, a.LicenseID+"/"+a.InstanceID)
	}
	return nil
}

func (t *memTx) commit() {
	for _, k := range t.newKeys {
		t.store.keys[k.ID] = k
		t.store.keyByString[k.Key] = k.ID
		t.store.keyByScope[k.BrandID+"/"+k.CustomerEmail] = k.ID
	}
	for _, l := range t.newLicenses {
		t.store.licenses[l.ID] = l
	}
	for _, a := range t.newActs {
		t.store.activations[a.ID] = a
		t.store.actByScope[a.LicenseID+"/"+a.InstanceID] = a.ID
	}
}

var _ Tx = (*memTx)(nil)

// ---------- read side ----------

func (m *MemoryStore) GetDetail(_ context.Context, brandID, keyString, productSlug string) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	details := m.detailsForKeyLocked(brandID, keyString)
	for _, d := range details {
		if d.ProductSlug == productSlug {
			return d, nil
		}
	}
	return nil, ErrLicenseNotFound
}

func (m *MemoryStore) DetailsForKey(_ context.Context, brandID, keyString string) ([]*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.detailsForKeyLocked(brandID, keyString), nil
}

func (m *MemoryStore) detailsForKeyLocked(brandID, keyString string) []*Detail {
	keyID, ok := m.keyByString[keyString]
	if !ok {
		return nil
	}
	key := m.keys[keyID]
	if key.BrandID != brandID {
		return nil
	}

	var details []*Detail
	for _, l := range m.licenses {
		if l.KeyID != keyID {
			continue
		}
		details = append(details, m.detailLocked(l, key))
	}
	sortDetails(details)
	return details
}

func (m *MemoryStore) detailLocked(l *License, key *LicenseKey) *Detail {
	cp := *l
	d := &Detail{License: &cp, KeyString: key.Key, BrandID: key.BrandID}
	if b, err := m.brands.GetBrand(context.Background(), key.BrandID); err == nil {
		d.BrandName = b.Name
	}
	if p, ok := m.brands.ProductByID(l.ProductID); ok {
		d.ProductName = p.Name
		d.ProductSlug = p.Slug
	}
	return d
}

func (m *MemoryStore) CountActivations(_ context.Context, licenseID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, a := range m.activations {
		if a.LicenseID == licenseID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, licenseID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[licenseID]
	if !ok {
		return ErrLicenseNotFound
	}
	l.Status = status
	return nil
}

func (m *MemoryStore) ListByEmail(_ context.Context, email string) ([]*CustomerLicense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var details []*Detail
	for _, key := range m.keys {
		if key.CustomerEmail != email {
			continue
		}
		for _, l := range m.licenses {
			if l.KeyID == key.ID {
				details = append(details, m.detailLocked(l, key))
			}
		}
	}
	sortDetails(details)

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

func sortDetails(details []*Detail) {
	sort.Slice(details, func(i, j int) bool {
		a, b := details[i], details[j]
		if a.BrandName != b.BrandName {
			return a.BrandName < b.BrandName
		}
		if a.ProductSlug != b.ProductSlug {
			return a.ProductSlug < b.ProductSlug
		}
		return a.License.CreatedAt.Before(b.License.CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
