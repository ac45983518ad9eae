package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kpc/models"
)

// MemoryStore implements Store in process memory. It backs tests and
// database-less runs.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data memoryData
}

type memoryData struct {
	nextID   int64
	stores   []models.Store
	products []models.Product
	items    []models.StoreItem
	prices   []models.Price
	mappings []models.Mapping
}

func (d memoryData) clone() memoryData {
	return memoryData{
		nextID:   d.nextID,
		stores:   append([]models.Store(nil), d.stores...),
		products: append([]models.Product(nil), d.products...),
		items:    append([]models.StoreItem(nil), d.items...),
		prices:   append([]models.Price(nil), d.prices...),
		mappings: append([]models.Mapping(nil), d.mappings...),
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) id() int64 {
	m.data.nextID++
	return m.data.nextID
}

// EnsureStore returns the store with the given slug, creating it if missing
func (m *MemoryStore) EnsureStore(_ context.Context, store *models.Store) (*models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.stores {
		if m.data.stores[i].Slug == store.Slug {
			m.data.stores[i].City = store.City
			out := m.data.stores[i]
			return &out, nil
		}
	}
	out := *store
	out.ID = m.id()
	m.data.stores = append(m.data.stores, out)
	return &out, nil
}

// EnsureProduct returns the product with the given canonical name, creating it if missing
func (m *MemoryStore) EnsureProduct(_ context.Context, product *models.Product) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.data.products {
		if p.CanonicalName == product.CanonicalName {
			return &p, nil
		}
	}
	out := *product
	out.ID = m.id()
	m.data.products = append(m.data.products, out)
	return &out, nil
}

// GetProduct returns a product by id
func (m *MemoryStore) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.data.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

// ListProducts returns products ordered by name
func (m *MemoryStore) ListProducts(_ context.Context, limit int) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedProducts(m.data.products, limit), nil
}

// SearchProducts returns products whose name contains q, case-insensitively
func (m *MemoryStore) SearchProducts(_ context.Context, q string, limit int) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q = strings.ToLower(q)
	var hits []models.Product
	for _, p := range m.data.products {
		if strings.Contains(strings.ToLower(p.CanonicalName), q) {
			hits = append(hits, p)
		}
	}
	return sortedProducts(hits, limit), nil
}

func sortedProducts(in []models.Product, limit int) []models.Product {
	out := append([]models.Product(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CanonicalName < out[j].CanonicalName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PopularProducts orders products by the number of mapped price rows collected since
func (m *MemoryStore) PopularProducts(_ context.Context, since time.Time, limit, minRows int) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rowsPerItem := make(map[int64]int)
	for _, p := range m.data.prices {
		if !p.CollectedAt.Before(since) {
			rowsPerItem[p.StoreItemID]++
		}
	}
	counts := make(map[int64]int)
	for _, mp := range m.data.mappings {
		counts[mp.ProductID] += rowsPerItem[mp.StoreItemID]
	}

	var out []models.Product
	for _, p := range m.data.products {
		if n := counts[p.ID]; n > 0 && n >= minRows {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if counts[out[i].ID] != counts[out[j].ID] {
			return counts[out[i].ID] > counts[out[j].ID]
		}
		return out[i].CanonicalName < out[j].CanonicalName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindStoreItemByExternalID looks an item up by its chain-specific id
func (m *MemoryStore) FindStoreItemByExternalID(_ context.Context, storeID int64, externalID string) (*models.StoreItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if externalID == "" {
		return nil, models.ErrNotFound
	}
	for _, it := range m.data.items {
		if it.StoreID == storeID && models.Deref(it.ExternalID) == externalID {
			return &it, nil
		}
	}
	return nil, models.ErrNotFound
}

// FindStoreItemByName looks an item up by its raw listing name
func (m *MemoryStore) FindStoreItemByName(_ context.Context, storeID int64, rawName string) (*models.StoreItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.data.items {
		if it.StoreID == storeID && it.RawName == rawName {
			return &it, nil
		}
	}
	return nil, models.ErrNotFound
}

// CreateStoreItem inserts an item and sets its id
func (m *MemoryStore) CreateStoreItem(_ context.Context, item *models.StoreItem) error {
	if err := item.CheckWidths(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id()
	m.data.items = append(m.data.items, *item)
	return nil
}

// UpdateStoreItem writes every mutable field of an item
func (m *MemoryStore) UpdateStoreItem(_ context.Context, item *models.StoreItem) error {
	if err := item.CheckWidths(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.items {
		if m.data.items[i].ID == item.ID {
			m.data.items[i] = *item
			return nil
		}
	}
	return models.ErrNotFound
}

// ListStoreItems returns every store item
func (m *MemoryStore) ListStoreItems(_ context.Context) ([]models.StoreItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StoreItem(nil), m.data.items...), nil
}

// FindPriceOnDay returns the latest price of an item collected on the day of day
func (m *MemoryStore) FindPriceOnDay(_ context.Context, storeItemID int64, day time.Time) (*models.Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := dayBounds(day)
	var best *models.Price
	for i := range m.data.prices {
		p := m.data.prices[i]
		if p.StoreItemID != storeItemID || p.CollectedAt.Before(start) || !p.CollectedAt.Before(end) {
			continue
		}
		if best == nil || p.CollectedAt.After(best.CollectedAt) {
			best = &p
		}
	}
	if best == nil {
		return nil, models.ErrNotFound
	}
	return best, nil
}

// CreatePrice inserts a price observation and sets its id
func (m *MemoryStore) CreatePrice(_ context.Context, price *models.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	price.ID = m.id()
	m.data.prices = append(m.data.prices, *price)
	return nil
}

// UpdatePrice rewrites a price row in place
func (m *MemoryStore) UpdatePrice(_ context.Context, price *models.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.prices {
		if m.data.prices[i].ID == price.ID {
			m.data.prices[i] = *price
			return nil
		}
	}
	return models.ErrNotFound
}

// Prices returns every price row of an item, oldest first
func (m *MemoryStore) Prices(storeItemID int64) []models.Price {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Price
	for _, p := range m.data.prices {
		if p.StoreItemID == storeItemID {
			out = append(out, p)
		}
	}
	return out
}

// MappingExists reports whether a (product, item) mapping is stored
func (m *MemoryStore) MappingExists(_ context.Context, productID, storeItemID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasMapping(productID, storeItemID), nil
}

func (m *MemoryStore) hasMapping(productID, storeItemID int64) bool {
	for _, mp := range m.data.mappings {
		if mp.ProductID == productID && mp.StoreItemID == storeItemID {
			return true
		}
	}
	return false
}

// CreateMapping inserts a mapping unless the pair already exists
func (m *MemoryStore) CreateMapping(_ context.Context, mapping *models.Mapping) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasMapping(mapping.ProductID, mapping.StoreItemID) {
		return false, nil
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now().UTC()
	}
	mapping.ID = m.id()
	m.data.mappings = append(m.data.mappings, *mapping)
	return true, nil
}

// ListMappings returns every mapping
func (m *MemoryStore) ListMappings(_ context.Context) ([]models.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Mapping(nil), m.data.mappings...), nil
}

// RecentOffers returns every price collected since, joined with its item and store
func (m *MemoryStore) RecentOffers(_ context.Context, since time.Time) ([]models.OfferRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make(map[int64]models.StoreItem, len(m.data.items))
	for _, it := range m.data.items {
		items[it.ID] = it
	}
	stores := make(map[int64]string, len(m.data.stores))
	for _, st := range m.data.stores {
		stores[st.ID] = st.Name
	}

	var out []models.OfferRow
	for _, p := range m.data.prices {
		if p.CollectedAt.Before(since) {
			continue
		}
		it, ok := items[p.StoreItemID]
		if !ok {
			continue
		}
		out = append(out, models.OfferRow{
			PriceID:        p.ID,
			StoreItemID:    p.StoreItemID,
			StoreID:        p.StoreID,
			StoreName:      stores[p.StoreID],
			RawName:        it.RawName,
			URL:            it.URL,
			ItemFatPct:     it.FatPct,
			PriceEUR:       p.PriceEUR,
			UnitPrice:      p.UnitPrice,
			Currency:       p.Currency,
			CollectedAt:    p.CollectedAt,
			PromoFlag:      p.PromoFlag,
			PromoValidFrom: p.PromoValidFrom,
			PromoValidTo:   p.PromoValidTo,
		})
	}
	return out, nil
}

// StoreCounts returns the number of price rows per store collected since
func (m *MemoryStore) StoreCounts(_ context.Context, since time.Time) ([]models.StoreCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	itemStore := make(map[int64]int64, len(m.data.items))
	for _, it := range m.data.items {
		itemStore[it.ID] = it.StoreID
	}
	counts := make(map[int64]int)
	for _, p := range m.data.prices {
		if !p.CollectedAt.Before(since) {
			counts[itemStore[p.StoreItemID]]++
		}
	}

	var out []models.StoreCount
	for _, st := range m.data.stores {
		if n := counts[st.ID]; n > 0 {
			out = append(out, models.StoreCount{Store: st.Name, N: n})
		}
	}
	return out, nil
}

// WithTx runs fn and restores the previous state when it fails
func (m *MemoryStore) WithTx(_ context.Context, fn func(Store) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			m.restore(snapshot)
			panic(p)
		}
		if err != nil {
			m.restore(snapshot)
		}
	}()
	return fn(memoryTx{m})
}

// memoryTx joins the outer transaction on nested WithTx calls
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

func (m *MemoryStore) restore(d memoryData) {
	m.mu.Lock()
	m.data = d
	m.mu.Unlock()
}
