package repository

import (
	"context"
	"time"

	"kpc/models"
)

// Store is the persistence contract of the pipeline. Lookups that find nothing
// return models.ErrNotFound.
type Store interface {
	// EnsureStore returns the store with the given slug, creating it if missing
	EnsureStore(ctx context.Context, store *models.Store) (*models.Store, error)
	// EnsureProduct returns the product with the given canonical name, creating it if missing
	EnsureProduct(ctx context.Context, product *models.Product) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	// ListProducts returns products ordered by name; limit <= 0 means all
	ListProducts(ctx context.Context, limit int) ([]models.Product, error)
	SearchProducts(ctx context.Context, q string, limit int) ([]models.Product, error)
	// PopularProducts orders products by the number of mapped price rows collected since
	PopularProducts(ctx context.Context, since time.Time, limit, minRows int) ([]models.Product, error)

	FindStoreItemByExternalID(ctx context.Context, storeID int64, externalID string) (*models.StoreItem, error)
	FindStoreItemByName(ctx context.Context, storeID int64, rawName string) (*models.StoreItem, error)
	CreateStoreItem(ctx context.Context, item *models.StoreItem) error
	UpdateStoreItem(ctx context.Context, item *models.StoreItem) error
	ListStoreItems(ctx context.Context) ([]models.StoreItem, error)

	// FindPriceOnDay returns the latest price of an item collected on the calendar day of day
	FindPriceOnDay(ctx context.Context, storeItemID int64, day time.Time) (*models.Price, error)
	CreatePrice(ctx context.Context, price *models.Price) error
	UpdatePrice(ctx context.Context, price *models.Price) error

	MappingExists(ctx context.Context, productID, storeItemID int64) (bool, error)
	// CreateMapping inserts a mapping and reports false when the pair already exists
	CreateMapping(ctx context.Context, mapping *models.Mapping) (bool, error)
	ListMappings(ctx context.Context) ([]models.Mapping, error)

	// RecentOffers returns every price collected since, joined with its item and store
	RecentOffers(ctx context.Context, since time.Time) ([]models.OfferRow, error)
	StoreCounts(ctx context.Context, since time.Time) ([]models.StoreCount, error)

	// WithTx runs fn inside one transaction; an error from fn rolls it back
	WithTx(ctx context.Context, fn func(Store) error) error
}

// dayBounds returns the start of the calendar day of t and of the next day
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
