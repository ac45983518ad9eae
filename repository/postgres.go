package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"kpc/logger"
	"kpc/models"
)

var (
	storeColumns     = []string{"id", "name", "slug", "city"}
	productColumns   = []string{"id", "canonical_name", "category", "unit", "brand", "size_ml_g", "fat_pct"}
	storeItemColumns = []string{"id", "store_id", "external_id", "raw_name", "raw_size", "url", "brand", "category", "category_norm", "fat_pct"}
	priceColumns     = []string{"id", "store_item_id", "store_id", "price_eur", "unit_price", "currency", "collected_at", "promo_flag", "promo_valid_from", "promo_valid_to"}
	mappingColumns   = []string{"id", "product_id", "store_item_id", "match_score", "created_at"}
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// PostgresStore implements Store on Postgres
type PostgresStore struct {
	db     *sqlx.DB
	q      queryer
	inTx   bool
	logger *logger.Logger
}

// NewPostgresStore creates a Postgres-backed store
func NewPostgresStore(db *sqlx.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, q: db, logger: log}
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *PostgresStore) get(ctx context.Context, dest any, sb *sqlbuilder.SelectBuilder) error {
	query, args := sb.Build()
	err := s.q.GetContext(ctx, dest, query, args...)
	if notFound(err) {
		return models.ErrNotFound
	}
	return err
}

// EnsureStore returns the store with the given slug, creating it if missing
func (s *PostgresStore) EnsureStore(ctx context.Context, store *models.Store) (*models.Store, error) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("stores").
		Cols("name", "slug", "city").
		Values(store.Name, store.Slug, store.City)
	query, args := ib.Build()
	query += " ON CONFLICT (slug) DO UPDATE SET city = EXCLUDED.city RETURNING " + strings.Join(storeColumns, ", ")

	var out models.Store
	if err := s.q.GetContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to ensure store %s: %w", store.Slug, err)
	}
	return &out, nil
}

// EnsureProduct returns the product with the given canonical name, creating it if missing
func (s *PostgresStore) EnsureProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("products").
		Cols("canonical_name", "category", "unit", "brand", "size_ml_g", "fat_pct").
		Values(product.CanonicalName, product.Category, product.Unit, product.Brand, product.SizeMlG, product.FatPct)
	query, args := ib.Build()
	query += " ON CONFLICT (canonical_name) DO NOTHING"

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to ensure product %s: %w", product.CanonicalName, err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(productColumns...).From("products").Where(sb.Equal("canonical_name", product.CanonicalName))

	var out models.Product
	if err := s.get(ctx, &out, sb); err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", product.CanonicalName, err)
	}
	return &out, nil
}

// GetProduct returns a product by id
func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(productColumns...).From("products").Where(sb.Equal("id", id))

	var out models.Product
	if err := s.get(ctx, &out, sb); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProducts returns products ordered by name
func (s *PostgresStore) ListProducts(ctx context.Context, limit int) ([]models.Product, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(productColumns...).From("products").OrderBy("canonical_name").Asc()
	if limit > 0 {
		sb.Limit(limit)
	}
	return s.selectProducts(ctx, sb)
}

// SearchProducts returns products whose name contains q, case-insensitively
func (s *PostgresStore) SearchProducts(ctx context.Context, q string, limit int) ([]models.Product, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(productColumns...).
		From("products").
		Where(sb.Like("LOWER(canonical_name)", "%"+strings.ToLower(q)+"%")).
		OrderBy("canonical_name").Asc()
	if limit > 0 {
		sb.Limit(limit)
	}
	return s.selectProducts(ctx, sb)
}

// PopularProducts orders products by the number of mapped price rows collected since
func (s *PostgresStore) PopularProducts(ctx context.Context, since time.Time, limit, minRows int) ([]models.Product, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cols := make([]string, len(productColumns))
	for i, c := range productColumns {
		cols[i] = "p." + c
	}
	sb.Select(cols...).
		From("products p").
		Join("mappings m", "m.product_id = p.id").
		Join("prices pr", "pr.store_item_id = m.store_item_id").
		Where(sb.GreaterEqualThan("pr.collected_at", since)).
		GroupBy(cols...).
		Having(sb.GreaterEqualThan("COUNT(pr.id)", minRows)).
		OrderBy("COUNT(pr.id) DESC", "p.canonical_name ASC")
	if limit > 0 {
		sb.Limit(limit)
	}
	return s.selectProducts(ctx, sb)
}

func (s *PostgresStore) selectProducts(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Product, error) {
	query, args := sb.Build()
	var out []models.Product
	if err := s.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return out, nil
}

// FindStoreItemByExternalID looks an item up by its chain-specific id
func (s *PostgresStore) FindStoreItemByExternalID(ctx context.Context, storeID int64, externalID string) (*models.StoreItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(storeItemColumns...).
		From("store_items").
		Where(sb.Equal("store_id", storeID), sb.Equal("external_id", externalID)).
		Limit(1)

	var out models.StoreItem
	if err := s.get(ctx, &out, sb); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindStoreItemByName looks an item up by its raw listing name
func (s *PostgresStore) FindStoreItemByName(ctx context.Context, storeID int64, rawName string) (*models.StoreItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(storeItemColumns...).
		From("store_items").
		Where(sb.Equal("store_id", storeID), sb.Equal("raw_name", rawName)).
		OrderBy("id").Asc().
		Limit(1)

	var out models.StoreItem
	if err := s.get(ctx, &out, sb); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateStoreItem inserts an item and sets its id
func (s *PostgresStore) CreateStoreItem(ctx context.Context, item *models.StoreItem) error {
	if err := item.CheckWidths(); err != nil {
		return err
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("store_items").
		Cols("store_id", "external_id", "raw_name", "raw_size", "url", "brand", "category", "category_norm", "fat_pct").
		Values(item.StoreID, item.ExternalID, item.RawName, item.RawSize, item.URL, item.Brand, item.Category, item.CategoryNorm, item.FatPct).
		Returning("id")
	query, args := ib.Build()

	if err := s.q.GetContext(ctx, &item.ID, query, args...); err != nil {
		return fmt.Errorf("failed to create store item: %w", err)
	}
	return nil
}

// UpdateStoreItem writes every mutable column of an item
func (s *PostgresStore) UpdateStoreItem(ctx context.Context, item *models.StoreItem) error {
	if err := item.CheckWidths(); err != nil {
		return err
	}
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("store_items").
		Set(
			ub.Assign("external_id", item.ExternalID),
			ub.Assign("raw_size", item.RawSize),
			ub.Assign("url", item.URL),
			ub.Assign("brand", item.Brand),
			ub.Assign("category", item.Category),
			ub.Assign("category_norm", item.CategoryNorm),
			ub.Assign("fat_pct", item.FatPct),
		).
		Where(ub.Equal("id", item.ID))
	query, args := ub.Build()

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update store item %d: %w", item.ID, err)
	}
	return nil
}

// ListStoreItems returns every store item
func (s *PostgresStore) ListStoreItems(ctx context.Context) ([]models.StoreItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(storeItemColumns...).From("store_items").OrderBy("id").Asc()
	query, args := sb.Build()

	var out []models.StoreItem
	if err := s.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list store items: %w", err)
	}
	return out, nil
}

// FindPriceOnDay returns the latest price of an item collected on the day of day
func (s *PostgresStore) FindPriceOnDay(ctx context.Context, storeItemID int64, day time.Time) (*models.Price, error) {
	start, end := dayBounds(day)
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(priceColumns...).
		From("prices").
		Where(
			sb.Equal("store_item_id", storeItemID),
			sb.GreaterEqualThan("collected_at", start),
			sb.LessThan("collected_at", end),
		).
		OrderBy("collected_at").Desc().
		Limit(1)

	var out models.Price
	if err := s.get(ctx, &out, sb); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePrice inserts a price observation and sets its id
func (s *PostgresStore) CreatePrice(ctx context.Context, price *models.Price) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("prices").
		Cols("store_item_id", "store_id", "price_eur", "unit_price", "currency", "collected_at", "promo_flag", "promo_valid_from", "promo_valid_to").
		Values(price.StoreItemID, price.StoreID, price.PriceEUR, price.UnitPrice, price.Currency, price.CollectedAt, price.PromoFlag, price.PromoValidFrom, price.PromoValidTo).
		Returning("id")
	query, args := ib.Build()

	if err := s.q.GetContext(ctx, &price.ID, query, args...); err != nil {
		return fmt.Errorf("failed to create price: %w", err)
	}
	return nil
}

// UpdatePrice rewrites a price row in place
func (s *PostgresStore) UpdatePrice(ctx context.Context, price *models.Price) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("prices").
		Set(
			ub.Assign("price_eur", price.PriceEUR),
			ub.Assign("unit_price", price.UnitPrice),
			ub.Assign("currency", price.Currency),
			ub.Assign("collected_at", price.CollectedAt),
			ub.Assign("promo_flag", price.PromoFlag),
			ub.Assign("promo_valid_from", price.PromoValidFrom),
			ub.Assign("promo_valid_to", price.PromoValidTo),
		).
		Where(ub.Equal("id", price.ID))
	query, args := ub.Build()

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update price %d: %w", price.ID, err)
	}
	return nil
}

// MappingExists reports whether a (product, item) mapping is stored
func (s *PostgresStore) MappingExists(ctx context.Context, productID, storeItemID int64) (bool, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)").
		From("mappings").
		Where(sb.Equal("product_id", productID), sb.Equal("store_item_id", storeItemID))
	query, args := sb.Build()

	var n int
	if err := s.q.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("failed to check mapping: %w", err)
	}
	return n > 0, nil
}

// CreateMapping inserts a mapping unless the pair already exists
func (s *PostgresStore) CreateMapping(ctx context.Context, mapping *models.Mapping) (bool, error) {
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now().UTC()
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("mappings").
		Cols("product_id", "store_item_id", "match_score", "created_at").
		Values(mapping.ProductID, mapping.StoreItemID, mapping.MatchScore, mapping.CreatedAt)
	query, args := ib.Build()
	query += " ON CONFLICT (product_id, store_item_id) DO NOTHING RETURNING id"

	err := s.q.GetContext(ctx, &mapping.ID, query, args...)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create mapping: %w", err)
	}
	return true, nil
}

// ListMappings returns every mapping
func (s *PostgresStore) ListMappings(ctx context.Context) ([]models.Mapping, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(mappingColumns...).From("mappings").OrderBy("id").Asc()
	query, args := sb.Build()

	var out []models.Mapping
	if err := s.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return out, nil
}

// RecentOffers returns every price collected since, joined with its item and store
func (s *PostgresStore) RecentOffers(ctx context.Context, since time.Time) ([]models.OfferRow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"pr.id AS price_id",
		"pr.store_item_id",
		"pr.store_id",
		"st.name AS store_name",
		"si.raw_name",
		"si.url",
		"si.fat_pct AS item_fat_pct",
		"pr.price_eur",
		"pr.unit_price",
		"pr.currency",
		"pr.collected_at",
		"pr.promo_flag",
		"pr.promo_valid_from",
		"pr.promo_valid_to",
	).
		From("prices pr").
		Join("store_items si", "si.id = pr.store_item_id").
		Join("stores st", "st.id = pr.store_id").
		Where(sb.GreaterEqualThan("pr.collected_at", since)).
		OrderBy("pr.id").Asc()
	query, args := sb.Build()

	var out []models.OfferRow
	if err := s.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recent offers: %w", err)
	}
	return out, nil
}

// StoreCounts returns the number of price rows per store collected since
func (s *PostgresStore) StoreCounts(ctx context.Context, since time.Time) ([]models.StoreCount, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("st.name AS store", "COUNT(pr.id) AS n").
		From("prices pr").
		Join("store_items si", "si.id = pr.store_item_id").
		Join("stores st", "st.id = si.store_id").
		Where(sb.GreaterEqualThan("pr.collected_at", since)).
		GroupBy("st.id", "st.name").
		OrderBy("st.id").Asc()
	query, args := sb.Build()

	var out []models.StoreCount
	if err := s.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count prices per store: %w", err)
	}
	return out, nil
}

// WithTx runs fn inside one transaction. Nested calls join the outer transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStore := &PostgresStore{db: s.db, q: tx, inTx: true, logger: s.logger}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
