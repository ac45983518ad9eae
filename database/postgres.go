package database

import (
	"context"
	"fmt"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"kpc/config"
	"kpc/logger"
)

const (
	embeddedUser     = "kpc"
	embeddedPassword = "kpc"
	embeddedDatabase = "kpc"
)

// DB wraps sqlx.DB and keeps a reference to the embedded process if one was started
type DB struct {
	*sqlx.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	logger   *logger.Logger
}

// Connect opens the configured Postgres database, starting an embedded
// instance first when database.embedded is set
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres
	dsn := cfg.URL

	if cfg.Embedded {
		log.Info("Starting embedded PostgreSQL", "port", cfg.EmbeddedPort, "data_path", cfg.EmbeddedDataPath)
		embeddedCfg := embeddedpostgres.DefaultConfig().
			Port(cfg.EmbeddedPort).
			Username(embeddedUser).
			Password(embeddedPassword).
			Database(embeddedDatabase).
			StartTimeout(time.Minute)
		if cfg.EmbeddedDataPath != "" {
			embeddedCfg = embeddedCfg.DataPath(cfg.EmbeddedDataPath)
		}

		embedded = embeddedpostgres.NewDatabase(embeddedCfg)
		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}
		dsn = EmbeddedDSN(cfg.EmbeddedPort)
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)

	log.Info("Successfully connected to database", "embedded", cfg.Embedded)
	return &DB{DB: db, embedded: embedded, logger: log}, nil
}

// EmbeddedDSN is the connection string of an embedded instance on port
func EmbeddedDSN(port uint32) string {
	return fmt.Sprintf("host=localhost port=%d user=%s password=%s dbname=%s sslmode=disable",
		port, embeddedUser, embeddedPassword, embeddedDatabase)
}

// Close closes the connection pool and stops the embedded process
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.embedded != nil {
		db.logger.Info("Stopping embedded PostgreSQL")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// CreateTables creates the necessary tables if they don't exist
func CreateTables(ctx context.Context, db *sqlx.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(80) NOT NULL UNIQUE,
			slug VARCHAR(80) NOT NULL UNIQUE,
			city VARCHAR(80) NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			canonical_name VARCHAR(200) NOT NULL UNIQUE,
			category VARCHAR(80) NOT NULL,
			unit VARCHAR(8) NOT NULL,
			brand VARCHAR(80),
			size_ml_g INTEGER,
			fat_pct DOUBLE PRECISION,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS store_items (
			id BIGSERIAL PRIMARY KEY,
			store_id BIGINT NOT NULL REFERENCES stores(id),
			external_id VARCHAR(128),
			raw_name VARCHAR(300) NOT NULL,
			raw_size VARCHAR(80),
			url TEXT,
			brand VARCHAR(120),
			category VARCHAR(120),
			category_norm VARCHAR(80),
			fat_pct DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS prices (
			id BIGSERIAL PRIMARY KEY,
			store_item_id BIGINT NOT NULL REFERENCES store_items(id) ON DELETE CASCADE,
			store_id BIGINT NOT NULL REFERENCES stores(id),
			price_eur DOUBLE PRECISION NOT NULL,
			unit_price DOUBLE PRECISION,
			currency VARCHAR(8) NOT NULL DEFAULT '€',
			collected_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			promo_flag BOOLEAN NOT NULL DEFAULT FALSE,
			promo_valid_from TIMESTAMPTZ,
			promo_valid_to TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS mappings (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id),
			store_item_id BIGINT NOT NULL REFERENCES store_items(id) ON DELETE CASCADE,
			match_score DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (product_id, store_item_id)
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS ux_store_items_external ON store_items (store_id, external_id)
		WHERE external_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_store_items_name ON store_items (store_id, raw_name)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_item_collected ON prices (store_item_id, collected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_collected ON prices (collected_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}
