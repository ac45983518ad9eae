package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kpc/config"
	"kpc/logger"
)

// ErrMiss is returned when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache stores serialized comparison answers between ingestion cycles
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Flush drops every entry this cache owns
	Flush(ctx context.Context) error
	Close() error
}

// New builds the cache selected by configuration
func New(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(), nil
	case "redis":
		return NewRedisCache(ctx, cfg.RedisURL, log)
	}
	return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
}

// CompareKey is the key a product's comparison is cached under
func CompareKey(productID int64) string {
	return fmt.Sprintf("compare:%d", productID)
}
