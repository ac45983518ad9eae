package matching

import (
	"context"
	"fmt"

	"kpc/config"
	"kpc/logger"
	"kpc/models"
)

// DefaultThreshold is the minimum score a mapping is persisted at
const DefaultThreshold = 0.7

// Scorer rates a listing name against a canonical product in [0,1]
type Scorer interface {
	Score(name string, product *models.Product) float64
	Name() string
}

// NewScorer builds the configured scoring formulation
func NewScorer(cfg config.MatchingConfig) (Scorer, error) {
	switch cfg.Formulation {
	case "", "weighted":
		return NewWeightedScorer(cfg.Weights), nil
	case "fuzzy":
		return NewFuzzyScorer(), nil
	default:
		return nil, fmt.Errorf("unknown matching formulation: %s", cfg.Formulation)
	}
}

// Store is the persistence the engine reads candidates from and writes mappings to
type Store interface {
	ListStoreItems(ctx context.Context) ([]models.StoreItem, error)
	ListProducts(ctx context.Context, limit int) ([]models.Product, error)
	MappingExists(ctx context.Context, productID, storeItemID int64) (bool, error)
	CreateMapping(ctx context.Context, m *models.Mapping) (bool, error)
}

// Result summarises one matching pass
type Result struct {
	Items    int
	Products int
	Scored   int
	Created  int
}

// Engine maintains mappings between store items and canonical products.
// Mappings are only ever added: a pair whose score later drops below the
// threshold keeps its row.
type Engine struct {
	scorer    Scorer
	threshold float64
	logger    *logger.Logger
}

// NewEngine creates a matching engine
func NewEngine(scorer Scorer, threshold float64, log *logger.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{scorer: scorer, threshold: threshold, logger: log}
}

// Threshold returns the minimum persisted score
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Score rates a single pair with the configured formulation
func (e *Engine) Score(name string, product *models.Product) float64 {
	return e.scorer.Score(name, product)
}

// Run scores every store item against every product and creates the missing
// mappings that reach the threshold
func (e *Engine) Run(ctx context.Context, st Store) (Result, error) {
	items, err := st.ListStoreItems(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list store items: %w", err)
	}
	products, err := st.ListProducts(ctx, 0)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list products: %w", err)
	}

	res := Result{Items: len(items), Products: len(products)}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := &items[i]
		for j := range products {
			product := &products[j]
			score := e.scorer.Score(item.RawName, product)
			res.Scored++
			if score < e.threshold {
				continue
			}

			exists, err := st.MappingExists(ctx, product.ID, item.ID)
			if err != nil {
				return res, fmt.Errorf("failed to check mapping: %w", err)
			}
			if exists {
				continue
			}

			created, err := st.CreateMapping(ctx, &models.Mapping{
				ProductID:   product.ID,
				StoreItemID: item.ID,
				MatchScore:  score,
			})
			if err != nil {
				return res, fmt.Errorf("failed to create mapping: %w", err)
			}
			if created {
				res.Created++
				e.logger.Debug("Mapping created",
					"product", product.CanonicalName,
					"item", item.RawName,
					"score", score,
				)
			}
		}
	}

	e.logger.Info("Matching pass finished",
		"formulation", e.scorer.Name(),
		"items", res.Items,
		"products", res.Products,
		"created", res.Created,
	)
	return res, nil
}
