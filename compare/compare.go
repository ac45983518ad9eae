package compare

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kpc/logger"
	"kpc/models"
)

// DefaultRecentDays is how far back price rows are accepted
const DefaultRecentDays = 14

// Store is the read side the comparison runs on
type Store interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	RecentOffers(ctx context.Context, since time.Time) ([]models.OfferRow, error)
	ListMappings(ctx context.Context) ([]models.Mapping, error)
}

// Engine answers "cheapest current offer per store for product X"
type Engine struct {
	store      Store
	recentDays int
	now        func() time.Time
	logger     *logger.Logger
}

// NewEngine creates a comparison engine
func NewEngine(st Store, recentDays int, log *logger.Logger) *Engine {
	if recentDays <= 0 {
		recentDays = DefaultRecentDays
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{store: st, recentDays: recentDays, now: time.Now, logger: log}
}

// Since returns the oldest collection time a row may have to count as recent
func (e *Engine) Since() time.Time {
	return e.now().AddDate(0, 0, -e.recentDays)
}

// Compare returns the product with its best recent offer per store, ranked.
// An unknown product yields models.ErrNotFound; no offers yields an empty list.
func (e *Engine) Compare(ctx context.Context, productID int64) (*models.Comparison, error) {
	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	since := e.Since()
	rows, err := e.store.RecentOffers(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent offers: %w", err)
	}
	mappings, err := e.store.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}

	mappedHere := make(map[int64]bool)
	mappedAny := make(map[int64]bool)
	for _, m := range mappings {
		mappedAny[m.StoreItemID] = true
		if m.ProductID == product.ID {
			mappedHere[m.StoreItemID] = true
		}
	}

	eligible := func(r *models.OfferRow) bool {
		if mappedHere[r.StoreItemID] {
			return true
		}
		return !mappedAny[r.StoreItemID] && Heuristic(product, r.RawName, r.ItemFatPct)
	}

	var kept []models.OfferRow
	for _, r := range rows {
		if r.CollectedAt.Before(since) || !eligible(&r) {
			continue
		}
		kept = append(kept, r)
	}

	winners := BestPerStore(LatestPerItem(kept))
	offers := make([]models.Offer, 0, len(winners))
	for _, w := range winners {
		offers = append(offers, toOffer(w))
	}

	e.logger.Debug("Comparison computed", "product_id", productID, "candidates", len(kept), "offers", len(offers))
	return &models.Comparison{Product: *product, Offers: offers}, nil
}

// LatestPerItem keeps the most recent price row of every store item
func LatestPerItem(rows []models.OfferRow) []models.OfferRow {
	latest := make(map[int64]models.OfferRow)
	var order []int64
	for _, r := range rows {
		cur, ok := latest[r.StoreItemID]
		if !ok {
			order = append(order, r.StoreItemID)
			latest[r.StoreItemID] = r
			continue
		}
		if r.CollectedAt.After(cur.CollectedAt) || (r.CollectedAt.Equal(cur.CollectedAt) && r.PriceID > cur.PriceID) {
			latest[r.StoreItemID] = r
		}
	}
	out := make([]models.OfferRow, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// BestPerStore keeps one winner per store and ranks the winners
func BestPerStore(rows []models.OfferRow) []models.OfferRow {
	best := make(map[int64]models.OfferRow)
	for _, r := range rows {
		cur, ok := best[r.StoreID]
		if !ok || better(&r, &cur) {
			best[r.StoreID] = r
		}
	}

	out := make([]models.OfferRow, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if better(&out[i], &out[j]) {
			return true
		}
		if better(&out[j], &out[i]) {
			return false
		}
		return out[i].StoreName < out[j].StoreName
	})
	return out
}

// better orders offers: a known unit price first, then cheaper unit price,
// then cheaper total, then the fresher observation
func better(a, b *models.OfferRow) bool {
	if (a.UnitPrice == nil) != (b.UnitPrice == nil) {
		return a.UnitPrice != nil
	}
	if a.UnitPrice != nil && *a.UnitPrice != *b.UnitPrice {
		return *a.UnitPrice < *b.UnitPrice
	}
	if a.PriceEUR != b.PriceEUR {
		return a.PriceEUR < b.PriceEUR
	}
	return a.CollectedAt.After(b.CollectedAt)
}

func toOffer(r models.OfferRow) models.Offer {
	currency := r.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return models.Offer{
		Store:          r.StoreName,
		RawName:        r.RawName,
		URL:            r.URL,
		PriceEUR:       r.PriceEUR,
		UnitPrice:      r.UnitPrice,
		Currency:       currency,
		CollectedAt:    r.CollectedAt,
		Promo:          r.PromoFlag,
		PromoValidFrom: r.PromoValidFrom,
		PromoValidTo:   r.PromoValidTo,
	}
}
