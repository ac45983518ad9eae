package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpc/cache"
	"kpc/compare"
	"kpc/config"
	"kpc/matching"
	"kpc/models"
	"kpc/repository"
	"kpc/scraper"
)

type fakeHarvester struct {
	slug string

	mu     sync.Mutex
	offers []models.RawOffer
	err    error
	panics bool
	calls  int
	now    time.Time
}

func (h *fakeHarvester) Slug() string { return h.slug }

func (h *fakeHarvester) Harvest(ctx context.Context, hc *scraper.Context) ([]models.RawOffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.now = hc.Now
	if h.panics {
		panic("selector blew up")
	}
	return append([]models.RawOffer(nil), h.offers...), h.err
}

func (h *fakeHarvester) set(offers ...models.RawOffer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offers = offers
}

func newMatcher(t *testing.T) *matching.Engine {
	t.Helper()
	scorer, err := matching.NewScorer(config.MatchingConfig{
		Formulation: "weighted",
		Weights:     config.Weights{Brand: 0.30, Size: 0.35, Fat: 0.25, Category: 0.20},
	})
	require.NoError(t, err)
	return matching.NewEngine(scorer, 0.7, nil)
}

func productByName(t *testing.T, st repository.Store, name string) *models.Product {
	t.Helper()
	products, err := st.ListProducts(context.Background(), 0)
	require.NoError(t, err)
	for i := range products {
		if products[i].CanonicalName == name {
			return &products[i]
		}
	}
	t.Fatalf("product %q not seeded", name)
	return nil
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := repository.NewMemoryStore()
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set(ctx, cache.CompareKey(1), []byte("stale"), time.Hour))

	maxi := &fakeHarvester{slug: "maxi", offers: []models.RawOffer{
		{Name: "Qumësht  Rugove 1L 2.8%", Price: 0.95, ExternalID: "p-1", Reference: "https://maxiks.shop/product/1"},
		{Name: "  ", Price: 1.10},
		{Name: "Kos Abi 1kg", Price: 0},
	}}
	interex := &fakeHarvester{slug: "interex", panics: true}
	albi := &fakeHarvester{slug: "albi", err: models.ErrSourceBlocked}
	spar := scraper.Unavailable("spar-flyer", "no pdf extraction tooling")

	o := New(st, []scraper.Harvester{maxi, interex, albi, spar}, newMatcher(t), c, Options{Concurrency: 3}, nil)
	assert.Equal(t, []string{"maxi", "interex", "albi", "spar-flyer"}, o.Sources())

	run, err := o.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusCompleted, run.Status)
	assert.NotEmpty(t, run.ID)
	require.Len(t, run.Sources, 4, "sources are reported in registration order")

	assert.Equal(t, "maxi", run.Sources[0].Source)
	assert.Equal(t, 3, run.Sources[0].Offers)
	assert.Equal(t, 1, run.Sources[0].Inserted)
	assert.Equal(t, 2, run.Sources[0].Dropped, "candidates without a name or price are dropped")
	assert.Contains(t, run.Sources[1].Error, "panic")
	assert.Contains(t, run.Sources[2].Error, "source blocked")
	assert.True(t, run.Sources[3].Skipped)
	assert.Equal(t, []string{"interex", "albi"}, run.FailedSources())
	assert.Equal(t, 3, run.TotalOffers())

	items, err := st.ListStoreItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Qumësht Rugove 1L 2.8%", items[0].RawName, "whitespace is collapsed")
	assert.Equal(t, "Rugove", models.Deref(items[0].Brand))
	assert.Equal(t, "milk", models.Deref(items[0].CategoryNorm))
	require.NotNil(t, items[0].FatPct)
	assert.Equal(t, 2.8, *items[0].FatPct)

	milk := productByName(t, st, "Milk 1L 2.8%")
	exists, err := st.MappingExists(ctx, milk.ID, items[0].ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.GreaterOrEqual(t, run.MappingsCreated, 1)

	cmp, err := compare.NewEngine(st, 14, nil).Compare(ctx, milk.ID)
	require.NoError(t, err)
	require.Len(t, cmp.Offers, 1)
	assert.Equal(t, "Maxi", cmp.Offers[0].Store)
	require.NotNil(t, cmp.Offers[0].UnitPrice)
	assert.Equal(t, 0.95, *cmp.Offers[0].UnitPrice)

	_, err = c.Get(ctx, cache.CompareKey(1))
	assert.ErrorIs(t, err, cache.ErrMiss, "the compare cache is flushed after a cycle")
}

func TestRunSameDayMerge(t *testing.T) {
	ctx := context.Background()
	st := repository.NewMemoryStore()
	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	maxi := &fakeHarvester{slug: "maxi"}
	maxi.set(models.RawOffer{Name: "Gjalp Meggle 250g", Price: 2.79, ExternalID: "g-1"})
	o := New(st, []scraper.Harvester{maxi}, newMatcher(t), nil, Options{Now: func() time.Time { return clock }}, nil)

	run, err := o.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Sources[0].Inserted)
	assert.True(t, clock.Equal(maxi.now), "harvesters see the cycle clock")

	items, err := st.ListStoreItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	itemID := items[0].ID

	// unchanged on the same day is a no-op
	clock = clock.Add(time.Hour)
	run, err = o.Run(ctx, "test")
	require.NoError(t, err)
	assert.Zero(t, run.Sources[0].Inserted)
	assert.Zero(t, run.Sources[0].Updated)
	prices := st.Prices(itemID)
	require.Len(t, prices, 1)
	assert.Equal(t, 9, prices[0].CollectedAt.Hour())

	// a changed price on the same day updates the row in place
	clock = clock.Add(time.Hour)
	maxi.set(models.RawOffer{Name: "Gjalp Meggle 250g", Price: 2.49, ExternalID: "g-1", Promo: true})
	run, err = o.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Sources[0].Updated)
	prices = st.Prices(itemID)
	require.Len(t, prices, 1)
	assert.Equal(t, 2.49, prices[0].PriceEUR)
	assert.True(t, prices[0].PromoFlag)
	assert.Equal(t, 11, prices[0].CollectedAt.Hour(), "collected_at is refreshed")
	require.NotNil(t, prices[0].UnitPrice)
	assert.Equal(t, 9.96, *prices[0].UnitPrice)

	// the next day appends
	clock = clock.AddDate(0, 0, 1)
	run, err = o.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Sources[0].Inserted)
	assert.Len(t, st.Prices(itemID), 2)
}

func TestRunUpsertsByNameAndBackfills(t *testing.T) {
	ctx := context.Background()
	st := repository.NewMemoryStore()

	social := &fakeHarvester{slug: "albi"}
	social.set(models.RawOffer{Name: "Djathë i bardhë 400g", Price: 3.20})
	o := New(st, []scraper.Harvester{social}, nil, nil, Options{}, nil)

	_, err := o.Run(ctx, "test")
	require.NoError(t, err)

	social.set(models.RawOffer{Name: "Djathë i bardhë 400g", Price: 3.20, ExternalID: "777#Djathë", Reference: "https://m.facebook.com/photo.php?fbid=777"})
	_, err = o.Run(ctx, "test")
	require.NoError(t, err)

	items, err := st.ListStoreItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "the name match finds the listing")
	assert.Equal(t, "777#Djathë", models.Deref(items[0].ExternalID))
	assert.Equal(t, "https://m.facebook.com/photo.php?fbid=777", models.Deref(items[0].URL))

	stores, err := st.StoreCounts(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "Albi", stores[0].Store)
}

func TestRunDropsOverlongCandidates(t *testing.T) {
	ctx := context.Background()
	st := repository.NewMemoryStore()

	flyer := &fakeHarvester{slug: "spar-flyer"}
	flyer.set(
		models.RawOffer{Name: strings.Repeat("Qumësht Rugove 1L ", 23), Price: 0.99},
		models.RawOffer{
			Name:       "Kos Abi 1kg",
			Price:      1.45,
			RawSize:    strings.Repeat("1kg ", 30),
			ExternalID: strings.Repeat("x", models.MaxExternalIDLen+1),
		},
	)
	o := New(st, []scraper.Harvester{flyer}, nil, nil, Options{}, nil)

	run, err := o.Run(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, run.Sources[0].Error)
	assert.Equal(t, 1, run.Sources[0].Dropped, "a merged layout line is dropped")
	assert.Equal(t, 1, run.Sources[0].Inserted)

	items, err := st.ListStoreItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Kos Abi 1kg", items[0].RawName)
	assert.Nil(t, items[0].ExternalID)
	assert.LessOrEqual(t, len([]rune(models.Deref(items[0].RawSize))), models.MaxRawSizeLen)
}

func TestRunSeedsOnce(t *testing.T) {
	ctx := context.Background()
	st := repository.NewMemoryStore()
	o := New(st, nil, newMatcher(t), nil, Options{}, nil)

	for i := 0; i < 2; i++ {
		run, err := o.Run(ctx, "test")
		require.NoError(t, err)
		assert.Equal(t, models.CycleStatusCompleted, run.Status)
	}
	products, err := st.ListProducts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, products, len(SeedProducts))
}
