package compare

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpc/models"
	"kpc/repository"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func row(store int64, name string, unit *float64, price float64, at time.Time) models.OfferRow {
	return models.OfferRow{StoreID: store, StoreItemID: store * 100, StoreName: name, UnitPrice: unit, PriceEUR: price, CollectedAt: at}
}

func storeNames(rows []models.OfferRow) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r.StoreName)
	}
	return out
}

func TestBestPerStoreTieBreak(t *testing.T) {
	rows := []models.OfferRow{
		row(1, "A", models.FloatPtr(1.20), 1.20, now),
		row(2, "B", nil, 0.99, now),
		row(3, "C", models.FloatPtr(1.20), 1.15, now),
	}
	// equal unit prices fall back to the cheaper total; unknown unit price goes last
	assert.Equal(t, []string{"C", "A", "B"}, storeNames(BestPerStore(rows)))

	rows[2].PriceEUR = 1.20
	rows[2].CollectedAt = now.Add(-time.Hour)
	assert.Equal(t, []string{"A", "C", "B"}, storeNames(BestPerStore(rows)), "fresher wins a full tie")
}

func TestBestPerStoreOnePerStore(t *testing.T) {
	a1 := row(1, "A", models.FloatPtr(2.0), 2.0, now)
	a2 := row(1, "A", models.FloatPtr(1.5), 1.5, now)
	a2.StoreItemID = 101
	got := BestPerStore([]models.OfferRow{a1, a2})
	require.Len(t, got, 1)
	assert.Equal(t, 1.5, got[0].PriceEUR)
}

func TestLatestPerItem(t *testing.T) {
	old := row(1, "A", models.FloatPtr(0.50), 0.50, now.AddDate(0, 0, -5))
	fresh := row(1, "A", models.FloatPtr(0.90), 0.90, now)
	got := LatestPerItem([]models.OfferRow{old, fresh})
	require.Len(t, got, 1)
	assert.Equal(t, 0.90, got[0].PriceEUR, "a stale cheap price never beats a fresher one")
}

func TestHeuristic(t *testing.T) {
	milk := &models.Product{Category: "milk", SizeMlG: models.IntPtr(1000), FatPct: models.FloatPtr(2.8)}
	butter := &models.Product{Category: "butter", SizeMlG: models.IntPtr(250)}
	cheese := &models.Product{Category: "cheese", SizeMlG: models.IntPtr(400)}

	tests := []struct {
		name    string
		product *models.Product
		raw     string
		fat     *float64
		want    bool
	}{
		{"milk with fat in name", milk, "Qumësht i freskët 1L 2,8%", nil, true},
		{"milk with stored fat", milk, "Qumesht Vita 1 l", models.FloatPtr(3.0), true},
		{"milk wrong fat", milk, "Qumesht Vita 1l 3.5%", models.FloatPtr(3.5), false},
		{"milk wrong size", milk, "Qumesht 0.5l 2.8%", nil, false},
		{"plant milk", milk, "Qumesht soja 1l 2.8%", nil, false},
		{"oat drink", milk, "Oat milk 1L 2.8%", nil, false},
		{"yogurt never milk", milk, "Jogurt qumesht 1L 2.8%", nil, false},
		{"butter 250g", butter, "Gjalpë Alpsko 250 gr", nil, true},
		{"butter wrong size", butter, "Gjalpë 500g", nil, false},
		{"cheese keyword", cheese, "Djathë i bardhë 400g", nil, true},
		{"cheese unrelated", cheese, "Bukë", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Heuristic(tt.product, tt.raw, tt.fat))
		})
	}
}

type fixture struct {
	st     *repository.MemoryStore
	milk   *models.Product
	butter *models.Product
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	st := repository.NewMemoryStore()
	milk, err := st.EnsureProduct(ctx, &models.Product{CanonicalName: "Milk 1L 2.8%", Category: "milk", Unit: models.UnitLiter,
		SizeMlG: models.IntPtr(1000), FatPct: models.FloatPtr(2.8)})
	require.NoError(t, err)
	butter, err := st.EnsureProduct(ctx, &models.Product{CanonicalName: "Butter 250g", Category: "butter", Unit: models.UnitKilogram,
		SizeMlG: models.IntPtr(250)})
	require.NoError(t, err)
	return &fixture{st: st, milk: milk, butter: butter}
}

func (f *fixture) item(t *testing.T, storeName, raw string, prices ...models.Price) *models.StoreItem {
	ctx := context.Background()
	store, err := f.st.EnsureStore(ctx, &models.Store{Name: storeName, Slug: storeName})
	require.NoError(t, err)
	item := &models.StoreItem{StoreID: store.ID, RawName: raw}
	require.NoError(t, f.st.CreateStoreItem(ctx, item))
	for _, p := range prices {
		p.StoreItemID = item.ID
		p.StoreID = store.ID
		require.NoError(t, f.st.CreatePrice(ctx, &p))
	}
	return item
}

func (f *fixture) mapTo(t *testing.T, product *models.Product, item *models.StoreItem) {
	_, err := f.st.CreateMapping(context.Background(), &models.Mapping{ProductID: product.ID, StoreItemID: item.ID, MatchScore: 0.8})
	require.NoError(t, err)
}

func price(v float64, unit *float64, at time.Time) models.Price {
	return models.Price{PriceEUR: v, UnitPrice: unit, Currency: models.DefaultCurrency, CollectedAt: at}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	mapped := f.item(t, "Store X", "Qumësht Rugove 1L 2.8%",
		price(1.10, models.FloatPtr(1.10), now.AddDate(0, 0, -3)),
		price(0.95, models.FloatPtr(0.95), now.AddDate(0, 0, -1)))
	f.mapTo(t, f.milk, mapped)

	f.item(t, "Store Y", "Qumesht Vita 1l 2,8%", price(0.89, models.FloatPtr(0.89), now))
	f.item(t, "Store Z", "Qumesht Vita 1l 2,8%", price(0.50, models.FloatPtr(0.50), now.AddDate(0, 0, -20)))
	f.item(t, "Store W", "Soja drink 1l 2.8%", price(0.40, models.FloatPtr(0.40), now))

	elsewhere := f.item(t, "Store V", "Qumesht 1l 2.8% butter promo", price(0.30, models.FloatPtr(0.30), now))
	f.mapTo(t, f.butter, elsewhere)

	engine := NewEngine(f.st, 14, nil)
	engine.now = func() time.Time { return now }

	cmp, err := engine.Compare(ctx, f.milk.ID)
	require.NoError(t, err)
	assert.Equal(t, f.milk.ID, cmp.Product.ID)
	require.Len(t, cmp.Offers, 2)

	assert.Equal(t, "Store Y", cmp.Offers[0].Store, "unmapped item reaches the answer through the heuristic")
	assert.Equal(t, "Store X", cmp.Offers[1].Store)
	assert.Equal(t, 0.95, *cmp.Offers[1].UnitPrice, "latest price of the item is used")
	assert.Equal(t, models.DefaultCurrency, cmp.Offers[1].Currency)
}

func TestCompareEmptyAndNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	engine := NewEngine(f.st, 0, nil)

	cmp, err := engine.Compare(ctx, f.butter.ID)
	require.NoError(t, err)
	assert.NotNil(t, cmp.Offers)
	assert.Empty(t, cmp.Offers)

	_, err = engine.Compare(ctx, 424242)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
