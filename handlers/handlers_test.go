package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpc/cache"
	"kpc/compare"
	"kpc/models"
	"kpc/repository"
	"kpc/scheduler"
)

type fixture struct {
	st     *repository.MemoryStore
	cache  *cache.MemoryCache
	router *mux.Router
	milk   *models.Product
}

func newFixture(t *testing.T, runs *scheduler.RunManager) *fixture {
	t.Helper()
	ctx := context.Background()
	st := repository.NewMemoryStore()

	milk, err := st.EnsureProduct(ctx, &models.Product{CanonicalName: "Milk 1L 2.8%", Category: "milk", Unit: models.UnitLiter,
		SizeMlG: models.IntPtr(1000), FatPct: models.FloatPtr(2.8)})
	require.NoError(t, err)
	_, err = st.EnsureProduct(ctx, &models.Product{CanonicalName: "Butter 250g", Category: "butter", Unit: models.UnitKilogram,
		SizeMlG: models.IntPtr(250)})
	require.NoError(t, err)

	store, err := st.EnsureStore(ctx, &models.Store{Name: "Maxi", Slug: "maxi", City: "Prishtina"})
	require.NoError(t, err)
	item := &models.StoreItem{StoreID: store.ID, RawName: "Qumësht Rugove 1L 2.8%"}
	require.NoError(t, st.CreateStoreItem(ctx, item))
	require.NoError(t, st.CreatePrice(ctx, &models.Price{StoreItemID: item.ID, StoreID: store.ID, PriceEUR: 0.95,
		UnitPrice: models.FloatPtr(0.95), Currency: models.DefaultCurrency, CollectedAt: time.Now().UTC()}))
	_, err = st.CreateMapping(ctx, &models.Mapping{ProductID: milk.ID, StoreItemID: item.ID, MatchScore: 0.8})
	require.NoError(t, err)

	c := cache.NewMemoryCache()
	h := NewHandlers(st, compare.NewEngine(st, 14, nil), c, time.Minute, runs, nil)
	r := mux.NewRouter()
	h.Register(r)
	return &fixture{st: st, cache: c, router: r, milk: milk}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCompareEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/compare?product_id=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var cmp models.Comparison
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))
	assert.Equal(t, "Milk 1L 2.8%", cmp.Product.CanonicalName)
	require.Len(t, cmp.Offers, 1)
	assert.Equal(t, "Maxi", cmp.Offers[0].Store)
	assert.Equal(t, 0.95, *cmp.Offers[0].UnitPrice)

	cached, err := f.cache.Get(context.Background(), cache.CompareKey(f.milk.ID))
	require.NoError(t, err)
	assert.JSONEq(t, rec.Body.String(), string(cached))

	// a cached answer is served as is until the cache is flushed
	require.NoError(t, f.cache.Set(context.Background(), cache.CompareKey(f.milk.ID), []byte(`{"cached":true}`), time.Minute))
	rec = f.do(http.MethodGet, "/api/v1/compare?product_id=1")
	assert.JSONEq(t, `{"cached":true}`, rec.Body.String())
}

func TestCompareEndpointErrors(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/compare").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/compare?product_id=abc").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/compare?product_id=999").Code)

	butter, err := f.st.SearchProducts(context.Background(), "butter", 1)
	require.NoError(t, err)
	rec := f.do(http.MethodGet, "/api/v1/compare?product_id="+jsonInt(butter[0].ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"offers":[]`, "no offers is an empty list")
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestProductEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	var products []models.Product
	rec := f.do(http.MethodGet, "/api/v1/products")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "Butter 250g", products[0].CanonicalName, "ordered by name")

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/products/search?q=").Code)
	rec = f.do(http.MethodGet, "/api/v1/products/search?q=MILK")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)

	rec = f.do(http.MethodGet, "/api/v1/products/popular?limit=0&min_price_rows=9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "min_price_rows is clamped to 5")

	rec = f.do(http.MethodGet, "/api/v1/products/popular")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Milk 1L 2.8%", products[0].CanonicalName)

	var counts []models.StoreCount
	rec = f.do(http.MethodGet, "/api/v1/debug/store_counts")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, []models.StoreCount{{Store: "Maxi", N: 1}}, counts)
}

func TestIngestEndpoints(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	runs := scheduler.NewRunManager(context.Background(), func(ctx context.Context, trigger string) (*models.CycleRun, error) {
		started <- struct{}{}
		<-release
		run := models.NewCycleRun("r1", trigger)
		run.Complete()
		return run, nil
	}, nil)
	f := newFixture(t, runs)

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/ingest").Code)
	<-started
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/ingest").Code)

	close(release)
	runs.Wait()

	rec := f.do(http.MethodGet, "/api/v1/ingest/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Running bool             `json:"running"`
		LastRun *models.CycleRun `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "api", status.LastRun.Trigger)
	assert.Equal(t, models.CycleStatusCompleted, status.LastRun.Status)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}
