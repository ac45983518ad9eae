package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"kpc/cache"
	"kpc/compare"
	"kpc/logger"
	"kpc/models"
	"kpc/repository"
	"kpc/scheduler"
)

const (
	listLimit         = 500
	searchLimit       = 50
	defaultPopular    = 50
	maxPopular        = 200
	maxMinPriceRows   = 5
	defaultCompareTTL = 10 * time.Minute
)

// Handlers serves the read API and the manual ingest trigger
type Handlers struct {
	store   repository.Store
	compare *compare.Engine
	cache   cache.Cache
	ttl     time.Duration
	runs    *scheduler.RunManager
	logger  *logger.Logger
}

// NewHandlers creates the API handlers. The cache and run manager may be nil.
func NewHandlers(st repository.Store, cmp *compare.Engine, c cache.Cache, ttl time.Duration, runs *scheduler.RunManager, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = defaultCompareTTL
	}
	return &Handlers{store: st, compare: cmp, cache: c, ttl: ttl, runs: runs, logger: log}
}

// Register mounts every route on r
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/compare", h.Compare).Methods("GET")
	api.HandleFunc("/products", h.ListProducts).Methods("GET")
	api.HandleFunc("/products/search", h.SearchProducts).Methods("GET")
	api.HandleFunc("/products/popular", h.PopularProducts).Methods("GET")
	api.HandleFunc("/debug/store_counts", h.StoreCounts).Methods("GET")
	api.HandleFunc("/ingest", h.TriggerIngest).Methods("POST")
	api.HandleFunc("/ingest/status", h.IngestStatus).Methods("GET")
}

// HealthCheck returns a simple health check response
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "kpc",
	}
	if h.runs != nil {
		response["ingest_running"] = h.runs.Running()
	}
	writeJSON(w, http.StatusOK, response)
}

// Compare returns the best recent offer per store for a product
func (h *Handlers) Compare(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "product_id must be a positive integer")
		return
	}

	key := cache.CompareKey(id)
	if h.cache != nil {
		if body, err := h.cache.Get(r.Context(), key); err == nil {
			writeRaw(w, http.StatusOK, body)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			h.logger.Warn("Compare cache read failed", "key", key, "error", err)
		}
	}

	cmp, err := h.compare.Compare(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to compare product", "product_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compare product")
		return
	}

	body, err := json.Marshal(cmp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode comparison")
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), key, body, h.ttl); err != nil {
			h.logger.Warn("Compare cache write failed", "key", key, "error", err)
		}
	}
	writeRaw(w, http.StatusOK, body)
}

// ListProducts returns products ordered by name
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context(), listLimit)
	if err != nil {
		h.logger.Error("Failed to list products", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(products))
}

// SearchProducts matches a case-insensitive substring of the canonical name
func (h *Handlers) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	products, err := h.store.SearchProducts(r.Context(), q, searchLimit)
	if err != nil {
		h.logger.Error("Failed to search products", "q", q, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to search products")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(products))
}

// PopularProducts orders products by the number of recent mapped price rows
func (h *Handlers) PopularProducts(w http.ResponseWriter, r *http.Request) {
	limit := clampParam(r, "limit", defaultPopular, 1, maxPopular)
	minRows := clampParam(r, "min_price_rows", 1, 1, maxMinPriceRows)

	products, err := h.store.PopularProducts(r.Context(), h.compare.Since(), limit, minRows)
	if err != nil {
		h.logger.Error("Failed to rank products", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to rank products")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(products))
}

// StoreCounts returns recent price rows per store
func (h *Handlers) StoreCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.StoreCounts(r.Context(), h.compare.Since())
	if err != nil {
		h.logger.Error("Failed to count store rows", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to count store rows")
		return
	}
	if counts == nil {
		counts = []models.StoreCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

// TriggerIngest starts an ingestion cycle in the background
func (h *Handlers) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Ingestion is not available")
		return
	}
	err := h.runs.Trigger("api")
	if errors.Is(err, models.ErrCycleRunning) {
		writeError(w, http.StatusConflict, "An ingestion cycle is already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start ingestion")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"message": "Ingestion cycle started",
	})
}

// IngestStatus returns the last finished cycle
func (h *Handlers) IngestStatus(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Ingestion is not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":  h.runs.Running(),
		"last_run": h.runs.LastRun(),
	})
}

func clampParam(r *http.Request, name string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNil(products []models.Product) []models.Product {
	if products == nil {
		return []models.Product{}
	}
	return products
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
