// Package ingest runs ingestion cycles: harvest every source, persist what
// they found and refresh the product mappings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kpc/cache"
	"kpc/logger"
	"kpc/matching"
	"kpc/metrics"
	"kpc/models"
	"kpc/normalize"
	"kpc/repository"
	"kpc/scraper"
)

// Options tune an Orchestrator
type Options struct {
	City        string
	Concurrency int
	// Now overrides the clock used for collected_at
	Now func() time.Time
}

// Orchestrator runs ingestion cycles. Run is safe to call repeatedly; all
// per-cycle state lives in the scraper.Context created for the call.
type Orchestrator struct {
	store      repository.Store
	harvesters []scraper.Harvester
	matcher    *matching.Engine
	cache      cache.Cache
	opts       Options
	logger     *logger.Logger
}

// New creates an orchestrator. The cache may be nil.
func New(st repository.Store, harvesters []scraper.Harvester, matcher *matching.Engine, c cache.Cache, opts Options, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if opts.City == "" {
		opts.City = "Prishtina"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:      st,
		harvesters: harvesters,
		matcher:    matcher,
		cache:      c,
		opts:       opts,
		logger:     log,
	}
}

// Sources returns the slugs of the registered harvesters
func (o *Orchestrator) Sources() []string {
	out := make([]string, 0, len(o.harvesters))
	for _, h := range o.harvesters {
		out = append(out, h.Slug())
	}
	return out
}

// harvest is what one source produced this cycle
type harvest struct {
	offers []models.RawOffer
	result models.SourceResult
}

// Run executes one ingestion cycle. A failing source is recorded on the
// returned run and never aborts the cycle; an error is returned only when
// seeding or matching fails.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (*models.CycleRun, error) {
	run := models.NewCycleRun(uuid.NewString(), trigger)
	log := o.logger.With("run_id", run.ID)
	log.Info("Ingestion cycle started", "trigger", trigger, "sources", len(o.harvesters))

	fail := func(err error) (*models.CycleRun, error) {
		run.Fail(err)
		o.finish(ctx, run, log)
		return run, err
	}

	if err := Seed(ctx, o.store); err != nil {
		return fail(err)
	}

	hc := scraper.NewContext(run.ID, o.opts.City, o.opts.Now(), log)
	harvests := o.harvestAll(ctx, hc, log)

	for i := range harvests {
		h := &harvests[i]
		if h.result.Error == "" && len(h.offers) > 0 {
			o.persistSource(ctx, h, log)
		}
		run.Sources = append(run.Sources, h.result)
	}

	if o.matcher != nil {
		var res matching.Result
		err := o.store.WithTx(ctx, func(tx repository.Store) error {
			var err error
			res, err = o.matcher.Run(ctx, tx)
			return err
		})
		if err != nil {
			return fail(fmt.Errorf("matching failed: %w", err))
		}
		run.MappingsCreated = res.Created
		metrics.MappingsCreatedTotal.Add(float64(res.Created))
	}

	run.Complete()
	o.finish(ctx, run, log)
	return run, nil
}

// harvestAll runs every harvester with at most Concurrency in flight. Results
// keep registration order.
func (o *Orchestrator) harvestAll(ctx context.Context, hc *scraper.Context, log *logger.Logger) []harvest {
	out := make([]harvest, len(o.harvesters))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for i, h := range o.harvesters {
		g.Go(func() error {
			out[i] = o.harvestOne(ctx, h, hc, log.With("source", h.Slug()))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// harvestOne contains every failure of a single source, panics included
func (o *Orchestrator) harvestOne(ctx context.Context, h scraper.Harvester, hc *scraper.Context, log *logger.Logger) (hv harvest) {
	start := time.Now()
	hv.result.Source = h.Slug()

	defer func() {
		if r := recover(); r != nil {
			hv.offers = nil
			hv.result.Offers = 0
			hv.result.Error = fmt.Sprintf("panic: %v", r)
			log.Error("Harvester panicked", "panic", r)
		}
		hv.result.Duration = time.Since(start)
		if hv.result.Error != "" && !hv.result.Skipped {
			metrics.SourceFailuresTotal.WithLabelValues(hv.result.Source).Inc()
		}
	}()

	offers, err := h.Harvest(ctx, hc)
	switch {
	case errors.Is(err, models.ErrMissingConfig):
		hv.result.Skipped = true
		hv.result.Error = err.Error()
		log.Warn("Source skipped", "reason", err)
		return hv
	case err != nil:
		hv.result.Error = err.Error()
		log.Error("Source failed", "error", err, "blocked", errors.Is(err, models.ErrSourceBlocked))
		return hv
	}

	hv.offers = offers
	hv.result.Offers = len(offers)
	metrics.SourceOffersTotal.WithLabelValues(hv.result.Source).Add(float64(len(offers)))
	log.Info("Source harvested", "offers", len(offers), "duration", time.Since(start))
	return hv
}

// persistSource writes one source's offers in a single transaction. A
// persistence error rolls back that source only.
func (o *Orchestrator) persistSource(ctx context.Context, h *harvest, log *logger.Logger) {
	var counts models.SourceResult
	err := o.store.WithTx(ctx, func(tx repository.Store) error {
		counts = models.SourceResult{}
		store, err := storeFor(ctx, tx, h.result.Source, o.opts.City)
		if err != nil {
			return fmt.Errorf("failed to ensure store: %w", err)
		}
		for _, offer := range h.offers {
			if !offer.Valid() {
				counts.Dropped++
				continue
			}
			inserted, updated, err := o.persistOffer(ctx, tx, store, offer)
			if err != nil {
				return err
			}
			if inserted {
				counts.Inserted++
			}
			if updated {
				counts.Updated++
			}
		}
		return nil
	})
	if err != nil {
		h.result.Error = err.Error()
		log.Error("Failed to persist source", "source", h.result.Source, "error", err)
		metrics.SourceFailuresTotal.WithLabelValues(h.result.Source).Inc()
		return
	}

	h.result.Dropped = counts.Dropped
	h.result.Inserted = counts.Inserted
	h.result.Updated = counts.Updated
	log.Info("Source persisted",
		"source", h.result.Source,
		"inserted", counts.Inserted,
		"updated", counts.Updated,
		"dropped", counts.Dropped,
	)
}

// persistOffer upserts the item behind an offer and applies the same-day
// price merge. It reports whether a price row was inserted or updated.
func (o *Orchestrator) persistOffer(ctx context.Context, tx repository.Store, store *models.Store, offer models.RawOffer) (bool, bool, error) {
	name := strings.Join(strings.Fields(offer.Name), " ")
	listing := normalize.Describe(name)
	size := listing.Size
	if size == 0 && offer.RawSize != "" {
		size = normalize.ParseSizeAndFat(offer.RawSize).Size
	}

	// an id that does not fit is dropped so the name lookup takes over
	ext := strings.TrimSpace(offer.ExternalID)
	if utf8.RuneCountInString(ext) > models.MaxExternalIDLen {
		ext = ""
	}
	item, err := o.upsertItem(ctx, tx, &models.StoreItem{
		StoreID:      store.ID,
		ExternalID:   models.StrPtr(ext),
		RawName:      name,
		RawSize:      models.StrPtr(models.Clip(strings.TrimSpace(offer.RawSize), models.MaxRawSizeLen)),
		URL:          models.StrPtr(offer.Reference),
		Brand:        models.StrPtr(models.Clip(firstNonEmpty(offer.Brand, listing.Brand), models.MaxLabelLen)),
		Category:     models.StrPtr(models.Clip(firstNonEmpty(offer.Category, listing.Category), models.MaxLabelLen)),
		CategoryNorm: models.StrPtr(models.Clip(listing.Class, models.MaxCategoryNormLen)),
		FatPct:       listing.Fat,
	})
	if err != nil {
		return false, false, err
	}

	now := o.opts.Now().UTC()
	price := &models.Price{
		StoreItemID:    item.ID,
		StoreID:        store.ID,
		PriceEUR:       offer.Price,
		UnitPrice:      normalize.UnitPrice(offer.Price, size),
		Currency:       models.DefaultCurrency,
		CollectedAt:    now,
		PromoFlag:      offer.Promo || offer.ValidFrom != nil || offer.ValidTo != nil,
		PromoValidFrom: offer.ValidFrom,
		PromoValidTo:   offer.ValidTo,
	}

	existing, err := tx.FindPriceOnDay(ctx, item.ID, now)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if err := tx.CreatePrice(ctx, price); err != nil {
			return false, false, fmt.Errorf("failed to create price: %w", err)
		}
		return true, false, nil
	case err != nil:
		return false, false, fmt.Errorf("failed to look up price: %w", err)
	}

	if !price.DiffersFrom(existing) {
		return false, false, nil
	}
	price.ID = existing.ID
	if err := tx.UpdatePrice(ctx, price); err != nil {
		return false, false, fmt.Errorf("failed to update price: %w", err)
	}
	return false, true, nil
}

// upsertItem finds the listing by external id, then by name, and backfills
// it; a listing seen for the first time is created
func (o *Orchestrator) upsertItem(ctx context.Context, tx repository.Store, candidate *models.StoreItem) (*models.StoreItem, error) {
	var (
		existing *models.StoreItem
		err      = models.ErrNotFound
	)
	if ext := models.Deref(candidate.ExternalID); ext != "" {
		existing, err = tx.FindStoreItemByExternalID(ctx, candidate.StoreID, ext)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up store item: %w", err)
		}
	}
	if errors.Is(err, models.ErrNotFound) {
		existing, err = tx.FindStoreItemByName(ctx, candidate.StoreID, candidate.RawName)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up store item: %w", err)
		}
	}

	if errors.Is(err, models.ErrNotFound) {
		if err := tx.CreateStoreItem(ctx, candidate); err != nil {
			return nil, fmt.Errorf("failed to create store item: %w", err)
		}
		return candidate, nil
	}

	if existing.Backfill(candidate) {
		if err := tx.UpdateStoreItem(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update store item: %w", err)
		}
	}
	return existing, nil
}

// finish invalidates cached comparisons and records the cycle metrics
func (o *Orchestrator) finish(ctx context.Context, run *models.CycleRun, log *logger.Logger) {
	if o.cache != nil {
		if err := o.cache.Flush(ctx); err != nil {
			log.Warn("Failed to flush compare cache", "error", err)
		}
	}

	metrics.CyclesTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.CycleDuration.Observe(run.Duration().Seconds())

	fields := []any{
		"status", run.Status,
		"offers", run.TotalOffers(),
		"mappings_created", run.MappingsCreated,
		"duration", run.Duration(),
	}
	if failed := run.FailedSources(); len(failed) > 0 {
		fields = append(fields, "failed_sources", failed)
	}
	if run.Error != "" {
		fields = append(fields, "error", run.Error)
		log.Error("Ingestion cycle failed", fields...)
		return
	}
	log.Info("Ingestion cycle finished", fields...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
