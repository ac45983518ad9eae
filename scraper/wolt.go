package scraper

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"kpc/browser"
	"kpc/logger"
	"kpc/models"
)

// SparWoltVenue is the SPAR venue on Wolt
const SparWoltVenue = "https://wolt.com/en/xkx/pristina/venue/spar-te-qafa"

const (
	woltCardSelector  = "[data-test-id='menu-item'], .MenuItem"
	woltTitleSelector = "[data-test-id='menu-item-title'], h3, h4"
	woltPriceSelector = "[data-test-id='menu-item-price'], .Price"
)

// WoltHarvester reads a Wolt venue menu, from the server-rendered page when
// it carries the menu and from a rendered session otherwise
type WoltHarvester struct {
	Venue string

	fetcher  *Fetcher
	launcher browser.Launcher
	opts     browser.Options
	logger   *logger.Logger
}

// NewWoltHarvester creates the SPAR Wolt menu harvester. launcher may be nil,
// which leaves only the lightweight strategy.
func NewWoltHarvester(f *Fetcher, l browser.Launcher, opts browser.Options, log *logger.Logger) *WoltHarvester {
	if log == nil {
		log = logger.Nop()
	}
	return &WoltHarvester{
		Venue:    SparWoltVenue,
		fetcher:  f,
		launcher: l,
		opts:     opts,
		logger:   log.With("source", "spar-wolt"),
	}
}

// Slug identifies the store
func (h *WoltHarvester) Slug() string { return "spar-wolt" }

// Harvest tries the lightweight page first, then the rendered one
func (h *WoltHarvester) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	strategies := []Strategy[models.RawOffer]{{Name: "lightweight", Run: h.lightweight}}
	if h.launcher != nil {
		strategies = append(strategies, Strategy[models.RawOffer]{Name: "rendered", Run: h.rendered})
	}
	offers, used, err := FirstOf(ctx, h.logger, strategies...)
	if err != nil {
		return nil, err
	}
	h.logger.Info("Menu harvested", "strategy", used, "offers", len(offers))
	return offers, nil
}

func (h *WoltHarvester) lightweight(ctx context.Context) ([]models.RawOffer, error) {
	body, err := h.fetcher.FetchHTML(ctx, h.Venue)
	if err != nil {
		return nil, err
	}
	return ParseWoltMenu(body, h.Venue), nil
}

func (h *WoltHarvester) rendered(ctx context.Context) ([]models.RawOffer, error) {
	var offers []models.RawOffer
	err := browser.WithSession(ctx, h.launcher, h.opts, func(s browser.Session) error {
		if err := s.Navigate(ctx, h.Venue); err != nil {
			return err
		}
		if err := s.WaitContent(ctx, woltCardSelector); err != nil {
			return err
		}
		scrollToEnd(ctx, s, 20, 400*time.Millisecond)
		html, err := s.HTML(ctx)
		if err != nil {
			return err
		}
		offers = ParseWoltMenu(html, h.Venue)
		return nil
	})
	return offers, err
}

// ParseWoltMenu reads menu cards; cards missing a title or price are dropped
func ParseWoltMenu(html, venue string) []models.RawOffer {
	doc, err := parseHTML([]byte(html))
	if err != nil {
		return nil
	}
	var offers []models.RawOffer
	doc.Find(woltCardSelector).Each(func(_ int, card *goquery.Selection) {
		name := cleanText(card.Find(woltTitleSelector).First())
		priceEl := card.Find(woltPriceSelector).First()
		if name == "" || priceEl.Length() == 0 {
			return
		}
		price, err := ParsePrice(priceEl.Text())
		if err != nil {
			return
		}
		offers = append(offers, models.RawOffer{
			Name:       name,
			Price:      price,
			Reference:  venue,
			ExternalID: firstN(name, 64),
		})
	})
	return offers
}
