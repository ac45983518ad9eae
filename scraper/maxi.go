package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"kpc/logger"
	"kpc/models"
)

// MaxiBase is the Maxi online shop
const MaxiBase = "https://maxiks.shop"

// MaxiListingPaths are the dairy listings the shop exposes
var MaxiListingPaths = []string{
	"/products?category=bulmet",
	"/products?subcategory=jogurt",
	"/products?subcategory=jogurt-frutash",
	"/products?subcategory=kos",
	"/products?subcategory=ajran",
	"/products?subcategory=qumesht",
	"/products?subcategory=gjalpe-bulmet",
	"/products?subcategory=gjize",
	"/products?subcategory=krem-djathi",
	"/products?subcategory=kackavall",
	"/products?subcategory=speca-ajke",
}

const maxiMaxPages = 50

// MaxiHarvester walks the paginated category listings and reads every product page
type MaxiHarvester struct {
	Base  string
	Paths []string

	fetcher  *Fetcher
	detector *BotDetector
	logger   *logger.Logger
}

// NewMaxiHarvester creates the Maxi listing harvester
func NewMaxiHarvester(f *Fetcher, log *logger.Logger) *MaxiHarvester {
	if log == nil {
		log = logger.Nop()
	}
	return &MaxiHarvester{
		Base:     MaxiBase,
		Paths:    MaxiListingPaths,
		fetcher:  f,
		detector: NewBotDetector(),
		logger:   log.With("source", "maxi"),
	}
}

// Slug identifies the store
func (h *MaxiHarvester) Slug() string { return "maxi" }

// Harvest collects offers from all listings
func (h *MaxiHarvester) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	urls, err := h.productURLs(ctx)
	if err != nil {
		return nil, err
	}
	h.logger.Info("Collected product links", "count", len(urls))

	var offers []models.RawOffer
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return offers, err
		}
		offer, ok := h.product(ctx, u)
		if !ok {
			continue
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// productURLs paginates every listing until a page yields no new product link
func (h *MaxiHarvester) productURLs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var urls []string
	failures := 0

	for _, path := range h.Paths {
		for page := 1; page <= maxiMaxPages; page++ {
			pageURL := h.Base + path
			if page > 1 {
				pageURL = fmt.Sprintf("%s&page=%d", pageURL, page)
			}
			body, err := h.fetcher.FetchHTML(ctx, pageURL)
			if err != nil {
				h.logger.Warn("Listing fetch failed", "url", pageURL, "error", err)
				failures++
				break
			}
			if blocked, reason := h.detector.DetectBotWall(body); blocked {
				return nil, fmt.Errorf("maxi listing %s: %s: %w", pageURL, reason, models.ErrSourceBlocked)
			}

			doc, err := parseHTML([]byte(body))
			if err != nil {
				break
			}
			foundNew := false
			doc.Find(`a[href*="/product/"]`).Each(func(_ int, a *goquery.Selection) {
				full := resolveURL(h.Base, a.AttrOr("href", ""))
				if full == "" {
					return
				}
				if _, ok := seen[full]; ok {
					return
				}
				seen[full] = struct{}{}
				urls = append(urls, full)
				foundNew = true
			})
			if !foundNew {
				break
			}
		}
	}

	if len(urls) == 0 && failures == len(h.Paths) && failures > 0 {
		return nil, fmt.Errorf("every maxi listing failed")
	}
	return urls, nil
}

func (h *MaxiHarvester) product(ctx context.Context, productURL string) (models.RawOffer, bool) {
	body, err := h.fetcher.FetchHTML(ctx, productURL)
	if err != nil {
		h.logger.Debug("Product fetch failed", "url", productURL, "error", err)
		return models.RawOffer{}, false
	}
	doc, err := parseHTML([]byte(body))
	if err != nil {
		return models.RawOffer{}, false
	}

	name := cleanText(doc.Find("h4.p-title-main").First())
	if name == "" {
		return models.RawOffer{}, false
	}
	priceText := strings.TrimSpace(doc.Find("#main_price").First().Text())
	price, err := ParsePrice(priceText)
	if err != nil {
		h.logger.Debug("Unparseable price", "url", productURL, "price", priceText)
		return models.RawOffer{}, false
	}

	return models.RawOffer{
		Name:       name,
		Price:      price,
		Reference:  productURL,
		ExternalID: lastN(productURL, 64),
	}, true
}
