package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"kpc/browser"
	"kpc/logger"
	"kpc/models"
)

// VivaFreshBase is the Viva Fresh online shop
const VivaFreshBase = "https://online.vivafresh.shop/"

// VivaFreshCategories are the dairy and eggs lvl2 categories
var VivaFreshCategories = []int{13, 14, 15, 16, 17, 18, 19}

const (
	vivaCardSelector = ".product-card, .product-box, .product-item"
	vivaScrollRounds = 40
)

var (
	vivaNameSelectors  = []string{".product-title", ".title", ".name", "h3"}
	vivaPriceSelectors = []string{".current-price", ".new-price", ".price", ".product-price", ".price__current"}
	vivaPriceAttrs     = []string{"data-price", "data-product-price"}
	vivaPromptLabels   = []string{"Accept", "I agree", "Pranoj", "Lejo", "OK", "Continue"}
)

// VivaFreshHarvester renders the category grids, scrolls until the lazy grid
// stops growing and reads the product cards
type VivaFreshHarvester struct {
	Base       string
	Categories []int

	launcher browser.Launcher
	opts     browser.Options
	logger   *logger.Logger
}

// NewVivaFreshHarvester creates the Viva Fresh rendered-card harvester
func NewVivaFreshHarvester(l browser.Launcher, opts browser.Options, log *logger.Logger) *VivaFreshHarvester {
	if log == nil {
		log = logger.Nop()
	}
	return &VivaFreshHarvester{
		Base:       VivaFreshBase,
		Categories: VivaFreshCategories,
		launcher:   l,
		opts:       opts,
		logger:     log.With("source", "vivafresh"),
	}
}

// Slug identifies the store
func (h *VivaFreshHarvester) Slug() string { return "vivafresh" }

// Harvest renders every category and collects its cards
func (h *VivaFreshHarvester) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	var offers []models.RawOffer
	err := browser.WithSession(ctx, h.launcher, h.opts, func(s browser.Session) error {
		if err := s.Navigate(ctx, h.Base); err != nil {
			return err
		}
		clickPrompts(ctx, s, vivaPromptLabels)
		clickPrompts(ctx, s, []string{"Prishtinë", hc.City, "Qendër"})

		for _, lvl2 := range h.Categories {
			if err := ctx.Err(); err != nil {
				return err
			}
			pageURL := fmt.Sprintf("%scategories/?lvl2=%d", h.Base, lvl2)
			if err := s.Navigate(ctx, pageURL); err != nil {
				h.logger.Warn("Category navigation failed", "url", pageURL, "error", err)
				continue
			}
			if err := s.WaitContent(ctx, vivaCardSelector); err != nil {
				h.logger.Info("No cards in category", "lvl2", lvl2)
				continue
			}
			scrollToEnd(ctx, s, vivaScrollRounds, 350*time.Millisecond)

			html, err := s.HTML(ctx)
			if err != nil {
				h.logger.Warn("Failed to read rendered page", "url", pageURL, "error", err)
				continue
			}
			cards := ParseVivaCards(html, h.Base)
			h.logger.Debug("Category parsed", "lvl2", lvl2, "offers", len(cards))
			offers = append(offers, cards...)
		}
		return nil
	})
	if err != nil && len(offers) == 0 {
		return nil, err
	}
	return offers, nil
}

// ParseVivaCards reads offers from a rendered category grid. Cards without a
// readable price are dropped.
func ParseVivaCards(html, base string) []models.RawOffer {
	doc, err := parseHTML([]byte(html))
	if err != nil {
		return nil
	}
	var offers []models.RawOffer
	doc.Find(vivaCardSelector).Each(func(_ int, card *goquery.Selection) {
		name := vivaCardName(card)
		if name == "" {
			return
		}
		price, ok := vivaCardPrice(card)
		if !ok {
			return
		}
		link := resolveURL(base, card.Find("a[href]").First().AttrOr("href", ""))
		ext := link
		if ext == "" {
			ext = name
		}
		offers = append(offers, models.RawOffer{
			Name:       name,
			Price:      price,
			Reference:  link,
			ExternalID: firstN(ext, 64),
		})
	})
	return offers
}

func vivaCardName(card *goquery.Selection) string {
	for _, sel := range vivaNameSelectors {
		if txt := cleanText(card.Find(sel).First()); txt != "" {
			return txt
		}
	}
	if title := strings.TrimSpace(card.Find("a[title]").First().AttrOr("title", "")); title != "" {
		return title
	}
	// fall back to the first element carrying text
	var name string
	card.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if el.Children().Length() == 0 {
			name = cleanText(el)
		}
		return name == ""
	})
	return name
}

func vivaCardPrice(card *goquery.Selection) (float64, bool) {
	for _, sel := range vivaPriceSelectors {
		el := card.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if p, err := ParsePrice(el.Text()); err == nil {
			return p, true
		}
	}
	for _, attr := range vivaPriceAttrs {
		val, ok := card.Attr(attr)
		if !ok {
			val, ok = card.Find("[" + attr + "]").First().Attr(attr)
		}
		if ok {
			if p, err := ParsePrice(val); err == nil {
				return p, true
			}
		}
	}
	if val, ok := card.Find("meta[itemprop=price]").First().Attr("content"); ok {
		if p, err := ParsePrice(val); err == nil {
			return p, true
		}
	}
	return FindEuroAmount(cleanText(card))
}

// clickPrompts clicks the first visible button or link whose text contains
// one of the labels. Missing prompts are not an error.
func clickPrompts(ctx context.Context, s browser.Session, labels []string) {
	var cleaned []string
	for _, l := range labels {
		if strings.TrimSpace(l) != "" {
			cleaned = append(cleaned, strings.ToLower(l))
		}
	}
	if len(cleaned) == 0 {
		return
	}
	js := fmt.Sprintf(`() => {
		const labels = %s;
		const els = Array.from(document.querySelectorAll('button, a, [role="button"]'));
		for (const el of els) {
			const txt = (el.innerText || '').toLowerCase();
			if (labels.some(l => txt.includes(l))) { el.click(); return true; }
		}
		return false;
	}`, jsStrings(cleaned))
	var clicked bool
	if err := s.Eval(ctx, js, &clicked); err == nil && clicked {
		pause(ctx, 300*time.Millisecond)
	}
}

// scrollToEnd scrolls until the document height stops changing or rounds run out
func scrollToEnd(ctx context.Context, s browser.Session, rounds int, wait time.Duration) {
	last := -1
	for i := 0; i < rounds; i++ {
		var h int
		err := s.Eval(ctx, `() => { window.scrollTo(0, document.body.scrollHeight); return document.body.scrollHeight; }`, &h)
		if err != nil {
			return
		}
		pause(ctx, wait)
		if h == last {
			return
		}
		last = h
	}
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
