package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"kpc/browser"
	"kpc/extractor"
	"kpc/logger"
	"kpc/models"
	"kpc/pdf"
)

var (
	pdfRe    = regexp.MustCompile(`(?i)(?:https?:)?//[^'"<>\s]+?\.pdf(?:\?[^'"<>\s]*)?`)
	relPDFRe = regexp.MustCompile(`(?i)[^'"<>\s=()]+?\.pdf(?:\?[^'"<>\s]*)?`)
)

const maxDetailPages = 20

// PDFParser turns flyer bytes into items and a validity window
type PDFParser interface {
	Extract(ctx context.Context, data []byte) (extractor.Result, error)
}

// flyerOffers converts extracted flyer items into promo offers
func flyerOffers(res extractor.Result, ref string) []models.RawOffer {
	offers := make([]models.RawOffer, 0, len(res.Items))
	for _, it := range res.Items {
		offers = append(offers, models.RawOffer{
			Name:       it.Name,
			Price:      it.Price,
			Reference:  ref,
			ExternalID: firstN(it.Name, 64),
			Promo:      true,
			ValidFrom:  res.ValidFrom,
			ValidTo:    res.ValidTo,
			Brand:      it.Brand,
			Category:   it.Category,
		})
	}
	return offers
}

func isPDFLink(u string) bool {
	l := strings.ToLower(u)
	return strings.HasSuffix(l, ".pdf") || strings.Contains(l, ".pdf?")
}

func isPDFResponse(r *Response) bool {
	return r.OK() && (strings.Contains(r.ContentType(), "pdf") || pdf.IsPDF(r.Body))
}

// parseFlyers downloads every link through get and parses the PDFs it yields.
// A link that cannot be downloaded or parsed is skipped.
func parseFlyers(ctx context.Context, links []string, get func(context.Context, string) ([]byte, string, error), parser PDFParser, log *logger.Logger) []models.RawOffer {
	var offers []models.RawOffer
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			break
		}
		data, finalURL, err := get(ctx, link)
		if err != nil {
			log.Warn("Flyer download failed", "url", link, "error", err)
			continue
		}
		res, err := parser.Extract(ctx, data)
		if err != nil {
			log.Warn("Flyer parse failed", "url", finalURL, "error", err)
			continue
		}
		log.Info("Flyer parsed", "url", finalURL, "items", len(res.Items))
		offers = append(offers, flyerOffers(res, finalURL)...)
	}
	return offers
}

// SparFlyerHome is the SPAR Kosova homepage that links the current flyers
const SparFlyerHome = "https://spar-kosova.com/"

// SparFlyerHarvester reads the PDF flyers linked from the SPAR homepage
type SparFlyerHarvester struct {
	Home string

	fetcher *Fetcher
	parser  PDFParser
	logger  *logger.Logger
}

// NewSparFlyerHarvester creates the SPAR flyer harvester
func NewSparFlyerHarvester(f *Fetcher, parser PDFParser, log *logger.Logger) *SparFlyerHarvester {
	if log == nil {
		log = logger.Nop()
	}
	return &SparFlyerHarvester{
		Home:    SparFlyerHome,
		fetcher: f,
		parser:  parser,
		logger:  log.With("source", "spar-flyer"),
	}
}

// Slug identifies the store
func (h *SparFlyerHarvester) Slug() string { return "spar-flyer" }

// Harvest finds the flyer links and parses each PDF
func (h *SparFlyerHarvester) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	body, err := h.fetcher.FetchHTML(ctx, h.Home)
	if err != nil {
		return nil, err
	}
	links := FindSparFlyerLinks(body, h.Home)
	h.logger.Info("Flyer links found", "count", len(links))
	if len(links) == 0 {
		return nil, fmt.Errorf("no flyer links on %s: %w", h.Home, models.ErrNoContent)
	}
	return parseFlyers(ctx, links, h.download, h.parser, h.logger), nil
}

// download fetches a flyer link. Links that answer with a page instead of a
// PDF are resolved one level deep through the page's PDF anchors.
func (h *SparFlyerHarvester) download(ctx context.Context, link string) ([]byte, string, error) {
	resp, err := h.fetcher.Get(ctx, link, nil)
	if err != nil {
		return nil, "", err
	}
	if isPDFResponse(resp) {
		return resp.Body, resp.URL, nil
	}

	doc, err := parseHTML(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("intermediate page %s unreadable: %w", link, err)
	}
	var inner []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href := resolveURL(resp.URL, a.AttrOr("href", "")); isPDFLink(href) {
			inner = append(inner, href)
		}
	})
	for _, u := range dedupe(inner) {
		r, err := h.fetcher.Get(ctx, u, nil)
		if err != nil {
			continue
		}
		if isPDFResponse(r) {
			return r.Body, r.URL, nil
		}
	}
	return nil, "", fmt.Errorf("no pdf behind %s (status %d)", link, resp.Status)
}

// FindSparFlyerLinks returns anchors that point at a PDF or whose text names
// an offer or flyer, in page order
func FindSparFlyerLinks(html, base string) []string {
	doc, err := parseHTML([]byte(html))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		text := strings.ToLower(cleanText(a))
		if isPDFLink(href) || strings.Contains(text, "oferta") || strings.Contains(text, "fletushk") {
			urls = append(urls, resolveURL(base, href))
		}
	})
	return dedupe(urls)
}

// EtcFlyerListing is the ETC flyer listing page
const EtcFlyerListing = "https://etc-ks.com/magazina.php"

// EtcFlyerHarvester locates ETC flyers through progressively heavier link
// discovery: the plain listing, the rendered listing with its detail pages,
// then the same on the www host
type EtcFlyerHarvester struct {
	Listing string

	fetcher  *Fetcher
	launcher browser.Launcher
	opts     browser.Options
	parser   PDFParser
	logger   *logger.Logger
}

// NewEtcFlyerHarvester creates the ETC flyer harvester. launcher may be nil,
// which leaves only the plain HTML tier.
func NewEtcFlyerHarvester(listing string, f *Fetcher, l browser.Launcher, opts browser.Options, parser PDFParser, log *logger.Logger) *EtcFlyerHarvester {
	if log == nil {
		log = logger.Nop()
	}
	if listing == "" {
		listing = EtcFlyerListing
	}
	return &EtcFlyerHarvester{
		Listing:  listing,
		fetcher:  f,
		launcher: l,
		opts:     opts,
		parser:   parser,
		logger:   log.With("source", "etc-flyer"),
	}
}

// Slug identifies the store
func (h *EtcFlyerHarvester) Slug() string { return "etc-flyer" }

// Harvest discovers flyer links and parses each PDF
func (h *EtcFlyerHarvester) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	links, tier, err := FirstOf(ctx, h.logger, h.linkStrategies()...)
	if err != nil {
		return nil, err
	}
	h.logger.Info("Flyer links found", "tier", tier, "count", len(links))
	return parseFlyers(ctx, links, h.download, h.parser, h.logger), nil
}

func (h *EtcFlyerHarvester) linkStrategies() []Strategy[string] {
	strategies := []Strategy[string]{{
		Name: "html",
		Run: func(ctx context.Context) ([]string, error) {
			body, err := h.fetcher.FetchHTML(ctx, h.Listing)
			if err != nil {
				return nil, err
			}
			return ExtractPDFLinks(body, h.Listing), nil
		},
	}}
	if h.launcher == nil {
		return strategies
	}
	strategies = append(strategies, Strategy[string]{
		Name: "rendered",
		Run: func(ctx context.Context) ([]string, error) {
			return h.rendered(ctx, h.Listing)
		},
	})
	if alt := wwwVariant(h.Listing); alt != "" {
		strategies = append(strategies, Strategy[string]{
			Name: "alternate-host",
			Run: func(ctx context.Context) ([]string, error) {
				return h.rendered(ctx, alt)
			},
		})
	}
	return strategies
}

// rendered sweeps the rendered listing, then its detail pages when the listing has no PDF
func (h *EtcFlyerHarvester) rendered(ctx context.Context, listing string) ([]string, error) {
	var found []string
	err := browser.WithSession(ctx, h.launcher, h.opts, func(s browser.Session) error {
		html, err := renderHTML(ctx, s, listing)
		if err != nil {
			return err
		}
		if found = ScanPDFLinks(html, listing); len(found) > 0 {
			return nil
		}

		for _, link := range DetailCandidates(html, listing) {
			dhtml, err := renderHTML(ctx, s, link)
			if err != nil {
				h.logger.Debug("Detail page failed", "url", link, "error", err)
				continue
			}
			found = append(found, ScanPDFLinks(dhtml, link)...)
		}
		found = dedupe(found)
		return nil
	})
	return found, err
}

func renderHTML(ctx context.Context, s browser.Session, pageURL string) (string, error) {
	if err := s.Navigate(ctx, pageURL); err != nil {
		return "", err
	}
	_ = s.WaitContent(ctx, "")
	return s.HTML(ctx)
}

func (h *EtcFlyerHarvester) download(ctx context.Context, link string) ([]byte, string, error) {
	resp, err := h.fetcher.Get(ctx, link, nil)
	if err != nil {
		return nil, "", err
	}
	if !resp.OK() || !strings.Contains(resp.ContentType(), "pdf") {
		return nil, "", fmt.Errorf("%s is not a pdf (status %d, type %q)", link, resp.Status, resp.ContentType())
	}
	return resp.Body, resp.URL, nil
}

// ExtractPDFLinks scans plain listing HTML: anchors pointing at a PDF,
// anchors whose text mentions pdf, and data-href attributes
func ExtractPDFLinks(html, base string) []string {
	doc, err := parseHTML([]byte(html))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if strings.Contains(strings.ToLower(href), ".pdf") || strings.Contains(strings.ToLower(cleanText(a)), "pdf") {
			urls = append(urls, resolveURL(base, href))
		}
	})
	doc.Find("[data-href]").Each(func(_ int, el *goquery.Selection) {
		if href := el.AttrOr("data-href", ""); strings.Contains(strings.ToLower(href), ".pdf") {
			urls = append(urls, resolveURL(base, href))
		}
	})
	return filterPDF(urls)
}

// ScanPDFLinks sweeps rendered HTML for PDF references in any href, src,
// data or onclick attribute, in iframe/embed/object sources, and in the raw markup
func ScanPDFLinks(html, base string) []string {
	var urls []string
	if doc, err := parseHTML([]byte(html)); err == nil {
		doc.Find("*").Each(func(_ int, el *goquery.Selection) {
			for _, attr := range []string{"href", "src", "data", "onclick"} {
				if val, ok := el.Attr(attr); ok {
					urls = append(urls, pdfRefs(val, base)...)
				}
			}
		})
		for _, pair := range [][2]string{{"iframe[src]", "src"}, {"embed[src]", "src"}, {"object[data]", "data"}} {
			doc.Find(pair[0]).Each(func(_ int, el *goquery.Selection) {
				if v := el.AttrOr(pair[1], ""); strings.Contains(strings.ToLower(v), ".pdf") {
					urls = append(urls, resolveURL(base, v))
				}
			})
		}
	}
	urls = append(urls, pdfRefs(html, base)...)
	return filterPDF(urls)
}

func pdfRefs(text, base string) []string {
	var out []string
	for _, m := range pdfRe.FindAllString(text, -1) {
		out = append(out, resolveURL(base, m))
	}
	for _, m := range relPDFRe.FindAllString(text, -1) {
		out = append(out, resolveURL(base, m))
	}
	return out
}

func filterPDF(urls []string) []string {
	var out []string
	for _, u := range urls {
		if isPDFLink(u) {
			out = append(out, u)
		}
	}
	return dedupe(out)
}

// DetailCandidates lists same-site pages that may hold a flyer: php pages,
// magazine, flyer, leaflet or show pages. Falls back to any php page.
func DetailCandidates(html, listing string) []string {
	doc, err := parseHTML([]byte(html))
	if err != nil {
		return nil
	}
	site := siteHost(listing)
	var all, picked []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		h := resolveURL(listing, a.AttrOr("href", ""))
		if h == "" || !strings.HasPrefix(h, "http") || siteHost(h) != site {
			return
		}
		all = append(all, h)
		l := strings.ToLower(h)
		if strings.Contains(l, ".pdf") || h == listing {
			return
		}
		if strings.Contains(l, ".php") || strings.Contains(l, "/magazina") || strings.Contains(l, "/fletushk") ||
			strings.Contains(l, "leaflet") || strings.Contains(l, "show") {
			picked = append(picked, h)
		}
	})
	if len(picked) == 0 {
		for _, h := range all {
			if strings.HasSuffix(strings.ToLower(h), ".php") && h != listing {
				picked = append(picked, h)
			}
		}
	}
	picked = dedupe(picked)
	if len(picked) > maxDetailPages {
		picked = picked[:maxDetailPages]
	}
	return picked
}

// siteHost returns the registrable domain of raw, or its host without www
// when it has none (IP addresses, single-label hosts)
func siteHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return site
	}
	return strings.TrimPrefix(host, "www.")
}

// wwwVariant returns the listing on the www host, or "" when it already is
func wwwVariant(listing string) string {
	u, err := url.Parse(listing)
	if err != nil || u.Host == "" || strings.HasPrefix(u.Host, "www.") {
		return ""
	}
	u.Host = "www." + u.Host
	return u.String()
}
