package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"kpc/browser"
	"kpc/config"
	"kpc/extractor"
	"kpc/freshness"
	"kpc/logger"
	"kpc/models"
)

// Social surfaces
const (
	MbasicFacebook = "https://mbasic.facebook.com"
	MobileFacebook = "https://m.facebook.com"
)

const (
	surfacePages    = 3
	linksPerPage    = 24
	photoAlbums     = 2
	permalinkFollow = 80
	ocrParallelism  = 2
)

var (
	fullSizeHints  = []string{"view_source", "view_full_size", "view_full", "download", "shiko madhësi të plotë", "view full size"}
	albumKeywords  = []string{"ofert", "akc", "flyer", "broshur", "zbrit"}
	seeMoreLabels  = []string{"Shiko më shumë", "See more"}
	cookieLabels   = []string{"Lejo të gjitha", "Prano të gjitha", "Accept all", "Allow all", "Only allow essential", "Vetëm të domosdoshmet"}
	variantSuffix  = regexp.MustCompile(`(?i)[_-][on]\.(?:jpe?g|png)$`)
	photoLinkQuery = `a[href*="photo.php"], a[href*="/photos/"], a[href*="/photo/?"]`
)

// SocialHarvester turns a store's social photo feed into offers: it collects
// candidate flyer photos, keeps the freshest, downloads them with their
// permalink as referer, OCRs them and screens out non-product posts
type SocialHarvester struct {
	MbasicBase string
	MobileBase string

	slug       string
	page       string
	cookie     string
	wantN      int
	maxAgeDays int

	fetcher    *Fetcher
	launcher   browser.Launcher
	opts       browser.Options
	recognizer extractor.Recognizer
	detector   *BotDetector
	logger     *logger.Logger
}

// NewSocialHarvester creates a photo harvester for one page. launcher may be
// nil, which leaves only the lightweight surfaces.
func NewSocialHarvester(slug, page string, cfg config.HarvestConfig, f *Fetcher, l browser.Launcher, rec extractor.Recognizer, log *logger.Logger) *SocialHarvester {
	if log == nil {
		log = logger.Nop()
	}
	cookie := WithDeviceHints(cfg.FBCookie, cfg.DeviceWidth, cfg.DeviceHeight, cfg.DeviceDPR)
	w, h, dpr := DeviceHints(cookie, cfg.DeviceWidth, cfg.DeviceHeight, cfg.DeviceDPR)
	wantN := cfg.WantN
	if wantN <= 0 {
		wantN = 12
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 10
	}
	return &SocialHarvester{
		MbasicBase: MbasicFacebook,
		MobileBase: MobileFacebook,
		slug:       slug,
		page:       page,
		cookie:     cookie,
		wantN:      wantN,
		maxAgeDays: maxAge,
		fetcher:    f,
		launcher:   l,
		opts: browser.Options{
			UserAgent: cfg.UserAgent,
			Width:     w,
			Height:    h,
			DPR:       dpr,
			Mobile:    true,
			Headers:   map[string]string{"Accept-Language": "sq-AL,sq;q=0.9,en;q=0.8"},
		},
		recognizer: rec,
		detector:   NewBotDetector(),
		logger:     log.With("source", slug, "page", page),
	}
}

// Slug identifies the store
func (h *SocialHarvester) Slug() string { return h.slug }

// Harvest collects, ranks, downloads and reads the store's recent photos
func (h *SocialHarvester) Harvest(ctx context.Context, hc *Context) ([]models.RawOffer, error) {
	seen := hc.Seen(h.slug)

	cands, err := h.lightweight(ctx, seen, h.wantN*5)
	if err != nil {
		h.logger.Warn("Lightweight surfaces failed", "error", err)
	}
	h.logger.Info("Lightweight candidates", "count", len(cands))

	if need := h.wantN*3 - len(cands); need > 0 && h.launcher != nil {
		more, rerr := h.rendered(ctx, seen, need)
		if rerr != nil {
			h.logger.Warn("Rendered top-up failed", "error", rerr)
			if err == nil {
				err = rerr
			}
		}
		cands = append(cands, more...)
	}

	cands = withPermalink(cands)
	if len(cands) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no photo candidates for %s: %w", h.page, models.ErrNoContent)
	}

	ranked := freshness.Rank(freshness.Stamp(ctx, h, cands), hc.Now, h.maxAgeDays, h.wantN)
	h.logger.Info("Photos selected", "candidates", len(cands), "kept", len(ranked))
	return h.readPhotos(ctx, ranked)
}

// readPhotos downloads and OCRs the selected photos with bounded parallelism.
// Offers keep the ranking order.
func (h *SocialHarvester) readPhotos(ctx context.Context, cands []freshness.Candidate) ([]models.RawOffer, error) {
	results := make([][]models.RawOffer, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ocrParallelism)
	for i, c := range cands {
		g.Go(func() error {
			offers, err := h.readPhoto(gctx, c)
			if err != nil {
				h.logger.Warn("Photo skipped", "permalink", c.Permalink, "error", err)
				return nil
			}
			results[i] = offers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var offers []models.RawOffer
	for _, r := range results {
		offers = append(offers, r...)
	}
	return offers, ctx.Err()
}

func (h *SocialHarvester) readPhoto(ctx context.Context, c freshness.Candidate) ([]models.RawOffer, error) {
	data, err := h.download(ctx, c)
	if err != nil {
		return nil, err
	}
	res, text, err := extractor.ExtractImage(ctx, h.recognizer, data)
	if err != nil {
		return nil, fmt.Errorf("ocr failed: %w", err)
	}
	w, ht := imageSize(data)
	if reason := ScreenPhoto(text, c.Asset, w, ht); reason != "" {
		h.logger.Debug("Photo rejected", "permalink", c.Permalink, "reason", reason)
		return nil, nil
	}

	photoID := freshness.PhotoID(c.Permalink)
	offers := make([]models.RawOffer, 0, len(res.Items))
	for _, it := range res.Items {
		ext := ""
		if photoID != "" {
			ext = photoID + "#" + firstN(it.Name, 48)
		}
		offers = append(offers, models.RawOffer{
			Name:       it.Name,
			Price:      it.Price,
			Reference:  c.Permalink,
			ExternalID: ext,
			ObservedAt: c.Timestamp,
			Promo:      true,
			ValidFrom:  res.ValidFrom,
			ValidTo:    res.ValidTo,
			Brand:      it.Brand,
			Category:   it.Category,
		})
	}
	h.logger.Debug("Photo parsed", "permalink", c.Permalink, "items", len(offers))
	return offers, nil
}

// download fetches the exact asset URL with the permalink as referer. A 403
// falls back to a rendered screenshot of the asset, then to hardened headers.
func (h *SocialHarvester) download(ctx context.Context, c freshness.Candidate) ([]byte, error) {
	headers := h.cookieHeaders(map[string]string{
		"Accept":  "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
		"Referer": c.Permalink,
	})
	resp, err := h.fetcher.Get(ctx, c.Asset, headers)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		return resp.Body, nil
	}
	if resp.Status != http.StatusForbidden {
		return nil, fmt.Errorf("asset answered %d", resp.Status)
	}

	if h.launcher != nil {
		if shot, err := h.screenshotAsset(ctx, c); err == nil && len(shot) > 0 {
			return shot, nil
		} else if err != nil {
			h.logger.Debug("Rendered asset fallback failed", "asset", c.Asset, "error", err)
		}
	}

	for k, v := range map[string]string{
		"Referer":            h.MobileBase + "/",
		"Origin":             h.MobileBase,
		"Sec-Fetch-Dest":     "image",
		"Sec-Fetch-Mode":     "no-cors",
		"Sec-Fetch-Site":     "same-site",
		"sec-ch-ua":          `"Chromium";v="124", "Not.A/Brand";v="24"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
	} {
		headers[k] = v
	}
	retry, err := h.fetcher.Get(ctx, c.Asset, headers)
	if err != nil {
		return nil, err
	}
	if !retry.OK() {
		return nil, fmt.Errorf("asset still answered %d after fallbacks: %w", retry.Status, models.ErrSourceBlocked)
	}
	return retry.Body, nil
}

func (h *SocialHarvester) screenshotAsset(ctx context.Context, c freshness.Candidate) ([]byte, error) {
	var shot []byte
	err := h.session(ctx, func(s browser.Session) error {
		if err := s.Navigate(ctx, c.Permalink); err != nil {
			return err
		}
		if err := s.Navigate(ctx, c.Asset); err != nil {
			return err
		}
		var err error
		shot, err = s.Screenshot(ctx)
		return err
	})
	return shot, err
}

func (h *SocialHarvester) cookieHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{"Cache-Control": "no-cache", "Pragma": "no-cache"}
	if h.cookie != "" {
		headers["Cookie"] = h.cookie
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

// lightweight walks the basic photo surfaces and the newest flyer albums
func (h *SocialHarvester) lightweight(ctx context.Context, seen *freshness.Seen, limit int) ([]freshness.Candidate, error) {
	var cands []freshness.Candidate
	walled := 0
	surfaces := []string{
		fmt.Sprintf("%s/%s/photos_by", h.MbasicBase, h.page),
		fmt.Sprintf("%s/%s/photos", h.MbasicBase, h.page),
	}

	for _, surface := range surfaces {
		next := surface
		for i := 0; i < surfacePages && next != "" && len(cands) < limit; i++ {
			body, err := h.fetchPage(ctx, next)
			if err != nil {
				h.logger.Debug("Surface fetch failed", "url", next, "error", err)
				break
			}
			if h.detector.IsLoginWall(next, body) {
				walled++
				break
			}
			doc, err := parseHTML([]byte(body))
			if err != nil {
				break
			}
			cands = h.followLinks(ctx, photoLinks(doc), seen, cands, limit)
			next = seeMore(doc, h.MbasicBase)
		}
	}

	if len(cands) < limit {
		cands = h.albums(ctx, seen, cands, limit)
	}
	if len(cands) == 0 && walled == len(surfaces) {
		return nil, fmt.Errorf("login wall on every surface of %s: %w", h.page, models.ErrSourceBlocked)
	}
	return cands, nil
}

// albums visits up to two albums whose title suggests flyers, or the first album
func (h *SocialHarvester) albums(ctx context.Context, seen *freshness.Seen, cands []freshness.Candidate, limit int) []freshness.Candidate {
	body, err := h.fetchPage(ctx, fmt.Sprintf("%s/%s/photos_albums", h.MbasicBase, h.page))
	if err != nil {
		return cands
	}
	doc, err := parseHTML([]byte(body))
	if err != nil {
		return cands
	}

	var picked, all []string
	doc.Find(`a[href*="/albums/"]`).Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if href == "" {
			return
		}
		all = append(all, href)
		if containsAnyWord(cleanText(a), albumKeywords) {
			picked = append(picked, href)
		}
	})
	if len(picked) == 0 && len(all) > 0 {
		picked = all[:1]
	}
	if len(picked) > photoAlbums {
		picked = picked[:photoAlbums]
	}

	for _, href := range picked {
		albumBody, err := h.fetchPage(ctx, resolveURL(h.MbasicBase+"/", href))
		if err != nil {
			continue
		}
		adoc, err := parseHTML([]byte(albumBody))
		if err != nil {
			continue
		}
		cands = h.followLinks(ctx, photoLinks(adoc), seen, cands, limit)
	}
	return cands
}

func (h *SocialHarvester) followLinks(ctx context.Context, links []string, seen *freshness.Seen, cands []freshness.Candidate, limit int) []freshness.Candidate {
	if len(links) > linksPerPage {
		links = links[:linksPerPage]
	}
	for _, link := range links {
		if len(cands) >= limit || ctx.Err() != nil {
			break
		}
		full, err := h.resolveFull(ctx, link)
		if err != nil || full == "" || freshness.IsThumbnail(full) {
			continue
		}
		if !seen.Add(full) {
			continue
		}
		cands = append(cands, freshness.Candidate{Asset: full, Permalink: h.mobileURL(link)})
	}
	return cands
}

// resolveFull finds the full-size asset behind a photo page: a view-full-size
// link (its redirect or the image it serves), else the best og:image
func (h *SocialHarvester) resolveFull(ctx context.Context, link string) (string, error) {
	pageURL := h.mobileURL(link)
	resp, err := h.fetcher.Get(ctx, pageURL, h.cookieHeaders(nil))
	if err != nil {
		return "", err
	}
	doc, err := parseHTML(resp.Body)
	if err != nil {
		return "", err
	}

	if cand := fullSizeLink(doc); cand != "" {
		cand = h.mobileURL(cand)
		r2, err := h.fetcher.Probe(ctx, cand, h.cookieHeaders(map[string]string{"Referer": pageURL}))
		if err == nil {
			if r2.Status >= 300 && r2.Status < 400 && r2.Location() != "" && !freshness.IsThumbnail(r2.Location()) {
				return resolveURL(cand, r2.Location()), nil
			}
			if r2.OK() {
				if d2, err := parseHTML(r2.Body); err == nil {
					if src := d2.Find("img[src]").First().AttrOr("src", ""); src != "" && !freshness.IsThumbnail(src) {
						return src, nil
					}
				}
			}
		}
	}

	if og := PickOGImage(doc); og != "" && !freshness.IsThumbnail(og) {
		return og, nil
	}
	return "", nil
}

func fullSizeLink(doc *goquery.Document) string {
	var cand string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if strings.Contains(href, "view_source") || strings.Contains(href, "view_full_size") ||
			strings.Contains(href, "view_full") || strings.Contains(href, "/download/") {
			cand = href
		}
		return cand == ""
	})
	if cand != "" {
		return cand
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.ToLower(cleanText(a) + " " + a.AttrOr("aria-label", ""))
		for _, hint := range fullSizeHints {
			if strings.Contains(label, hint) {
				cand = a.AttrOr("href", "")
				return false
			}
		}
		return true
	})
	return cand
}

// PickOGImage returns the og:image most likely to be the original: no stp
// size hint first, then the _o/_n variant, then the longest URL
func PickOGImage(doc *goquery.Document) string {
	type scored struct {
		url            string
		noStp, variant int
	}
	var cands []scored
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, m *goquery.Selection) {
		content := m.AttrOr("content", "")
		if content == "" {
			return
		}
		s := scored{url: content}
		if u, err := url.Parse(content); err == nil {
			if u.Query().Get("stp") == "" {
				s.noStp = 1
			}
			base := u.Path[strings.LastIndex(u.Path, "/")+1:]
			if variantSuffix.MatchString(base) {
				s.variant = 1
			}
		}
		cands = append(cands, s)
	})
	if len(cands) == 0 {
		return ""
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.noStp != b.noStp {
			return a.noStp > b.noStp
		}
		if a.variant != b.variant {
			return a.variant > b.variant
		}
		return len(a.url) > len(b.url)
	})
	return cands[0].url
}

func photoLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find(photoLinkQuery).Each(func(_ int, a *goquery.Selection) {
		links = append(links, a.AttrOr("href", ""))
	})
	return dedupe(links)
}

func seeMore(doc *goquery.Document, base string) string {
	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		txt := cleanText(a)
		for _, l := range seeMoreLabels {
			if strings.Contains(txt, l) {
				next = resolveURL(base+"/", a.AttrOr("href", ""))
				return false
			}
		}
		return true
	})
	return next
}

// fetchPage loads a surface with a cache-busting parameter and the session cookie
func (h *SocialHarvester) fetchPage(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("nocache", strconv.FormatInt(time.Now().Unix(), 10))
	u.RawQuery = q.Encode()

	resp, err := h.fetcher.Get(ctx, u.String(), h.cookieHeaders(nil))
	if err != nil {
		return "", err
	}
	if resp.Status == http.StatusForbidden || resp.Status == http.StatusTooManyRequests {
		return "", fmt.Errorf("%s answered %d: %w", pageURL, resp.Status, models.ErrSourceBlocked)
	}
	if !resp.OK() {
		return "", fmt.Errorf("unexpected status %d for %s", resp.Status, pageURL)
	}
	return string(resp.Body), nil
}

// FetchHTML loads a permalink with the session cookie so its timestamp can be read
func (h *SocialHarvester) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	resp, err := h.fetcher.Get(ctx, pageURL, h.cookieHeaders(nil))
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("unexpected status %d for %s", resp.Status, pageURL)
	}
	return string(resp.Body), nil
}

// mobileURL turns a relative or basic/www permalink into its mobile form,
// which is what assets accept as referer
func (h *SocialHarvester) mobileURL(link string) string {
	if strings.HasPrefix(link, "/") && !strings.HasPrefix(link, "//") {
		link = h.MobileBase + link
	}
	link = strings.Replace(link, "mbasic.facebook.com", "m.facebook.com", 1)
	return strings.Replace(link, "www.facebook.com", "m.facebook.com", 1)
}

func withPermalink(cands []freshness.Candidate) []freshness.Candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if freshness.HasPermalink(c.Permalink) {
			out = append(out, c)
		}
	}
	return out
}

// WithDeviceHints appends the wd and dpr cookies a mobile session carries
// when the configured cookie lacks them
func WithDeviceHints(cookie string, width, height int, dpr float64) string {
	cookie = strings.Trim(strings.TrimSpace(cookie), `"'`)
	if cookie == "" {
		return ""
	}
	if width <= 0 || height <= 0 {
		width, height = 412, 915
	}
	if dpr <= 0 {
		dpr = 3.0
	}
	var parts []string
	if cookieToken(cookie, "wd") == "" {
		parts = append(parts, fmt.Sprintf("wd=%dx%d", width, height))
	}
	if cookieToken(cookie, "dpr") == "" {
		parts = append(parts, "dpr="+strconv.FormatFloat(dpr, 'f', -1, 64))
	}
	if len(parts) == 0 {
		return cookie
	}
	return strings.TrimRight(cookie, "; ") + "; " + strings.Join(parts, "; ")
}

// DeviceHints reads the viewport the cookie was issued for, falling back to the defaults
func DeviceHints(cookie string, width, height int, dpr float64) (int, int, float64) {
	if width <= 0 || height <= 0 {
		width, height = 412, 915
	}
	if dpr <= 0 {
		dpr = 3.0
	}
	if wd := cookieToken(cookie, "wd"); wd != "" {
		if ws, hs, ok := strings.Cut(wd, "x"); ok {
			w, errW := strconv.ParseFloat(ws, 64)
			hh, errH := strconv.ParseFloat(hs, 64)
			if errW == nil && errH == nil && w > 0 && hh > 0 {
				width, height = int(w), int(hh)
			}
		}
	}
	if v := cookieToken(cookie, "dpr"); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil && d > 0 {
			dpr = d
		}
	}
	return width, height, dpr
}

func cookieToken(cookie, key string) string {
	for _, part := range strings.Split(cookie, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name == key {
			return value
		}
	}
	return ""
}
