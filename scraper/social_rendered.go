package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"kpc/browser"
	"kpc/freshness"
	"kpc/models"
)

const (
	minPhotoArea = 300_000
	minPhotoSide = 750
)

// ImageRecord is what the grid collector reports for every rendered image
type ImageRecord struct {
	Src  string  `json:"src"`
	Href string  `json:"href"`
	W    int     `json:"w"`
	H    int     `json:"h"`
	Y    float64 `json:"y"`
}

const collectImagesJS = `() => Array.from(document.images).map(img => {
	const a = img.closest('a');
	const r = img.getBoundingClientRect();
	return {
		src: img.currentSrc || img.src || '',
		href: a ? a.href : '',
		w: img.naturalWidth || 0,
		h: img.naturalHeight || 0,
		y: r.top + window.scrollY
	};
})`

const photoHrefsJS = `() => Array.from(document.querySelectorAll('a[href]'))
	.map(a => a.href)
	.filter(h => h.includes('/photo.php') || h.includes('/photos/') || h.includes('/photo/?'))`

const bestImageJS = `() => {
	let best = null, area = 0;
	for (const img of document.images) {
		const src = img.currentSrc || img.src || '';
		if (!src.includes('fbcdn.net')) continue;
		const a = (img.naturalWidth || 0) * (img.naturalHeight || 0);
		if (a > area) { area = a; best = src; }
	}
	return best || '';
}`

const gridContentJS = `() => document.querySelectorAll('a[href*="/photo"] img, a[href*="/photos/"] img').length > 0`

// rendered tops up the candidate pool from a rendered mobile session: it
// reads the photo grid and then follows permalinks to their largest image
func (h *SocialHarvester) rendered(ctx context.Context, seen *freshness.Seen, need int) ([]freshness.Candidate, error) {
	var cands []freshness.Candidate
	err := h.session(ctx, func(s browser.Session) error {
		hrefs, err := h.openGrid(ctx, s)
		if err != nil {
			return err
		}

		var records []ImageRecord
		if err := s.Eval(ctx, collectImagesJS, &records); err != nil {
			h.logger.Debug("Image collector failed", "error", err)
		}
		for _, r := range GridPhotos(records) {
			if len(cands) >= need {
				return nil
			}
			if seen.Add(r.Src) {
				cands = append(cands, freshness.Candidate{Asset: r.Src, Permalink: h.mobileURL(r.Href)})
			}
		}

		if len(hrefs) > permalinkFollow {
			hrefs = hrefs[:permalinkFollow]
		}
		for _, href := range hrefs {
			if len(cands) >= need || ctx.Err() != nil {
				break
			}
			c, ok := h.followPermalink(ctx, s, h.mobileURL(href))
			if ok && seen.Add(c.Asset) {
				cands = append(cands, c)
			}
		}
		return nil
	})
	h.logger.Info("Rendered candidates", "count", len(cands))
	if err != nil && len(cands) == 0 {
		return nil, err
	}
	return cands, nil
}

// openGrid loads the first photo surface that shows a grid and returns its permalinks
func (h *SocialHarvester) openGrid(ctx context.Context, s browser.Session) ([]string, error) {
	walled := false
	for _, surface := range []string{"photos", "photos_by", "photos_stream"} {
		pageURL := fmt.Sprintf("%s/%s/%s", h.MobileBase, h.page, surface)
		if err := s.Navigate(ctx, pageURL); err != nil {
			h.logger.Debug("Surface navigation failed", "url", pageURL, "error", err)
			continue
		}
		clickPrompts(ctx, s, cookieLabels)

		html, err := s.HTML(ctx)
		if err == nil && h.detector.IsLoginWall(s.URL(), html) {
			walled = true
			continue
		}
		scrollToEnd(ctx, s, 12, 600*time.Millisecond)

		var hasGrid bool
		if err := s.Eval(ctx, gridContentJS, &hasGrid); err != nil || !hasGrid {
			continue
		}
		var hrefs []string
		if err := s.Eval(ctx, photoHrefsJS, &hrefs); err != nil {
			continue
		}
		return dedupe(hrefs), nil
	}
	if walled {
		return nil, fmt.Errorf("rendered surfaces of %s are behind a login wall: %w", h.page, models.ErrSourceBlocked)
	}
	return nil, fmt.Errorf("no photo grid for %s: %w", h.page, models.ErrNoContent)
}

func (h *SocialHarvester) followPermalink(ctx context.Context, s browser.Session, permalink string) (freshness.Candidate, bool) {
	if err := s.Navigate(ctx, permalink); err != nil {
		return freshness.Candidate{}, false
	}
	var src string
	if err := s.Eval(ctx, bestImageJS, &src); err != nil || src == "" || freshness.IsThumbnail(src) {
		return freshness.Candidate{}, false
	}
	c := freshness.Candidate{Asset: src, Permalink: permalink}
	if html, err := s.HTML(ctx); err == nil {
		c.Timestamp = freshness.ExtractTimestamp(html)
	}
	return c, true
}

// session opens a mobile session carrying the configured cookie
func (h *SocialHarvester) session(ctx context.Context, fn func(browser.Session) error) error {
	return browser.WithSession(ctx, h.launcher, h.opts, func(s browser.Session) error {
		if h.cookie != "" {
			if err := s.SetCookies(browser.ParseCookieHeader(h.cookie, ".facebook.com")); err != nil {
				h.logger.Warn("Failed to set session cookie", "error", err)
			}
		}
		return fn(s)
	})
}

// GridPhotos keeps rendered images that link to a permalink and are large
// enough to be a flyer
func GridPhotos(records []ImageRecord) []ImageRecord {
	var out []ImageRecord
	for _, r := range records {
		if !freshness.HasPermalink(r.Href) || !isContentImage(r.Src) {
			continue
		}
		if r.W*r.H < minPhotoArea || (r.W < minPhotoSide && r.H < minPhotoSide) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func isContentImage(src string) bool {
	u, err := url.Parse(src)
	if err != nil || !strings.HasPrefix(u.Host, "scontent") || !strings.HasSuffix(u.Host, "fbcdn.net") {
		return false
	}
	if strings.Contains(u.Path, "/rsrc.php") {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".jpg") || strings.HasSuffix(p, ".jpeg") || strings.HasSuffix(p, ".png")
}
