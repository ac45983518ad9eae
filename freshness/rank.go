package freshness

import (
	"context"
	"sort"
	"time"
)

// Candidate is one harvested asset with the page it was found on
type Candidate struct {
	Asset     string
	Permalink string
	Timestamp *time.Time
}

// AgeDays returns whole days elapsed since the candidate was published
func (c Candidate) AgeDays(now time.Time) int {
	if c.Timestamp == nil {
		return 0
	}
	return int(now.Sub(*c.Timestamp) / (24 * time.Hour))
}

// Rank orders candidates newest first with undated ones last, drops dated
// candidates older than maxAgeDays and keeps at most wantN
func Rank(cands []Candidate, now time.Time, maxAgeDays, wantN int) []Candidate {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Timestamp, sorted[j].Timestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})

	out := make([]Candidate, 0, len(sorted))
	for _, c := range sorted {
		if c.Timestamp != nil && c.AgeDays(now) > maxAgeDays {
			continue
		}
		out = append(out, c)
		if wantN > 0 && len(out) >= wantN {
			break
		}
	}
	return out
}

// PageFetcher returns the HTML body of a page
type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// Stamp resolves timestamps for candidates whose permalink is a photo page.
// Fetch failures leave the timestamp unresolved.
func Stamp(ctx context.Context, f PageFetcher, cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		out[i] = c
		if c.Timestamp != nil || !IsPhotoPage(c.Permalink) {
			continue
		}
		html, err := f.FetchHTML(ctx, c.Permalink)
		if err != nil {
			continue
		}
		out[i].Timestamp = ExtractTimestamp(html)
	}
	return out
}
