package freshness

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	epochBlobRe  = regexp.MustCompile(`(?:"publish_time"|"creation_time"|"utime")\s*:\s*(\d{10})`)
	dataStoreKey = []string{"time", "publish_time", "creation_time", "utime"}
	metaProps    = []string{"og:updated_time", "og:published_time", "article:published_time"}
	jsonLDKeys   = []string{"datePublished", "uploadDate", "dateCreated"}
)

// ExtractTimestamp resolves when a photo or post was published from its page
// HTML. Structured hints are tried first, then meta tags, JSON-LD, raw epoch
// blobs in scripts and finally title attributes. It returns nil when nothing parses.
func ExtractTimestamp(html string) *time.Time {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return epochFromBlob(html)
	}

	var ts *time.Time
	doc.Find("abbr, time, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		ts = epochFromDataStore(s.AttrOr("data-store", ""))
		return ts == nil
	})
	if ts != nil {
		return ts
	}

	for _, prop := range metaProps {
		if content, ok := doc.Find(`meta[property="` + prop + `"]`).First().Attr("content"); ok {
			if t := parseISO(content); t != nil {
				return t
			}
		}
	}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		for _, k := range jsonLDKeys {
			if v, ok := data[k].(string); ok && v != "" {
				if ts = parseISO(v); ts != nil {
					return false
				}
			}
		}
		return true
	})
	if ts != nil {
		return ts
	}

	if ts = epochFromBlob(html); ts != nil {
		return ts
	}

	doc.Find("abbr, time").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(s.AttrOr("datetime", ""))
		}
		if title != "" {
			ts = parseISO(strings.Replace(title, " at ", " ", 1))
		}
		return ts == nil
	})
	return ts
}

func epochFromDataStore(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	var js map[string]any
	if err := json.Unmarshal([]byte(raw), &js); err != nil {
		return nil
	}
	for _, k := range dataStoreKey {
		if v, ok := js[k].(float64); ok && v > 0 {
			t := time.Unix(int64(v), 0).UTC()
			return &t
		}
	}
	return nil
}

func epochFromBlob(html string) *time.Time {
	m := epochBlobRe.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	sec, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseISO(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
