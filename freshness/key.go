package freshness

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultVolatileParams are query parameters that change per size variant of
// the same asset without changing its identity
var DefaultVolatileParams = []string{"stp"}

// thumbnailMarkers are fixed small-size markers found in thumbnail asset URLs
var thumbnailMarkers = []string{"_s100x100", "_s206x206", "/p206x206", "/p480x480", "/s320x320", "/c0.0.512.512"}

var (
	stpSizeRe  = regexp.MustCompile(`(?:^|[^\d])[sp]\d+x\d+(?:[^\d]|$)`)
	pathSizeRe = regexp.MustCompile(`(?:^|[/_-])[sp]\d+x\d+(?:[/_.-]|$)`)
	photoIDRe  = regexp.MustCompile(`/photos/(?:[^/]+/)?(\d+)`)
)

// DedupKey returns the identity of an asset reference: the same URL with the
// volatile query parameters removed and the rest in a stable order. The path
// is never touched so signed URLs stay comparable.
func DedupKey(ref string, volatile []string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	q := u.Query()
	for _, p := range volatile {
		q.Del(p)
	}
	kept := url.Values{}
	for k, v := range q {
		if len(v) > 0 {
			kept.Set(k, v[0])
		}
	}
	u.RawQuery = kept.Encode()
	return u.String()
}

// IsThumbnail recognizes small renditions from markers in the URL alone
func IsThumbnail(ref string) bool {
	if ref == "" {
		return true
	}
	lower := strings.ToLower(ref)
	for _, m := range thumbnailMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	if stpSizeRe.MatchString(strings.ToLower(u.Query().Get("stp"))) {
		return true
	}
	return pathSizeRe.MatchString(strings.ToLower(u.Path))
}

// HasPermalink reports whether ref points at an individual photo or post page
func HasPermalink(ref string) bool {
	return strings.Contains(ref, "/photo.php") || strings.Contains(ref, "/photos/") || strings.Contains(ref, "/permalink/")
}

// IsPhotoPage reports whether ref is a photo page a timestamp can be read from
func IsPhotoPage(ref string) bool {
	return strings.Contains(ref, "/photo.php") || strings.Contains(ref, "/photos/")
}

// PhotoID extracts a stable photo id from a permalink (fbid/id query or /photos/.../<id>)
func PhotoID(permalink string) string {
	u, err := url.Parse(permalink)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, k := range []string{"fbid", "id"} {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	if m := photoIDRe.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

// Seen tracks dedup keys for one harvest invocation
type Seen struct {
	volatile []string
	keys     map[string]struct{}
}

// NewSeen creates an empty key set using the given volatile parameters
func NewSeen(volatile []string) *Seen {
	if volatile == nil {
		volatile = DefaultVolatileParams
	}
	return &Seen{volatile: volatile, keys: make(map[string]struct{})}
}

// Add records ref and reports whether it was new
func (s *Seen) Add(ref string) bool {
	key := DedupKey(ref, s.volatile)
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len returns the number of distinct assets seen
func (s *Seen) Len() int { return len(s.keys) }
