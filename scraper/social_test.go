package scraper

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpc/config"
	"kpc/models"
)

func jpegOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

// sizeRecognizer answers with text chosen by the image width
type sizeRecognizer map[int]string

func (r sizeRecognizer) Recognize(ctx context.Context, data []byte) (string, error) {
	w, _ := imageSize(data)
	return r[w], nil
}

func socialConfig() config.HarvestConfig {
	cfg := testHarvestConfig()
	cfg.FBCookie = "c_user=1; xs=abc"
	cfg.WantN = 12
	cfg.MaxAgeDays = 10
	return cfg
}

type socialSite struct {
	mu       sync.Mutex
	cookies  []string
	assets   []string
	hardened bool
}

func (s *socialSite) handler(t *testing.T, base func() string) http.Handler {
	flyer := jpegOf(t, 800, 1000)
	banner := jpegOf(t, 1600, 600)
	recent := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	stale := time.Now().UTC().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	grid := `<a href="/photo.php?fbid=111">1</a><a href="/photo.php?fbid=222">2</a><a href="/photo.php?fbid=333">3</a>`

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.cookies = append(s.cookies, r.Header.Get("Cookie"))
		s.mu.Unlock()

		switch r.URL.Path {
		case "/InterexKs/photos_by", "/InterexKs/photos":
			fmt.Fprint(w, grid)
		case "/photo.php":
			switch r.URL.Query().Get("fbid") {
			case "111":
				fmt.Fprintf(w, `<meta property="article:published_time" content="%s"><a href="/photo/view_full_size/?fbid=111">Shiko</a>`, recent)
			case "222":
				fmt.Fprintf(w, `<meta property="og:image" content="%s/v/t39/222_n.jpg">`, base())
			case "333":
				fmt.Fprintf(w, `<meta property="article:published_time" content="%s"><meta property="og:image" content="%s/v/t39/333_n.jpg">`, stale, base())
			}
		case "/photo/view_full_size/":
			http.Redirect(w, r, base()+"/v/t39/111_o.jpg", http.StatusFound)
		case "/v/t39/111_o.jpg":
			s.record(r.URL.Path)
			assert.Equal(t, base()+"/photo.php?fbid=111", r.Header.Get("Referer"))
			_, _ = w.Write(flyer)
		case "/v/t39/222_n.jpg":
			s.record(r.URL.Path)
			if r.Header.Get("Origin") == "" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			s.mu.Lock()
			s.hardened = true
			s.mu.Unlock()
			_, _ = w.Write(banner)
		case "/v/t39/333_n.jpg":
			s.record(r.URL.Path)
			_, _ = w.Write(flyer)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *socialSite) record(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, path)
}

func TestSocialHarvestLightweight(t *testing.T) {
	site := &socialSite{}
	var srv *httptest.Server
	srv = httptest.NewServer(site.handler(t, func() string { return srv.URL }))
	defer srv.Close()

	rec := sizeRecognizer{
		800:  "Oferta 01.10.2026 - 14.10.2026\nQumësht Rugove 1L 2.8% 0,95€\nJogurt Abi 1kg 1.29 €",
		1600: "Gëzuar Bajramin!",
	}
	cfg := socialConfig()
	h := NewSocialHarvester("interex", "InterexKs", cfg, NewFetcher(cfg, nil), nil, rec, nil)
	h.MbasicBase = srv.URL
	h.MobileBase = srv.URL

	offers, err := h.Harvest(context.Background(), NewContext("run", "Prishtina", time.Time{}, nil))
	require.NoError(t, err)
	require.Len(t, offers, 2, "the greeting banner yields nothing")

	permalink := srv.URL + "/photo.php?fbid=111"
	o := offers[0]
	assert.Equal(t, "Qumësht Rugove 1L 2.8%", o.Name)
	assert.Equal(t, 0.95, o.Price)
	assert.True(t, o.Promo)
	assert.Equal(t, permalink, o.Reference)
	assert.Equal(t, "111#Qumësht Rugove 1L 2.8%", o.ExternalID)
	require.NotNil(t, o.ObservedAt)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), *o.ObservedAt, time.Minute)
	require.NotNil(t, o.ValidTo)
	assert.Equal(t, 14, o.ValidTo.Day())
	assert.Equal(t, "Jogurt Abi 1kg", offers[1].Name)

	site.mu.Lock()
	defer site.mu.Unlock()
	assert.NotContains(t, site.assets, "/v/t39/333_n.jpg", "stale photos are never downloaded")
	assert.True(t, site.hardened, "a 403 asset is retried with hardened headers")
	for _, c := range site.cookies {
		assert.Contains(t, c, "wd=412x915")
	}
}

func TestSocialHarvestLoginWall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/photos_albums") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<form action="/login/device-based/regular/login/"><input name="email"></form>`)
	}))
	defer srv.Close()

	cfg := socialConfig()
	h := NewSocialHarvester("albi", "AlbiMarket", cfg, NewFetcher(cfg, nil), nil, sizeRecognizer{}, nil)
	h.MbasicBase = srv.URL
	h.MobileBase = srv.URL

	_, err := h.Harvest(context.Background(), NewContext("run", "Prishtina", time.Time{}, nil))
	assert.ErrorIs(t, err, models.ErrSourceBlocked)
}

func TestSocialHarvestEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div>Albi Market</div>`)
	}))
	defer srv.Close()

	cfg := socialConfig()
	h := NewSocialHarvester("albi", "AlbiMarket", cfg, NewFetcher(cfg, nil), nil, sizeRecognizer{}, nil)
	h.MbasicBase = srv.URL
	h.MobileBase = srv.URL

	_, err := h.Harvest(context.Background(), NewContext("run", "Prishtina", time.Time{}, nil))
	assert.ErrorIs(t, err, models.ErrNoContent)
}

func TestScreenPhoto(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		asset  string
		w, h   int
		reason string
	}{
		{"flyer", "Qumësht 1L 0,95€", "https://scontent.x.fbcdn.net/v/1_n.jpg", 1080, 1350, ""},
		{"wide banner", "Mirë se vini", "https://scontent.x.fbcdn.net/v/1_n.jpg", 1600, 600, "wide banner"},
		{"wide flyer strip", "Kos 1kg 1.29 €", "https://scontent.x.fbcdn.net/v/1_n.jpg", 1600, 600, ""},
		{"png poster", "Hapje e re", "https://scontent.x.fbcdn.net/v/1_n.png?x=1", 1080, 1080, "png without product signal"},
		{"app promo", "Shkarko aplikacionin në Google Play -20%", "https://scontent.x.fbcdn.net/v/1_n.jpg", 1080, 1080, "app download promo"},
		{"greeting", "Gëzuar Pashkët! Oferta", "https://scontent.x.fbcdn.net/v/1_n.jpg", 1080, 1080, "greeting"},
		{"plain photo", "Ekipi ynë", "https://scontent.x.fbcdn.net/v/1_n.jpg", 0, 0, "no product signal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, ScreenPhoto(tt.text, tt.asset, tt.w, tt.h))
		})
	}
}

func TestDeviceHints(t *testing.T) {
	cookie := WithDeviceHints(` "c_user=1; xs=abc" `, 412, 915, 3.0)
	assert.Equal(t, "c_user=1; xs=abc; wd=412x915; dpr=3", cookie)
	assert.Equal(t, "", WithDeviceHints("", 412, 915, 3.0))

	own := "c_user=1; wd=390x844; dpr=2.625"
	assert.Equal(t, own, WithDeviceHints(own, 412, 915, 3.0))

	w, h, dpr := DeviceHints(own, 412, 915, 3.0)
	assert.Equal(t, 390, w)
	assert.Equal(t, 844, h)
	assert.Equal(t, 2.625, dpr)

	w, h, dpr = DeviceHints("c_user=1; wd=bogus", 0, 0, 0)
	assert.Equal(t, 412, w)
	assert.Equal(t, 915, h)
	assert.Equal(t, 3.0, dpr)
}

func TestPickOGImage(t *testing.T) {
	doc, err := parseHTML([]byte(`
		<meta property="og:image" content="https://scontent.x.fbcdn.net/v/t39/1_n.jpg?stp=dst-jpg_s960x960&oh=1">
		<meta property="og:image" content="https://scontent.x.fbcdn.net/v/t39/1_a.jpg?oh=1">
		<meta property="og:image" content="https://scontent.x.fbcdn.net/v/t39/1_o.jpg?oh=1">`))
	require.NoError(t, err)
	assert.Equal(t, "https://scontent.x.fbcdn.net/v/t39/1_o.jpg?oh=1", PickOGImage(doc))

	empty, err := parseHTML([]byte(`<p>none</p>`))
	require.NoError(t, err)
	assert.Equal(t, "", PickOGImage(empty))
}

func TestGridPhotos(t *testing.T) {
	records := []ImageRecord{
		{Src: "https://scontent.fprn1-1.fna.fbcdn.net/v/t39/1_n.jpg?oh=1", Href: "https://m.facebook.com/photo.php?fbid=1", W: 960, H: 1200},
		{Src: "https://scontent.fprn1-1.fna.fbcdn.net/v/t39/2_n.jpg", Href: "https://m.facebook.com/InterexKs", W: 960, H: 1200},
		{Src: "https://static.xx.fbcdn.net/rsrc.php/v3/logo.png", Href: "https://m.facebook.com/photos/1", W: 960, H: 1200},
		{Src: "https://scontent.fprn1-1.fna.fbcdn.net/v/t39/3_n.jpg", Href: "https://m.facebook.com/photo.php?fbid=3", W: 320, H: 320},
		{Src: "https://scontent.fprn1-1.fna.fbcdn.net/v/t39/4_n.webp", Href: "https://m.facebook.com/photo.php?fbid=4", W: 960, H: 1200},
	}
	got := GridPhotos(records)
	require.Len(t, got, 1)
	assert.Equal(t, records[0], got[0])
}
