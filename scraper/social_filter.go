package scraper

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"regexp"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	flyerPriceRe = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s?(?:€|eur\b|euro\b)`)
	flyerPctRe   = regexp.MustCompile(`\b\d{1,2}\s?%`)
	flyerUnitRe  = regexp.MustCompile(`(?i)\b(\d+(\.\d+)?)\s?(kg|g|l|ml)\b`)
	appBadgeRe   = regexp.MustCompile(`(?i)\b(app store|google play|shkarko aplikacionin)\b`)

	promoWords = []string{
		"ofert", "zbritje", "akc", "super çmim", "cmim", "çmim", "promo", "ulje",
		"speciale", "aksion", "akcija", "popust",
	}
	greetingWords = []string{
		"gëzuar", "urime", "përshëndetje", "fest", "viti i ri", "shën valentine",
		"pashk", "bajram", "krishtlindje", "kristlindje",
	}
)

// LooksLikeProduct is the cheap flyer signal: a euro amount, a percentage,
// a size unit or promo vocabulary
func LooksLikeProduct(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if flyerPriceRe.MatchString(text) || flyerPctRe.MatchString(text) || flyerUnitRe.MatchString(text) {
		return true
	}
	return containsAnyWord(text, promoWords)
}

// LooksLikeGreeting reports holiday or greeting posts
func LooksLikeGreeting(text string) bool {
	return containsAnyWord(text, greetingWords)
}

func containsAnyWord(text string, words []string) bool {
	t := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

// ScreenPhoto decides whether the recognized text of a photo may carry
// offers. It returns an empty string to keep the photo, otherwise the reason
// it was rejected. Zero dimensions mean they could not be read.
func ScreenPhoto(text, asset string, width, height int) string {
	product := LooksLikeProduct(text)
	switch {
	case width > 0 && height > 0 && float64(width) > 1.6*float64(height) && !product:
		return "wide banner"
	case isPNGAsset(asset) && !product:
		return "png without product signal"
	case appBadgeRe.MatchString(text):
		return "app download promo"
	case LooksLikeGreeting(text):
		return "greeting"
	case !product:
		return "no product signal"
	}
	return ""
}

func isPNGAsset(asset string) bool {
	u, err := url.Parse(asset)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(asset), ".png")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".png")
}

// imageSize reads the dimensions from the image header without decoding pixels
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
