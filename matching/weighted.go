package matching

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"kpc/config"
	"kpc/models"
	"kpc/normalize"
)

var literTokens = []string{"1l", "1 l", "1000ml", "1000 ml", "1lt"}

// WeightedScorer sums independent signals after the category gate
type WeightedScorer struct {
	weights config.Weights
}

// NewWeightedScorer creates a weighted scorer
func NewWeightedScorer(w config.Weights) *WeightedScorer {
	return &WeightedScorer{weights: w}
}

// Name identifies the formulation
func (s *WeightedScorer) Name() string {
	return "weighted"
}

// Score rates how well a listing name fits a product, in [0,1]
func (s *WeightedScorer) Score(name string, product *models.Product) float64 {
	if !Gate(product.Category, name) {
		return 0
	}

	text := strings.ToLower(name)
	score := 0.0

	if brand := normalize.Fold(product.BrandName()); brand != "" && strings.Contains(normalize.Fold(name), brand) {
		score += s.weights.Brand
	}
	if sizeMatches(text, product.Size()) {
		score += s.weights.Size
	}
	if product.FatPct != nil && MentionsFat(text, *product.FatPct) {
		score += s.weights.Fat
	}
	if HasCategoryKeyword(product.Category, name) {
		score += s.weights.Category
	}

	return clamp(score)
}

// sizeMatches compares the reference size against size tokens in the name.
// Around one liter the common spellings of 1L are accepted.
func sizeMatches(text string, size int) bool {
	if size <= 0 {
		return false
	}
	if size >= 900 && size <= 1100 && HasLiterToken(text) {
		return true
	}

	attrs := normalize.ParseSizeAndFat(text)
	if attrs.Size > 0 && math.Abs(float64(attrs.Size-size)) <= float64(size)*0.02 {
		return true
	}
	return HasSizeToken(text, size)
}

// HasLiterToken reports whether a lowercased name spells out one liter
func HasLiterToken(text string) bool {
	for _, tok := range literTokens {
		if ContainsMeasure(text, tok) {
			return true
		}
	}
	return false
}

// HasSizeToken reports whether a lowercased name spells out size in g or ml
func HasSizeToken(text string, size int) bool {
	for _, tok := range sizeTokens(size) {
		if ContainsMeasure(text, tok) {
			return true
		}
	}
	return false
}

func sizeTokens(size int) []string {
	n := strconv.Itoa(size)
	return []string{n + "g", n + " g", n + "gr", n + " gr", n + "ml", n + " ml"}
}

// MentionsFat looks for the fat percentage written with a dot or a comma
func MentionsFat(text string, fat float64) bool {
	dot := strconv.FormatFloat(fat, 'f', -1, 64)
	if !strings.Contains(dot, ".") {
		dot = fmt.Sprintf("%.1f", fat)
	}
	for _, tok := range []string{dot, strings.ReplaceAll(dot, ".", ",")} {
		if ContainsNumber(text, tok) {
			return true
		}
	}
	return false
}

// ContainsMeasure finds tok in text with no digit or decimal mark before it
// and no letter or digit after it
func ContainsMeasure(text, tok string) bool {
	return containsBounded(text, tok, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
}

// ContainsNumber finds tok in text not glued to further digits
func ContainsNumber(text, tok string) bool {
	return containsBounded(text, tok, unicode.IsDigit)
}

func containsBounded(text, tok string, blocksAfter func(rune) bool) bool {
	for start := 0; start <= len(text)-len(tok); {
		i := strings.Index(text[start:], tok)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(tok)

		okBefore := true
		if i > 0 {
			prev := rune(text[i-1])
			okBefore = !unicode.IsDigit(prev) && prev != '.' && prev != ','
		}
		okAfter := true
		if end < len(text) {
			next := []rune(text[end:])[0]
			okAfter = !blocksAfter(next)
		}
		if okBefore && okAfter {
			return true
		}
		start = i + 1
	}
	return false
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
