package compare

import (
	"math"
	"strings"

	"kpc/matching"
	"kpc/models"
	"kpc/normalize"
)

var (
	milkWords     = []string{"qum", "milk"}
	altMilkWords  = []string{"soja", "soya", "badem", "almond", "oriz", "rice", "oat", "tersh", "kokos", "coco", "dhie", "goat"}
	butterWords   = []string{"gjalp"}
	butterSizeTok = []string{"250g", "250 g", "250gr", "250 gr"}
)

// Heuristic reports whether an unmapped listing plausibly is the product.
// It only runs for store items that have no mapping at all.
func Heuristic(product *models.Product, rawName string, itemFat *float64) bool {
	if !matching.Gate(product.Category, rawName) {
		return false
	}

	text := strings.ToLower(rawName)
	folded := normalize.Fold(rawName)
	size := product.Size()

	switch {
	case product.Category == "milk" && size >= 900 && size <= 1100:
		return containsAny(folded, milkWords) &&
			matching.HasLiterToken(text) &&
			fatOK(product, text, itemFat) &&
			!containsAny(folded, altMilkWords)
	case product.Category == "butter" && size == 250:
		if !containsAny(folded, butterWords) {
			return false
		}
		for _, tok := range butterSizeTok {
			if matching.ContainsMeasure(text, tok) {
				return true
			}
		}
		return false
	default:
		return matching.HasCategoryKeyword(product.Category, rawName)
	}
}

// fatOK accepts a listing whose stored fat is within 0.3 of the product's or
// whose name spells the product's fat out
func fatOK(product *models.Product, text string, itemFat *float64) bool {
	if product.FatPct == nil {
		return true
	}
	if itemFat != nil && math.Abs(*itemFat-*product.FatPct) <= 0.3 {
		return true
	}
	return matching.MentionsFat(text, *product.FatPct)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
