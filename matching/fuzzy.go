package matching

import (
	"math"
	"sort"
	"strings"

	"kpc/models"
	"kpc/normalize"
)

// FuzzyScorer is the token-set similarity formulation with attribute boosts
type FuzzyScorer struct{}

// NewFuzzyScorer creates a fuzzy scorer
func NewFuzzyScorer() *FuzzyScorer {
	return &FuzzyScorer{}
}

// Name identifies the formulation
func (s *FuzzyScorer) Name() string {
	return "fuzzy"
}

// Score rates how well a listing name fits a product, in [0,1]
func (s *FuzzyScorer) Score(name string, product *models.Product) float64 {
	base := TokenSetRatio(name, product.CanonicalName) / 100

	lname := strings.ToLower(name)
	if brand := strings.ToLower(product.BrandName()); brand != "" && strings.Contains(lname, brand) {
		base += 0.15
	}
	if cat := strings.ToLower(product.Category); cat != "" && strings.Contains(lname, cat) {
		base += 0.10
	}

	attrs := normalize.ParseSizeAndFat(name)
	if ref := product.Size(); ref > 0 && attrs.Size > 0 {
		diff := math.Abs(float64(ref-attrs.Size)) / math.Max(float64(ref), 1)
		switch {
		case diff <= 0.1:
			base += 0.15
		case diff <= 0.2:
			base += 0.05
		default:
			base -= 0.10
		}
	}
	if product.FatPct != nil && attrs.Fat != nil {
		diff := math.Abs(*product.FatPct - *attrs.Fat)
		switch {
		case diff <= 0.3:
			base += 0.10
		case diff <= 0.7:
			base += 0.05
		default:
			base -= 0.10
		}
	}

	return clamp(base)
}

// TokenSetRatio compares two strings by their word sets, ignoring order and
// repetition, on a 0..100 scale
func TokenSetRatio(a, b string) float64 {
	ta := wordSet(a)
	tb := wordSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var sect, diffAB, diffBA []string
	for t := range ta {
		if tb[t] {
			sect = append(sect, t)
		} else {
			diffAB = append(diffAB, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			diffBA = append(diffBA, t)
		}
	}
	sort.Strings(sect)
	sort.Strings(diffAB)
	sort.Strings(diffBA)

	if len(sect) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	joinedSect := strings.Join(sect, " ")
	joinedAB := strings.Join(diffAB, " ")
	joinedBA := strings.Join(diffBA, " ")
	if len(sect) == 0 {
		return ratio(joinedAB, joinedBA)
	}

	combinedAB := joinedSect + " " + joinedAB
	combinedBA := joinedSect + " " + joinedBA
	return math.Max(ratio(joinedSect, combinedAB),
		math.Max(ratio(joinedSect, combinedBA), ratio(combinedAB, combinedBA)))
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(s)) {
		set[t] = true
	}
	return set
}

// ratio is the normalized indel similarity, 2*LCS/(len(a)+len(b)) on a 0..100 scale
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	return 200 * float64(lcs(ra, rb)) / float64(total)
}

func lcs(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
