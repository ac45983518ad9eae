package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Brands is the known brand lexicon, checked in order
var Brands = []string{
	"Fructal", "Relax", "Rugove", "Abi", "Sharri", "Alpsko", "Magic",
	"Bylmet", "Coca-Cola", "Pepsi", "Sprite", "Fanta", "Ariel", "Persil",
	"Somat", "Finish", "Palmolive", "Violeta", "Plazma", "Barilla", "Jacobs",
	"Grand", "Doncafe", "Lavazza", "Nescafe", "Bambi",
}

// genericWords are product words and OCR noise that are never a brand
var genericWords = map[string]bool{
	"kos": true, "jogurt": true, "jogurti": true, "jogurtit": true, "leng": true, "lëng": true,
	"mish": true, "biskota": true, "fasule": true, "shampo": true, "kafe": true, "ajvar": true,
	"rrush": true, "patate": true, "detergjent": true, "pastrues": true, "akullore": true,
	"qumesht": true, "qumësht": true, "embelsire": true, "ëmbëlsirë": true,
}

// DetectBrand finds a lexicon brand in name, else accepts the first token when it
// is alphabetic, longer than two letters and not a generic product word
func DetectBrand(name string) string {
	n := Simplify(name)
	for _, b := range Brands {
		if strings.Contains(n, Simplify(b)) {
			return b
		}
	}

	first, _, _ := strings.Cut(n, " ")
	if first == "" || genericWords[first] || utf8.RuneCountInString(first) <= 2 {
		return ""
	}
	if r, _ := utf8.DecodeRuneInString(first); !unicode.IsLetter(r) {
		return ""
	}
	for _, w := range strings.Fields(name) {
		if strings.ToLower(w) == first {
			return w
		}
	}
	return ""
}

type categoryRule struct {
	label    string
	keywords []string
}

// categoryRules are ordered: first match wins
var categoryRules = []categoryRule{
	{"Leng", []string{"lëng", "leng", "juice", "sok"}},
	{"Mish", []string{"mish", "suxhuk", "suxhuku", "salami", "sallam", "pepperoni"}},
	{"Biskota", []string{"biskota", "keks", "biscuit", "plazma"}},
	{"Fasule", []string{"fasule", "fasul", "groshë", "grose"}},
	{"Shampo", []string{"shampo", "shampanjë"}},
	{"Kafe", []string{"kafe", "nescafe", "jacobs", "lavazza", "grand", "doncafe"}},
	{"Ajvar", []string{"ajvar"}},
	{"Rrush", []string{"rrush", "stafidhe", "rrush i thatë"}},
	{"Patate", []string{"patate", "kartof"}},
	{"Detergjent per enë", []string{"enë", "ene", "larje enesh", "finish", "somat", "tableta për enë"}},
	{"Pastrues", []string{"pastrues", "cleaner", "dezenfektues", "dezinfektues"}},
	{"Kos", []string{"kos", "jogurt"}},
}

// DetectCategory returns a shelf label for name, or an empty string
func DetectCategory(name string) string {
	n := Simplify(name)
	if strings.Contains(n, "akullore") || strings.Contains(n, "tartuf") {
		return "Embelsire"
	}
	for _, rule := range categoryRules {
		if containsAny(n, rule.keywords) {
			return rule.label
		}
	}
	return ""
}

// Canonical product categories produced by Classify
const (
	CategoryYogurt = "yogurt"
	CategoryMilk   = "milk"
	CategoryButter = "butter"
	CategoryCheese = "cheese"
	CategoryPotato = "potato"
	CategoryOther  = "other"
)

// Classify assigns a coarse product category. Yogurt is checked before milk so
// that "jogurt qumështi" is never taken for milk.
func Classify(name string) string {
	n := Fold(name)
	switch {
	case containsAny(n, []string{"jogurt", "yogurt", "yoghurt", "joghurt", "kos"}):
		return CategoryYogurt
	case containsAny(n, []string{"qumesht", "milk", "mleko"}):
		return CategoryMilk
	case containsAny(n, []string{"gjalp", "butter", "margarine"}):
		return CategoryButter
	case containsAny(n, []string{"djath", "kackavall", "sir", "cheese", "feta"}):
		return CategoryCheese
	case containsAny(n, []string{"patate", "krompir", "potato"}):
		return CategoryPotato
	}
	return CategoryOther
}

var storeCanon = map[string]string{
	"albi market": "Albi",
	"albimarket":  "Albi",
	"albi":        "Albi",
	"interexks":   "Interex",
	"interex":     "Interex",
	"viva fresh":  "Viva Fresh",
	"vivafresh":   "Viva Fresh",
	"maxi":        "Maxi",
	"spar kosova": "SPAR",
	"spar":        "SPAR",
	"etc":         "ETC",
}

// CanonStore maps a raw chain spelling to its canonical store name
func CanonStore(raw string) string {
	s := strings.TrimSpace(raw)
	if c, ok := storeCanon[strings.ToLower(s)]; ok {
		return c
	}
	return s
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
