package matching

import (
	"strings"

	"kpc/normalize"
)

// tokenSet lists the words that confirm or rule out a product category
type tokenSet struct {
	positive []string
	negative []string
}

var categoryTokens = map[string]tokenSet{
	"milk": {
		positive: []string{"qumesht", "qumësht", "qum", "milk", "mleko"},
		negative: []string{"jogurt", "yogurt", "yoghurt", "joghurt", "kos", "ajran"},
	},
	"yogurt": {
		positive: []string{"jogurt", "yogurt", "yoghurt", "joghurt", "kos"},
	},
	"butter": {
		positive: []string{"gjalp", "butter", "margarin"},
	},
	"cheese": {
		positive: []string{"djath", "kackavall", "sir", "cheese", "feta"},
	},
	"vegetable": {
		positive: []string{"patate", "krompir", "potato"},
		negative: []string{"chips", "cips", "çips", "pringles"},
	},
}

// words splits a listing name into folded words
func words(name string) []string {
	return strings.Fields(normalize.Simplify(normalize.Fold(name)))
}

// hasToken reports whether a token occurs in the word list. Tokens longer than
// three runes also match as a word prefix ("gjalp" in "gjalpe"); shorter ones
// must be the whole word so "kos" does not fire on "kosova".
func hasToken(ws []string, tok string) bool {
	tok = normalize.Fold(tok)
	prefix := len([]rune(tok)) > 3
	for _, w := range ws {
		if w == tok || (prefix && strings.HasPrefix(w, tok)) {
			return true
		}
	}
	return false
}

func hasAnyToken(ws []string, toks []string) bool {
	for _, t := range toks {
		if hasToken(ws, t) {
			return true
		}
	}
	return false
}

// Gate reports whether a listing may belong to the category at all. A negative
// token blocks it; a category with positive tokens needs one of them present.
// Unknown categories always pass.
func Gate(category, name string) bool {
	set, ok := categoryTokens[strings.ToLower(category)]
	if !ok {
		return true
	}
	ws := words(name)
	if hasAnyToken(ws, set.negative) {
		return false
	}
	if len(set.positive) > 0 && !hasAnyToken(ws, set.positive) {
		return false
	}
	return true
}

// HasCategoryKeyword reports whether the listing carries a positive token of the category
func HasCategoryKeyword(category, name string) bool {
	set, ok := categoryTokens[strings.ToLower(category)]
	if !ok {
		return false
	}
	return hasAnyToken(words(name), set.positive)
}
