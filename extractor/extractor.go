package extractor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"kpc/normalize"
)

var (
	// priceRe matches 1 to 3 integer digits with an optional two-digit fraction
	// separated by comma, dot or a space, with an optional currency marker on either side
	priceRe = regexp.MustCompile(`(?i)(?:(€|\beuro?\b)\s*)?(\d{1,3})(?:([.,\s])(\d{2}))?(?:\s*(€|\beuro?\b))?`)
	dateRe  = regexp.MustCompile(`(\d{1,2}[./-]\d{1,2}[./-]\d{2,4})`)
	unitRe  = regexp.MustCompile(`(?i)^\s*(?:ml|l|lt|kg|gr|g|%|x\d)(?:[^a-zà-ž]|$)`)
)

const nameTrimSet = " :-•–—"

// Item is one candidate (name, price) pair recovered from document text
type Item struct {
	Name     string
	Price    float64
	Brand    string
	Category string
}

// Result is the outcome of parsing one document
type Result struct {
	Items     []Item
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// ParseText turns OCR or text-layer output into candidate items plus the
// promo validity window found in it
func ParseText(text string) Result {
	var res Result
	res.ValidFrom, res.ValidTo = ValidityWindow(text)

	var items []Item
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(dateRe.ReplaceAllString(line, " ")), " ")
		if line == "" {
			continue
		}
		it, ok := parseLine(line)
		if !ok {
			continue
		}
		items = append(items, it)
	}
	res.Items = dedupe(items)
	return res
}

type priceMatch struct {
	start, end int
	value      float64
	currency   bool
	decimal    bool
}

// parseLine picks the price on a line: a currency-marked amount wins, then an
// amount with a decimal fraction, then the last bare number. Numbers that are
// part of a size, percentage or date never count as prices.
func parseLine(line string) (Item, bool) {
	var best *priceMatch
	rank := func(m *priceMatch) int {
		switch {
		case m.currency:
			return 2
		case m.decimal:
			return 1
		}
		return 0
	}

	for _, loc := range priceRe.FindAllStringSubmatchIndex(line, -1) {
		numStart, numEnd := loc[4], loc[5]
		if loc[8] >= 0 {
			numEnd = loc[9]
		}
		if numStart > 0 && isDigit(line[numStart-1]) {
			continue
		}
		if numStart > 1 && (line[numStart-1] == '.' || line[numStart-1] == ',') && isDigit(line[numStart-2]) {
			continue
		}
		rest := line[numEnd:]
		if len(rest) > 0 && isDigit(rest[0]) {
			continue
		}
		if len(rest) > 1 && (rest[0] == '.' || rest[0] == ',') && isDigit(rest[1]) {
			continue
		}
		currency := loc[2] >= 0 || loc[10] >= 0
		if !currency && unitRe.MatchString(rest) {
			continue
		}

		intPart := line[loc[4]:loc[5]]
		value, err := strconv.ParseFloat(intPart, 64)
		if err != nil {
			continue
		}
		decimal := loc[8] >= 0
		if decimal {
			frac, _ := strconv.ParseFloat(line[loc[8]:loc[9]], 64)
			value += frac / 100
		}
		if value <= 0 {
			continue
		}

		m := &priceMatch{start: loc[0], end: loc[1], value: value, currency: currency, decimal: decimal}
		if best == nil || rank(m) >= rank(best) {
			best = m
		}
	}
	if best == nil {
		return Item{}, false
	}

	name := strings.TrimSpace(line[:best.start] + " " + line[best.end:])
	name = strings.Trim(strings.Join(strings.Fields(name), " "), nameTrimSet)
	if utf8.RuneCountInString(name) < 3 {
		return Item{}, false
	}

	return Item{
		Name:     name,
		Price:    math.Round(best.value*100) / 100,
		Brand:    normalize.DetectBrand(name),
		Category: normalize.DetectCategory(name),
	}, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

type dedupeKey struct {
	name  string
	cents int64
}

// dedupe drops repeated (name, price) pairs. The first occurrence keeps its
// position and the last occurrence supplies the value.
func dedupe(items []Item) []Item {
	index := make(map[dedupeKey]int, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		key := dedupeKey{name: it.Name, cents: int64(math.Round(it.Price * 100))}
		if i, ok := index[key]; ok {
			out[i] = it
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out
}

// ValidityWindow parses the first two date tokens in text and returns them
// ordered. Both are nil unless both parse.
func ValidityWindow(text string) (*time.Time, *time.Time) {
	dates := dateRe.FindAllString(text, 2)
	if len(dates) < 2 {
		return nil, nil
	}
	d1, ok1 := parseDate(dates[0])
	d2, ok2 := parseDate(dates[1])
	if !ok1 || !ok2 {
		return nil, nil
	}
	if d2.Before(d1) {
		d1, d2 = d2, d1
	}
	return &d1, &d2
}

// parseDate accepts d.m.Y, d/m/Y and d-m-Y with two or four digit years.
// Both separators must agree.
func parseDate(s string) (time.Time, bool) {
	for _, sep := range []string{".", "/", "-"} {
		parts := strings.Split(s, sep)
		if len(parts) != 3 {
			continue
		}
		day, err1 := strconv.Atoi(parts[0])
		month, err2 := strconv.Atoi(parts[1])
		year, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return time.Time{}, false
		}
		switch len(parts[2]) {
		case 2:
			if year < 69 {
				year += 2000
			} else {
				year += 1900
			}
		case 4:
		default:
			return time.Time{}, false
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
