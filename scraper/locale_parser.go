package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// numberRe finds the first price-looking number: digits with optional
	// thousands groups and an optional decimal part after a dot or comma
	numberRe = regexp.MustCompile(`\d+(?:[.,]\d{3})*(?:[.,]\d+)?`)

	// euroAmountRe finds an amount written next to a euro marker
	euroAmountRe = regexp.MustCompile(`(?i)(\d+[.,]\d{1,2})\s*(?:€|eur\b|euro\b)|€\s*(\d+[.,]\d{1,2})`)

	currencyMarkers = []string{"€", "â‚¬", "euro", "eur", "\u00a0"}
)

// ParsePrice reads a euro amount as written on Kosovo shop pages:
// "1,29 €", "€1.29", "1.234,56", "0,99EUR". Only the first number counts,
// so "2,49 1,99" (old and new price) yields 2.49.
func ParsePrice(text string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, c := range currencyMarkers {
		s = strings.ReplaceAll(s, c, " ")
	}
	m := numberRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no valid price pattern found in: %q", text)
	}
	value, err := strconv.ParseFloat(cleanNumberString(m), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", text, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("non-positive price in: %q", text)
	}
	return value, nil
}

// cleanNumberString converts a number with locale separators to a plain
// decimal. The last separator is the decimal mark unless the same separator
// repeats, in which case all of them group thousands.
func cleanNumberString(num string) string {
	last := strings.LastIndexAny(num, ".,")
	if last < 0 {
		return num
	}
	sep := num[last]
	if strings.Count(num, string(sep)) > 1 {
		return strings.NewReplacer(".", "", ",", "").Replace(num)
	}
	intPart := strings.NewReplacer(".", "", ",", "").Replace(num[:last])
	return intPart + "." + num[last+1:]
}

// FindEuroAmount returns the first amount in free text that carries a euro
// marker, ignoring bare numbers such as sizes or fat percentages
func FindEuroAmount(text string) (float64, bool) {
	m := euroAmountRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	num := m[1]
	if num == "" {
		num = m[2]
	}
	v, err := strconv.ParseFloat(cleanNumberString(num), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
