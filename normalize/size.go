package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	sizeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s?(l|ml|kg|g)\b`)
	fatRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s?%`)
)

// Attributes are the measurable facts recovered from a listing name
type Attributes struct {
	// Size is the package size in ml or g; 0 when unknown
	Size int
	// Unit is the token the size was written in: l, ml, kg or g
	Unit string
	// Fat is the first percentage found in the text
	Fat *float64
}

// ParseSizeAndFat extracts the package size, its unit hint and the fat percentage.
// Liter and kilogram sizes are converted to ml and g.
func ParseSizeAndFat(text string) Attributes {
	t := strings.ReplaceAll(strings.ToLower(text), ",", ".")

	var attrs Attributes
	if m := sizeRe.FindStringSubmatch(t); m != nil {
		val, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			attrs.Unit = m[2]
			if attrs.Unit == "l" || attrs.Unit == "kg" {
				val *= 1000
			}
			attrs.Size = int(math.Round(val))
		}
	}
	if m := fatRe.FindStringSubmatch(t); m != nil {
		if fat, err := strconv.ParseFloat(m[1], 64); err == nil {
			attrs.Fat = &fat
		}
	}
	return attrs
}

// ParseFat extracts the first percentage in text, accepting comma decimals
func ParseFat(text string) *float64 {
	return ParseSizeAndFat(text).Fat
}

// UnitPrice returns the price per kg or per liter rounded to cents.
// It returns nil when the size is unknown.
func UnitPrice(price float64, size int) *float64 {
	if size <= 0 {
		return nil
	}
	per := float64(size) / 1000.0
	v := math.Round(price/per*100) / 100
	return &v
}

// SaleUnit maps a size unit hint to the unit the unit price is quoted in
func SaleUnit(unitHint string) string {
	switch unitHint {
	case "l", "ml":
		return "l"
	case "kg", "g":
		return "kg"
	}
	return ""
}
