package models

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Widths of the store_items columns, in characters
const (
	MaxRawNameLen      = 300
	MaxRawSizeLen      = 80
	MaxExternalIDLen   = 128
	MaxLabelLen        = 120
	MaxCategoryNormLen = 80
)

// Sale units for canonical products
const (
	UnitKilogram = "kg"
	UnitLiter    = "l"
)

// DefaultCurrency is the currency every Kosovo chain prices in
const DefaultCurrency = "€"

// Store represents a retail chain (or one channel of a chain, e.g. its flyer)
type Store struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Slug string `json:"slug" db:"slug"`
	City string `json:"city" db:"city"`
}

// Product is a canonical catalog entry that store listings map onto
type Product struct {
	ID            int64    `json:"id" db:"id"`
	CanonicalName string   `json:"canonical_name" db:"canonical_name"`
	Category      string   `json:"category" db:"category"`
	Unit          string   `json:"unit" db:"unit"`
	Brand         *string  `json:"brand" db:"brand"`
	SizeMlG       *int     `json:"size_ml_g" db:"size_ml_g"`
	FatPct        *float64 `json:"fat_pct" db:"fat_pct"`
}

// BrandName returns the brand or an empty string
func (p *Product) BrandName() string {
	if p.Brand == nil {
		return ""
	}
	return *p.Brand
}

// Size returns the reference size in ml/g, or 0 when unknown
func (p *Product) Size() int {
	if p.SizeMlG == nil {
		return 0
	}
	return *p.SizeMlG
}

// Fat returns the reference fat percentage, or 0 when unknown
func (p *Product) Fat() float64 {
	if p.FatPct == nil {
		return 0
	}
	return *p.FatPct
}

// StoreItem is one merchant listing inside a Store
type StoreItem struct {
	ID           int64    `json:"id" db:"id"`
	StoreID      int64    `json:"store_id" db:"store_id"`
	ExternalID   *string  `json:"external_id" db:"external_id"`
	RawName      string   `json:"raw_name" db:"raw_name"`
	RawSize      *string  `json:"raw_size" db:"raw_size"`
	URL          *string  `json:"url" db:"url"`
	Brand        *string  `json:"brand" db:"brand"`
	Category     *string  `json:"category" db:"category"`
	CategoryNorm *string  `json:"category_norm" db:"category_norm"`
	FatPct       *float64 `json:"fat_pct" db:"fat_pct"`
}

// CheckWidths reports the first field that does not fit its column
func (it *StoreItem) CheckWidths() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"raw_name", it.RawName, MaxRawNameLen},
		{"raw_size", Deref(it.RawSize), MaxRawSizeLen},
		{"external_id", Deref(it.ExternalID), MaxExternalIDLen},
		{"brand", Deref(it.Brand), MaxLabelLen},
		{"category", Deref(it.Category), MaxLabelLen},
		{"category_norm", Deref(it.CategoryNorm), MaxCategoryNormLen},
	}
	for _, f := range fields {
		if n := utf8.RuneCountInString(f.value); n > f.max {
			return fmt.Errorf("%s has %d characters, limit %d: %w", f.name, n, f.max, ErrValueTooLong)
		}
	}
	return nil
}

// Backfill copies fields that are known on other but still empty on the item.
// It reports whether anything changed.
func (si *StoreItem) Backfill(other *StoreItem) bool {
	changed := false
	fill := func(dst **string, src *string) {
		if (*dst == nil || **dst == "") && src != nil && *src != "" {
			v := *src
			*dst = &v
			changed = true
		}
	}
	fill(&si.ExternalID, other.ExternalID)
	fill(&si.RawSize, other.RawSize)
	fill(&si.URL, other.URL)
	fill(&si.Brand, other.Brand)
	fill(&si.Category, other.Category)
	fill(&si.CategoryNorm, other.CategoryNorm)
	if si.FatPct == nil && other.FatPct != nil {
		v := *other.FatPct
		si.FatPct = &v
		changed = true
	}
	return changed
}

// Price is one observation of a StoreItem's price at a point in time
type Price struct {
	ID             int64      `json:"id" db:"id"`
	StoreItemID    int64      `json:"store_item_id" db:"store_item_id"`
	StoreID        int64      `json:"store_id" db:"store_id"`
	PriceEUR       float64    `json:"price_eur" db:"price_eur"`
	UnitPrice      *float64   `json:"unit_price" db:"unit_price"`
	Currency       string     `json:"currency" db:"currency"`
	CollectedAt    time.Time  `json:"collected_at" db:"collected_at"`
	PromoFlag      bool       `json:"promo_flag" db:"promo_flag"`
	PromoValidFrom *time.Time `json:"promo_valid_from" db:"promo_valid_from"`
	PromoValidTo   *time.Time `json:"promo_valid_to" db:"promo_valid_to"`
}

// priceEpsilon is the smallest difference treated as a real price change
const priceEpsilon = 1e-4

// DiffersFrom reports whether the observation materially differs from an existing row
func (p *Price) DiffersFrom(other *Price) bool {
	if math.Abs(p.PriceEUR-other.PriceEUR) > priceEpsilon {
		return true
	}
	if (p.UnitPrice == nil) != (other.UnitPrice == nil) {
		return true
	}
	if p.UnitPrice != nil && math.Abs(*p.UnitPrice-*other.UnitPrice) > priceEpsilon {
		return true
	}
	if p.PromoFlag != other.PromoFlag {
		return true
	}
	return !sameDate(p.PromoValidFrom, other.PromoValidFrom) || !sameDate(p.PromoValidTo, other.PromoValidTo)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Mapping asserts that a StoreItem is an instance of a Product
type Mapping struct {
	ID          int64     `json:"id" db:"id"`
	ProductID   int64     `json:"product_id" db:"product_id"`
	StoreItemID int64     `json:"store_item_id" db:"store_item_id"`
	MatchScore  float64   `json:"match_score" db:"match_score"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RawOffer is what a harvester produces before normalization
type RawOffer struct {
	Name       string
	Price      float64
	Reference  string
	ExternalID string
	ObservedAt *time.Time

	Promo      bool
	ValidFrom  *time.Time
	ValidTo    *time.Time
	Brand      string
	Category   string
	RawSize    string
}

// Valid reports whether the offer carries the minimum a StoreItem needs. A
// name longer than the raw_name column is a merged layout line, not a listing.
func (o RawOffer) Valid() bool {
	name := strings.Join(strings.Fields(o.Name), " ")
	if name == "" || utf8.RuneCountInString(name) > MaxRawNameLen {
		return false
	}
	return o.Price > 0 && !math.IsNaN(o.Price) && !math.IsInf(o.Price, 0)
}

// OfferRow is a Price joined with its StoreItem and Store, the unit the
// comparison engine works on
type OfferRow struct {
	PriceID        int64      `db:"price_id"`
	StoreItemID    int64      `db:"store_item_id"`
	StoreID        int64      `db:"store_id"`
	StoreName      string     `db:"store_name"`
	RawName        string     `db:"raw_name"`
	URL            *string    `db:"url"`
	ItemFatPct     *float64   `db:"item_fat_pct"`
	PriceEUR       float64    `db:"price_eur"`
	UnitPrice      *float64   `db:"unit_price"`
	Currency       string     `db:"currency"`
	CollectedAt    time.Time  `db:"collected_at"`
	PromoFlag      bool       `db:"promo_flag"`
	PromoValidFrom *time.Time `db:"promo_valid_from"`
	PromoValidTo   *time.Time `db:"promo_valid_to"`
}

// Offer is one ranked entry of a comparison answer
type Offer struct {
	Store          string     `json:"store"`
	RawName        string     `json:"raw_name"`
	URL            *string    `json:"url"`
	PriceEUR       float64    `json:"price_eur"`
	UnitPrice      *float64   `json:"unit_price"`
	Currency       string     `json:"currency"`
	CollectedAt    time.Time  `json:"collected_at"`
	Promo          bool       `json:"promo"`
	PromoValidFrom *time.Time `json:"promo_valid_from"`
	PromoValidTo   *time.Time `json:"promo_valid_to"`
}

// Comparison is the answer to "cheapest current offer per store for product X"
type Comparison struct {
	Product Product `json:"product"`
	Offers  []Offer `json:"offers"`
}

// StoreCount is the number of recent price rows per store
type StoreCount struct {
	Store string `json:"store" db:"store"`
	N     int    `json:"n" db:"n"`
}

// StrPtr returns a pointer to s, or nil for an empty string
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Clip cuts s to at most n runes
func Clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// FloatPtr returns a pointer to f
func FloatPtr(f float64) *float64 {
	return &f
}

// IntPtr returns a pointer to n
func IntPtr(n int) *int {
	return &n
}

// Deref returns the string behind p, or an empty string
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
