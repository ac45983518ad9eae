package ingest

import (
	"context"
	"fmt"

	"kpc/models"
	"kpc/repository"
)

// StoreNames maps source slugs to the store name offers are filed under
var StoreNames = map[string]string{
	"maxi":       "Maxi",
	"vivafresh":  "Viva Fresh",
	"interex":    "Interex",
	"albi":       "Albi",
	"spar-flyer": "SPAR (Flyer)",
	"etc-flyer":  "ETC (Flyer)",
	"spar-wolt":  "SPAR (Wolt)",
}

// SeedProducts are the canonical products every cycle makes sure exist
var SeedProducts = []models.Product{
	{CanonicalName: "Milk 1L 2.8%", Category: "milk", Unit: models.UnitLiter, SizeMlG: models.IntPtr(1000), FatPct: models.FloatPtr(2.8)},
	{CanonicalName: "Milk 1L 3.5%", Category: "milk", Unit: models.UnitLiter, SizeMlG: models.IntPtr(1000), FatPct: models.FloatPtr(3.5)},
	{CanonicalName: "Feta / White Cheese 400g", Category: "cheese", Unit: models.UnitKilogram, SizeMlG: models.IntPtr(400)},
	{CanonicalName: "Yogurt 1kg tub", Category: "yogurt", Unit: models.UnitKilogram, SizeMlG: models.IntPtr(1000)},
	{CanonicalName: "Butter 250g", Category: "butter", Unit: models.UnitKilogram, SizeMlG: models.IntPtr(250)},
	{CanonicalName: "Potatoes per kg", Category: "vegetable", Unit: models.UnitKilogram, SizeMlG: models.IntPtr(1000)},
}

// Seed ensures the canonical products exist
func Seed(ctx context.Context, st repository.Store) error {
	for i := range SeedProducts {
		p := SeedProducts[i]
		if _, err := st.EnsureProduct(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.CanonicalName, err)
		}
	}
	return nil
}

// storeFor ensures the store row of a source slug
func storeFor(ctx context.Context, st repository.Store, slug, city string) (*models.Store, error) {
	name, ok := StoreNames[slug]
	if !ok {
		name = slug
	}
	return st.EnsureStore(ctx, &models.Store{Name: name, Slug: slug, City: city})
}
