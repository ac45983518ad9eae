package normalize

// Listing is everything the normalizer can say about one raw listing name
type Listing struct {
	Attributes
	Brand    string
	Category string
	// Class is the coarse category from Classify
	Class string
}

// Describe runs every extractor over a listing name
func Describe(name string) Listing {
	return Listing{
		Attributes: ParseSizeAndFat(name),
		Brand:      DetectBrand(name),
		Category:   DetectCategory(name),
		Class:      Classify(name),
	}
}
