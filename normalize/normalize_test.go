package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeAndFat(t *testing.T) {
	tests := []struct {
		text string
		size int
		unit string
		fat  float64
	}{
		{"Qumësht Rugove 1L 2.8%", 1000, "l", 2.8},
		{"Qumesht 1,5 l 3,5 %", 1500, "l", 3.5},
		{"Jogurt 500ml", 500, "ml", 0},
		{"Gjalp 250g", 250, "g", 0},
		{"Patate 2.3kg", 2300, "kg", 0},
		{"Kackavall 0,4 KG", 400, "kg", 0},
		{"Djathë i bardhë", 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			attrs := ParseSizeAndFat(tt.text)
			assert.Equal(t, tt.size, attrs.Size)
			assert.Equal(t, tt.unit, attrs.Unit)
			if tt.fat == 0 {
				assert.Nil(t, attrs.Fat)
			} else {
				require.NotNil(t, attrs.Fat)
				assert.InDelta(t, tt.fat, *attrs.Fat, 1e-9)
			}
		})
	}
}

func TestParseSizeAndFatIsIdempotent(t *testing.T) {
	for _, text := range []string{"Qumësht Rugove 1L 2.8%", "Kos 1kg", "no size here", ""} {
		assert.Equal(t, ParseSizeAndFat(text), ParseSizeAndFat(text))
	}
}

func TestUnitPrice(t *testing.T) {
	up := UnitPrice(0.95, 1000)
	require.NotNil(t, up)
	assert.Equal(t, 0.95, *up)

	up = UnitPrice(1.29, 250)
	require.NotNil(t, up)
	assert.Equal(t, 5.16, *up)

	up = UnitPrice(0.89, 500)
	require.NotNil(t, up)
	assert.Equal(t, 1.78, *up)

	assert.Nil(t, UnitPrice(1.00, 0))
	assert.Nil(t, UnitPrice(1.00, -250))
}

func TestUnitPriceIsDeterministic(t *testing.T) {
	for _, hint := range []string{"kg", "g", "l", "ml"} {
		attrs := ParseSizeAndFat("Produkt 750" + hint)
		a := UnitPrice(2.49, attrs.Size)
		b := UnitPrice(2.49, attrs.Size)
		require.NotNil(t, a, hint)
		assert.Equal(t, *a, *b, hint)
	}
}

func TestSaleUnit(t *testing.T) {
	assert.Equal(t, "l", SaleUnit("ml"))
	assert.Equal(t, "l", SaleUnit("l"))
	assert.Equal(t, "kg", SaleUnit("g"))
	assert.Equal(t, "", SaleUnit(""))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "qumesht", Fold("Qumësht"))
	assert.Equal(t, "cokollate", Fold("Çokollatë"))
	assert.Equal(t, "gjalpe 250g", Fold("GJALPË 250g"))
}

func TestDetectBrand(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Qumësht Rugove 1L 2.8%", "Rugove"},
		{"Kos Abi 1kg", "Abi"},
		{"Coca-Cola 2L", "Coca-Cola"},
		{"Dukat Mleko 1L", "Dukat"},
		{"Qumesht i freskët 1L", ""},
		{"kos 500g", ""},
		{"1L ujë", ""},
		{"Ab 1L", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBrand(tt.name))
		})
	}
}

func TestDetectCategory(t *testing.T) {
	assert.Equal(t, "Leng", DetectCategory("Lëng Fructal portokalli 1L"))
	assert.Equal(t, "Embelsire", DetectCategory("Akullore me lëng frutash"))
	assert.Equal(t, "Kafe", DetectCategory("Jacobs Kronung 250g"))
	assert.Equal(t, "Kos", DetectCategory("Kos Abi 1kg"))
	assert.Equal(t, "", DetectCategory("Qumësht 1L"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Jogurt qumështi 1kg", CategoryYogurt},
		{"Qumësht Rugove 1L", CategoryMilk},
		{"Mleko 2.8%", CategoryMilk},
		{"Milk yoghurt drink 1L", CategoryYogurt},
		{"Gjalpë 250g", CategoryButter},
		{"Djathë i bardhë feta", CategoryCheese},
		{"Patate të bardha", CategoryPotato},
		{"Ujë mineral", CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.name))
		})
	}
}

func TestCanonStore(t *testing.T) {
	assert.Equal(t, "Albi", CanonStore(" Albi Market "))
	assert.Equal(t, "Interex", CanonStore("InterexKS"))
	assert.Equal(t, "Viva Fresh", CanonStore("vivafresh"))
	assert.Equal(t, "SPAR", CanonStore("Spar Kosova"))
	assert.Equal(t, "Meridian", CanonStore("Meridian"))
}

func TestDescribe(t *testing.T) {
	l := Describe("Qumësht Rugove 1L 2.8%")
	assert.Equal(t, 1000, l.Size)
	assert.Equal(t, "Rugove", l.Brand)
	assert.Equal(t, CategoryMilk, l.Class)
}
