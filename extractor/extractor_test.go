package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flyerText = `SPAR Oferta 01.10.2026 - 14.10.2026
Qumësht Rugove 1L 2.8% 0,95€
Jogurt Abi 1kg 1.29 €
Gjalp 250g  €2.49
Kos 1 kg 0.89
x 5

Qumësht Rugove 1L 2.8% 0,95€`

func TestParseText(t *testing.T) {
	res := ParseText(flyerText)

	require.Len(t, res.Items, 4)
	assert.Equal(t, Item{Name: "Qumësht Rugove 1L 2.8%", Price: 0.95, Brand: "Rugove"}, res.Items[0])
	assert.Equal(t, "Jogurt Abi 1kg", res.Items[1].Name)
	assert.Equal(t, 1.29, res.Items[1].Price)
	assert.Equal(t, "Abi", res.Items[1].Brand)
	assert.Equal(t, "Kos", res.Items[1].Category)
	assert.Equal(t, "Gjalp 250g", res.Items[2].Name)
	assert.Equal(t, 2.49, res.Items[2].Price)
	assert.Equal(t, "Kos 1 kg", res.Items[3].Name)
	assert.Equal(t, 0.89, res.Items[3].Price)

	require.NotNil(t, res.ValidFrom)
	require.NotNil(t, res.ValidTo)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), *res.ValidFrom)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), *res.ValidTo)
}

func TestParseLinePriceChoice(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		price float64
		ok    bool
	}{
		{"Vaj luledielli 1 29 €", "Vaj luledielli", 1.29, true},
		{"EUR 3.10 Kafe Jacobs 250g", "Kafe Jacobs 250g", 3.10, true},
		{"Djathë feta 400g 2,99", "Djathë feta 400g", 2.99, true},
		{"Bukë 2 copë 3", "Bukë 2 copë", 3, true},
		{"Qumësht 1L 2.8%", "", 0, false},
		{"Patate 1000g", "", 0, false},
		{"12.50€", "", 0, false},
		{"Kos - 0.79 -", "Kos", 0.79, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			it, ok := parseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.name, it.Name)
				assert.InDelta(t, tt.price, it.Price, 1e-9)
			}
		})
	}
}

func TestDedupeKeepsFirstPositionLastValue(t *testing.T) {
	items := dedupe([]Item{
		{Name: "Kos", Price: 0.79, Category: "a"},
		{Name: "Gjalp", Price: 2.49},
		{Name: "Kos", Price: 0.7900001, Category: "b"},
	})
	require.Len(t, items, 2)
	assert.Equal(t, "Kos", items[0].Name)
	assert.Equal(t, "b", items[0].Category)
	assert.Equal(t, "Gjalp", items[1].Name)
}

func TestValidityWindow(t *testing.T) {
	from, to := ValidityWindow("deri 14/10/26, nga 01/10/26")
	require.NotNil(t, from)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), *from)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), *to)

	from, to = ValidityWindow("only 01.10.2026")
	assert.Nil(t, from)
	assert.Nil(t, to)

	from, to = ValidityWindow("32.13.2026 01.10.2026")
	assert.Nil(t, from)
	assert.Nil(t, to)

	from, _ = ValidityWindow("01-10-2026 to 07-10-2026")
	require.NotNil(t, from)
	assert.Equal(t, 1, from.Day())
}
