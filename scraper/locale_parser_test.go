package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1,29 €", 1.29},
		{"€1.29", 1.29},
		{"0,99EUR", 0.99},
		{"1.234,56 €", 1234.56},
		{"1,234.56", 1234.56},
		{"1.000.000", 1000000},
		{"2,49 1,99", 2.49},
		{"  3 euro", 3},
		{"1,29 €", 1.29},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParsePriceRejects(t *testing.T) {
	for _, in := range []string{"", "çmimi", "0,00 €", "€"} {
		_, err := ParsePrice(in)
		assert.Error(t, err, in)
	}
}

func TestFindEuroAmount(t *testing.T) {
	v, ok := FindEuroAmount("Qumësht 1L 2.8% 0,95 €")
	require.True(t, ok)
	assert.Equal(t, 0.95, v)

	v, ok = FindEuroAmount("Jogurt € 1.49")
	require.True(t, ok)
	assert.Equal(t, 1.49, v)

	_, ok = FindEuroAmount("Jogurt 1kg 3.5%")
	assert.False(t, ok, "sizes and fat are not prices")
}
