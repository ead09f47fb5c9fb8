package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSwapPrice_DirectField(t *testing.T) {
	tx := Swap{PriceUSD: 0.00042, ToAddress: "MINT", ToAmount: 1000, VolumeUSD: 0.42}
	price, ok := ExtractSwapPrice(tx, "MINT")
	assert.True(t, ok)
	assert.Equal(t, 0.00042, price)
}

func TestExtractSwapPrice_ComputedFromLegs(t *testing.T) {
	t.Run("to side references mint", func(t *testing.T) {
		tx := Swap{ToAddress: "MINT", ToAmount: 2000, VolumeUSD: 1.0}
		price, ok := ExtractSwapPrice(tx, "MINT")
		assert.True(t, ok)
		assert.InDelta(t, 0.0005, price, 1e-12)
	})

	t.Run("from side references mint", func(t *testing.T) {
		tx := Swap{FromAddress: "MINT", FromAmount: 500, VolumeUSD: 2.5}
		price, ok := ExtractSwapPrice(tx, "MINT")
		assert.True(t, ok)
		assert.InDelta(t, 0.005, price, 1e-12)
	})
}

func TestExtractSwapPrice_InsanePriceFieldFallsBack(t *testing.T) {
	// A direct price of 1500 USD/token is not plausible; recompute from legs.
	tx := Swap{PriceUSD: 1500, ToAddress: "MINT", ToAmount: 10000, VolumeUSD: 5}
	price, ok := ExtractSwapPrice(tx, "MINT")
	assert.True(t, ok)
	assert.InDelta(t, 0.0005, price, 1e-12)
}

func TestExtractSwapPrice_Unextractable(t *testing.T) {
	cases := map[string]Swap{
		"mint on neither leg":  {ToAddress: "OTHER", FromAddress: "ALSO", ToAmount: 1, VolumeUSD: 1},
		"zero amount":          {ToAddress: "MINT", ToAmount: 0, VolumeUSD: 1},
		"zero volume":          {ToAddress: "MINT", ToAmount: 100, VolumeUSD: 0},
		"computed price insane": {ToAddress: "MINT", ToAmount: 0.001, VolumeUSD: 100},
	}
	for name, tx := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := ExtractSwapPrice(tx, "MINT")
			assert.False(t, ok)
		})
	}
}
