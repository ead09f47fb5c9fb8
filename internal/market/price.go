package market

// maxSanePrice bounds a plausible memecoin price-per-token in USD. Provider
// price fields outside (0, maxSanePrice) are treated as junk and the price
// is recomputed from the swap legs instead.
const maxSanePrice = 10.0

// ExtractSwapPrice derives the per-token USD price paid in one swap
// transaction for the subject mint. Prefers the provider's direct price
// field when it is in the sane range; otherwise divides the swap's USD
// volume by the token amount on whichever leg references the mint. Returns
// ok=false when no acceptable price can be derived.
func ExtractSwapPrice(tx Swap, mint string) (float64, bool) {
	if saneprice(tx.PriceUSD) {
		return tx.PriceUSD, true
	}

	var amount float64
	switch mint {
	case tx.ToAddress:
		amount = tx.ToAmount
	case tx.FromAddress:
		amount = tx.FromAmount
	default:
		return 0, false
	}
	if amount <= 0 || tx.VolumeUSD <= 0 {
		return 0, false
	}

	price := tx.VolumeUSD / amount
	if !saneprice(price) {
		return 0, false
	}
	return price, true
}

func saneprice(p float64) bool { return p > 0 && p < maxSanePrice }
