package rally

import (
	"sort"

	"github.com/solrunner/walletrank/internal/market"
)

// earlyVolumeFloor is the assumed baseline when the series is too young to
// have a usable lookback.
const earlyVolumeFloor = 50.0

// volumeBaseline estimates normal USD volume ahead of candle i: take up to
// lookback candles before i, discard IQR outliers, and return the median.
// Outlier removal keeps a single whale print from masking a genuine volume
// spike at the start candle.
func volumeBaseline(candles []market.Candle, i, lookback int) float64 {
	if i < 3 {
		return earlyVolumeFloor
	}

	from := i - lookback
	if from < 0 {
		from = 0
	}
	vols := make([]float64, 0, i-from)
	for _, c := range candles[from:i] {
		vols = append(vols, c.VolumeUSD)
	}
	sort.Float64s(vols)

	filtered := dropIQROutliers(vols)
	if len(filtered) == 0 {
		return earlyVolumeFloor
	}
	return median(filtered)
}

// dropIQROutliers removes values outside [Q25 - 2*IQR, Q75 + 2*IQR].
// Input must be sorted.
func dropIQROutliers(sorted []float64) []float64 {
	if len(sorted) < 4 {
		return sorted
	}
	q25 := quantile(sorted, 0.25)
	q75 := quantile(sorted, 0.75)
	iqr := q75 - q25
	lo, hi := q25-2*iqr, q75+2*iqr

	out := make([]float64, 0, len(sorted))
	for _, v := range sorted {
		if v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	return out
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
