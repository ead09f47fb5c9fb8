package ranking

// Tier is the coarse S/A/B/C wallet bucket.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// AssignTier buckets a wallet by how many requested tokens it qualified in,
// how early it entered on average (distance to ATH, percent), and how
// stable that timing is (stdev of the distance).
func AssignTier(pumpCount int, avgDistancePct, stdevDistance float64) Tier {
	switch {
	case pumpCount >= 10 && avgDistancePct >= 75 && stdevDistance < 15:
		return TierS
	case pumpCount >= 6 && avgDistancePct >= 60 && stdevDistance < 25:
		return TierA
	case pumpCount >= 3 && avgDistancePct >= 45:
		return TierB
	default:
		return TierC
	}
}
