package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoiToScore_WorkedPoints(t *testing.T) {
	cases := []struct {
		mult float64
		want float64
	}{
		{1, 0},
		{5, 23.3},
		{10, 33.3},
		{50, 56.7},
		{100, 66.7},
		{500, 89.9},
		{1000, 100},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, RoiToScore(tc.mult), 0.05, "m=%v", tc.mult)
	}
}

func TestRoiToScore_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, RoiToScore(0.5))
	assert.Equal(t, 0.0, RoiToScore(1))
	assert.Equal(t, 100.0, RoiToScore(5000), "above ceiling clamps to 100")

	// Strictly increasing on m > 1.
	prev := 0.0
	for m := 1.1; m < 1000; m *= 1.7 {
		s := RoiToScore(m)
		assert.Greater(t, s, prev)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
		prev = s
	}
}

func TestConsistency(t *testing.T) {
	assert.Equal(t, 50.0, Consistency(1, 0), "single buy earns half")
	assert.Equal(t, 100.0, Consistency(3, 0), "identical prices are perfectly consistent")
	assert.Greater(t, Consistency(3, 0.05), 50.0, "slight variance stays above half")
	assert.Less(t, Consistency(3, 1.5), 10.0)
}

func TestScore_Decomposition(t *testing.T) {
	w := QualifiedWallet{
		EntryToAthMultiplier: 10,
		RealizedMultiplier:   4,
		TotalMultiplier:      6,
		NumBuys:              3,
		EntryPriceCV:         0.05,
	}
	prof, cons := Score(w)

	want := 0.6*RoiToScore(10) + 0.3*RoiToScore(6) + 0.1*cons
	assert.InDelta(t, want, prof, 0.01, "score must recompute from carried fields")
	assert.Greater(t, cons, 50.0)
}

func TestRankToken_OrderAndTieBreak(t *testing.T) {
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	wallets := []QualifiedWallet{
		{Wallet: "late-equal", EntryToAthMultiplier: 10, NumBuys: 1, EntryTimestamp: late},
		{Wallet: "big", EntryToAthMultiplier: 100, NumBuys: 1, EntryTimestamp: late},
		{Wallet: "early-equal", EntryToAthMultiplier: 10, NumBuys: 1, EntryTimestamp: early},
	}

	scored := RankToken(wallets)
	require.Len(t, scored, 3)
	assert.Equal(t, "big", scored[0].Wallet)
	assert.Equal(t, "early-equal", scored[1].Wallet, "earlier entry wins the tie")
	assert.Equal(t, "late-equal", scored[2].Wallet)

	for _, sw := range scored {
		want := 0.6*RoiToScore(sw.EntryToAthMultiplier) +
			0.3*RoiToScore(math.Max(sw.RealizedMultiplier, sw.TotalMultiplier)) +
			0.1*sw.ConsistencyScore
		assert.InDelta(t, want, sw.ProfessionalScore, 0.01)
	}
}

func TestAssignTier(t *testing.T) {
	assert.Equal(t, TierS, AssignTier(12, 80, 10))
	assert.Equal(t, TierA, AssignTier(7, 65, 20))
	assert.Equal(t, TierB, AssignTier(3, 50, 40))
	assert.Equal(t, TierC, AssignTier(1, 90, 0))
	assert.Equal(t, TierB, AssignTier(12, 80, 30), "unstable timing drops out of S and A")
	assert.Equal(t, TierC, AssignTier(2, 95, 1))
}
