package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// OutputLimit is how many wallets a final ranking carries.
const OutputLimit = 20

// OverlapLimit caps the dedicated cross-token overlap section.
const OverlapLimit = 10

// AggregatedWallet is one wallet folded across every requested token.
type AggregatedWallet struct {
	Wallet              string             `json:"address"`
	Tier                Tier               `json:"tier"`
	TokensHit           []string           `json:"tokens_hit"`
	PerTokenScores      map[string]float64 `json:"per_token_scores"`
	PerTokenMultipliers map[string]float64 `json:"per_token_multipliers"`
	AvgScore            float64            `json:"avg_score"`
	PumpsCalled         int                `json:"pumps_called"`
	AvgDistancePct      float64            `json:"avg_distance_pct"`
	StdevDistance       float64            `json:"stdev_distance"`
	AvgTimingMinutes    float64            `json:"avg_timing_minutes"`
	EarliestCallMinutes float64            `json:"earliest_call_minutes"`
	EarliestEntry       time.Time          `json:"earliest_entry"`
	EntryMarketCap      float64            `json:"entry_market_cap"`
	ATHMarketCap        float64            `json:"ath_market_cap"`
	HighConfidenceCount int                `json:"high_confidence_count,omitempty"`
}

// CrossTokenResult is the request-level ranking.
type CrossTokenResult struct {
	// Ranked is the two-stage final ordering: cross-token wallets first
	// (overlap count desc, then average score desc), single-token wallets
	// backfilled by score up to OutputLimit.
	Ranked []AggregatedWallet `json:"ranked"`
	// Overlap is the dedicated cross-token section, capped at OverlapLimit.
	Overlap []AggregatedWallet `json:"overlap"`
}

// CrossToken folds each token's scored wallets into a single wallet-keyed
// map and produces the final ordering. minRunnerHits is the overlap filter;
// wallets below it still compete for backfill slots.
func CrossToken(perToken map[string][]ScoredWallet, minRunnerHits int) CrossTokenResult {
	if minRunnerHits < 1 {
		minRunnerHits = 2
	}

	// Single map keyed by wallet address; source attribution and per-token
	// figures live on the value, never as pointers between tokens.
	byWallet := make(map[string]*AggregatedWallet)
	distances := make(map[string][]float64)
	timings := make(map[string][]float64)

	tickers := make([]string, 0, len(perToken))
	for t := range perToken {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		for _, sw := range perToken[ticker] {
			agg, ok := byWallet[sw.Wallet]
			if !ok {
				agg = &AggregatedWallet{
					Wallet:              sw.Wallet,
					PerTokenScores:      make(map[string]float64),
					PerTokenMultipliers: make(map[string]float64),
				}
				byWallet[sw.Wallet] = agg
			}
			agg.TokensHit = append(agg.TokensHit, ticker)
			agg.PerTokenScores[ticker] = sw.ProfessionalScore
			agg.PerTokenMultipliers[ticker] = math.Max(sw.RealizedMultiplier, sw.TotalMultiplier)
			agg.PumpsCalled++
			distances[sw.Wallet] = append(distances[sw.Wallet], sw.DistanceToAthPct)
			timings[sw.Wallet] = append(timings[sw.Wallet], sw.LeadTimeMinutes)
			if sw.ProfessionalScore >= 80 {
				agg.HighConfidenceCount++
			}
			if agg.EarliestEntry.IsZero() || sw.EntryTimestamp.Before(agg.EarliestEntry) {
				agg.EarliestEntry = sw.EntryTimestamp
				agg.EntryMarketCap = sw.EntryMarketCap
				agg.ATHMarketCap = sw.ATHMarketCap
			}
		}
	}

	all := make([]AggregatedWallet, 0, len(byWallet))
	for wallet, agg := range byWallet {
		var sum float64
		for _, s := range agg.PerTokenScores {
			sum += s
		}
		agg.AvgScore = sum / float64(len(agg.PerTokenScores))
		agg.AvgDistancePct, agg.StdevDistance = meanStdev(distances[wallet])
		agg.AvgTimingMinutes, _ = meanStdev(timings[wallet])
		agg.EarliestCallMinutes = maxOf(timings[wallet])
		agg.Tier = AssignTier(agg.PumpsCalled, agg.AvgDistancePct, agg.StdevDistance)
		all = append(all, *agg)
	}

	cross := make([]AggregatedWallet, 0, len(all))
	single := make([]AggregatedWallet, 0, len(all))
	for _, a := range all {
		if len(a.TokensHit) >= minRunnerHits {
			cross = append(cross, a)
		} else {
			single = append(single, a)
		}
	}

	// Stage one: overlap count, then average professional score.
	sort.SliceStable(cross, func(i, j int) bool {
		if len(cross[i].TokensHit) != len(cross[j].TokensHit) {
			return len(cross[i].TokensHit) > len(cross[j].TokensHit)
		}
		return cross[i].AvgScore > cross[j].AvgScore
	})
	// Stage two: plain score order for backfill.
	sort.SliceStable(single, func(i, j int) bool {
		return single[i].AvgScore > single[j].AvgScore
	})

	ranked := make([]AggregatedWallet, 0, OutputLimit)
	ranked = append(ranked, cross...)
	for _, a := range single {
		if len(ranked) >= OutputLimit {
			break
		}
		ranked = append(ranked, a)
	}
	if len(ranked) > OutputLimit {
		ranked = ranked[:OutputLimit]
	}

	overlap := cross
	if len(overlap) > OverlapLimit {
		overlap = overlap[:OverlapLimit]
	}

	log.Info().Int("wallets", len(all)).Int("cross_token", len(cross)).
		Int("ranked", len(ranked)).Int("min_runner_hits", minRunnerHits).
		Msg("cross-token aggregation complete")

	return CrossTokenResult{Ranked: ranked, Overlap: overlap}
}

func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func maxOf(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
