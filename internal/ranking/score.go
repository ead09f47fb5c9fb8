// Package ranking turns qualified wallets into scored, tiered, ordered
// output: per-token professional scores and the cross-token aggregation.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/solrunner/walletrank/internal/market"
)

// RoiCeiling is the multiplier mapped to a score of 100.
const RoiCeiling = 1000.0

// Component weights of the professional score.
const (
	weightEntryQuality = 0.60
	weightTotalROI     = 0.30
	weightConsistency  = 0.10
)

// QualifiedWallet is a wallet that passed qualification for one token,
// with everything scoring needs.
type QualifiedWallet struct {
	Wallet               string    `json:"wallet"`
	TokenAddress         string    `json:"token_address"`
	Ticker               string    `json:"ticker"`
	Sources              []string  `json:"sources"`
	EntryPrice           float64   `json:"entry_price"`
	EntryTimestamp       time.Time `json:"entry_timestamp"`
	RealizedMultiplier   float64   `json:"realized_roi_multiplier"`
	TotalMultiplier      float64   `json:"total_roi_multiplier"`
	EntryToAthMultiplier float64   `json:"entry_to_ath_multiplier"`
	DistanceToAthPct     float64   `json:"distance_to_ath_pct"`
	HoldingUSD           float64   `json:"holding_usd,omitempty"`
	NumBuys              int       `json:"num_buys"`
	// EntryPriceCV is the coefficient of variation of the wallet's buy
	// prices in this token; zero when only one buy was observed.
	EntryPriceCV    float64 `json:"entry_price_cv"`
	TotalVolumeUSD  float64 `json:"total_volume_usd"`
	EntryMarketCap  float64 `json:"entry_market_cap"`
	ATHMarketCap    float64 `json:"ath_market_cap"`
	LeadTimeMinutes float64 `json:"lead_time_minutes"`
	// History is the finalist enrichment; nil until the wallet reaches the
	// ranked top of its token.
	History *market.WalletHistory `json:"history,omitempty"`
}

// ScoredWallet is a qualified wallet with its composite score attached.
type ScoredWallet struct {
	QualifiedWallet
	ProfessionalScore float64 `json:"professional_score"`
	ConsistencyScore  float64 `json:"consistency_score"`
	Tier              Tier    `json:"tier"`
}

// RoiToScore maps a ROI multiplier onto [0, 100] on a log10 scale with
// RoiCeiling pinned to 100. Bounding the ROI component this way keeps a
// single lottery exit from drowning out entry timing.
func RoiToScore(m float64) float64 {
	if m <= 1 {
		return 0
	}
	score := math.Log10(m) / math.Log10(RoiCeiling) * 100
	return math.Min(100, score)
}

// Consistency scores how tightly the wallet's buys cluster in price. A
// single observed buy gives no variance signal, so it earns half credit.
func Consistency(numBuys int, cv float64) float64 {
	if numBuys <= 1 {
		return 50
	}
	if cv < 0 {
		cv = 0
	}
	return 100 / (1 + 10*cv)
}

// Score computes the professional score and its consistency component.
func Score(w QualifiedWallet) (professional, consistency float64) {
	entryQuality := RoiToScore(w.EntryToAthMultiplier)
	totalROI := RoiToScore(math.Max(w.RealizedMultiplier, w.TotalMultiplier))
	consistency = Consistency(w.NumBuys, w.EntryPriceCV)

	professional = weightEntryQuality*entryQuality +
		weightTotalROI*totalROI +
		weightConsistency*consistency
	return professional, consistency
}

// RankToken scores and orders one token's qualified wallets: score
// descending, earlier entry breaking ties. Tiers here reflect a single
// token (pump count 1); cross-token aggregation overwrites them.
func RankToken(wallets []QualifiedWallet) []ScoredWallet {
	scored := make([]ScoredWallet, 0, len(wallets))
	for _, w := range wallets {
		prof, cons := Score(w)
		scored = append(scored, ScoredWallet{
			QualifiedWallet:   w,
			ProfessionalScore: prof,
			ConsistencyScore:  cons,
			Tier:              AssignTier(1, w.DistanceToAthPct, 0),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].ProfessionalScore != scored[j].ProfessionalScore {
			return scored[i].ProfessionalScore > scored[j].ProfessionalScore
		}
		return scored[i].EntryTimestamp.Before(scored[j].EntryTimestamp)
	})
	return scored
}
