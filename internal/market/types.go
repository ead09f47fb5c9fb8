package market

import (
	"math"
	"time"
)

// CandidateSource tags where a candidate wallet was discovered.
type CandidateSource string

const (
	SourceTopTrader    CandidateSource = "topTrader"
	SourceFirstBuyer   CandidateSource = "firstBuyer"
	SourceTopHolder    CandidateSource = "topHolder"
	SourceRecentTrader CandidateSource = "recentTrader"
)

// Resolution is a supported OHLCV candle size.
type Resolution string

const (
	Res1m  Resolution = "1m"
	Res5m  Resolution = "5m"
	Res15m Resolution = "15m"
	Res1h  Resolution = "1h"
	Res4h  Resolution = "4h"
	Res1d  Resolution = "1d"
)

// Seconds returns the candle duration for the resolution.
func (r Resolution) Seconds() int64 {
	switch r {
	case Res1m:
		return 60
	case Res5m:
		return 300
	case Res15m:
		return 900
	case Res1h:
		return 3600
	case Res4h:
		return 14400
	case Res1d:
		return 86400
	}
	return 300
}

// Token is a chain-native token as reported by the market data provider.
// Immutable within one analysis request.
type Token struct {
	Address         string    `json:"address"`
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name"`
	PairAddress     string    `json:"pair_address,omitempty"`
	LiquidityUSD    float64   `json:"liquidity_usd"`
	TotalSupply     float64   `json:"total_supply"`
	CreatedAt       time.Time `json:"created_at"`
	LPBurnedPct     float64   `json:"lp_burned_pct"`
	MintRevoked     bool      `json:"mint_revoked"`
	FreezeRevoked   bool      `json:"freeze_revoked"`
}

// Candle is a single OHLCV bar. Prices are in quote currency (USD),
// VolumeBase in base tokens, VolumeUSD in quote USD.
type Candle struct {
	Time       int64   `json:"t"`
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	VolumeBase float64 `json:"v"`
	VolumeUSD  float64 `json:"v_usd"`
}

// IsGreen reports whether the candle closed above its open.
func (c Candle) IsGreen() bool { return c.Close > c.Open }

// GainPct is the close-over-open move in percent.
func (c Candle) GainPct() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// Candidate is a wallet discovered from one or more provider sources for a
// subject token. The same address may arrive from several sources; callers
// merge by union of Sources.
type Candidate struct {
	Wallet         string                    `json:"wallet"`
	Sources        map[CandidateSource]bool  `json:"sources"`
	VolumeUSD      float64                   `json:"volume_usd"`
	HoldingUSD     float64                   `json:"holding_usd"`
	FirstBuyTime   time.Time                 `json:"first_buy_time"`
	NumBuys        int                       `json:"num_buys"`
	TotalVolumeUSD float64                   `json:"total_volume_usd"`
	// Running sums over per-buy extracted prices. Exported so candidates
	// survive the JSON round-trip through the result cache.
	PriceSumUSD   float64 `json:"price_sum_usd"`
	PriceSqSumUSD float64 `json:"price_sq_sum_usd"`
}

// NewCandidate returns a candidate with a single source attribution.
func NewCandidate(wallet string, src CandidateSource) *Candidate {
	return &Candidate{
		Wallet:  wallet,
		Sources: map[CandidateSource]bool{src: true},
	}
}

// AddBuy folds one observed buy transaction into the candidate.
func (c *Candidate) AddBuy(priceUSD, volumeUSD float64, at time.Time) {
	c.NumBuys++
	c.PriceSumUSD += priceUSD
	c.PriceSqSumUSD += priceUSD * priceUSD
	c.TotalVolumeUSD += volumeUSD
	if c.FirstBuyTime.IsZero() || at.Before(c.FirstBuyTime) {
		c.FirstBuyTime = at
	}
}

// EntryPrice is the average of the extracted buy prices, zero when no buys
// were observed directly.
func (c *Candidate) EntryPrice() float64 {
	if c.NumBuys == 0 {
		return 0
	}
	return c.PriceSumUSD / float64(c.NumBuys)
}

// EntryPriceCV is the coefficient of variation of the observed buy prices,
// zero with fewer than two buys.
func (c *Candidate) EntryPriceCV() float64 {
	if c.NumBuys < 2 {
		return 0
	}
	n := float64(c.NumBuys)
	mean := c.PriceSumUSD / n
	if mean <= 0 {
		return 0
	}
	variance := c.PriceSqSumUSD/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance) / mean
}

// HasSource reports whether the candidate carries the given source tag.
func (c *Candidate) HasSource(src CandidateSource) bool { return c.Sources[src] }

// Merge unions another record for the same wallet into this one.
func (c *Candidate) Merge(other *Candidate) {
	for src := range other.Sources {
		c.Sources[src] = true
	}
	c.VolumeUSD += other.VolumeUSD
	if other.HoldingUSD > c.HoldingUSD {
		c.HoldingUSD = other.HoldingUSD
	}
	if !other.FirstBuyTime.IsZero() &&
		(c.FirstBuyTime.IsZero() || other.FirstBuyTime.Before(c.FirstBuyTime)) {
		c.FirstBuyTime = other.FirstBuyTime
	}
	c.NumBuys += other.NumBuys
	c.PriceSumUSD += other.PriceSumUSD
	c.PriceSqSumUSD += other.PriceSqSumUSD
	c.TotalVolumeUSD += other.TotalVolumeUSD
}

// WalletPnL is the provider's profit summary for one wallet on one token.
// Multipliers are total-out over total-in (1.0 = break even).
type WalletPnL struct {
	RealizedMultiplier float64 `json:"realized_multiplier"`
	TotalMultiplier    float64 `json:"total_multiplier"`
}

// EntryPoint is the provider-attributed first entry for a wallet on a token.
type EntryPoint struct {
	PriceUSD  float64   `json:"price_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// WalletHistory summarizes a wallet's trading record over a lookback
// window, independent of any single token.
type WalletHistory struct {
	WindowDays     int     `json:"window_days"`
	TokensTraded   int     `json:"tokens_traded"`
	TradeCount     int     `json:"trade_count"`
	WinRate        float64 `json:"win_rate"`
	RealizedPnLUSD float64 `json:"realized_pnl_usd"`
	BestMultiplier float64 `json:"best_multiplier"`
}

// ATH is the resolved all-time-high for a token.
type ATH struct {
	PriceUSD  float64   `json:"price_usd"`
	Timestamp time.Time `json:"timestamp"`
	MarketCap float64   `json:"market_cap"`
}
