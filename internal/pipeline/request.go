// Package pipeline orchestrates the per-token analysis graph and the
// request-level aggregation: candidate discovery, qualification, entry
// attachment, scoring, and the cross-token fold.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/solrunner/walletrank/internal/market"
	"github.com/solrunner/walletrank/internal/rally"
	"github.com/solrunner/walletrank/internal/ranking"
)

// Error taxonomy. Leaf failures are recovered locally; these surface in
// result envelopes, never as panics.
var (
	// ErrInvalidRequest rejects a request before any job is enqueued.
	ErrInvalidRequest = errors.New("pipeline: invalid request")
	// ErrProviderUnavailable means every credential is cooling or burnt.
	ErrProviderUnavailable = errors.New("pipeline: provider unavailable")
	// ErrInsufficientData covers thin candles, no rally starts, or no
	// qualifying wallets; the token result stays success=true.
	ErrInsufficientData = errors.New("pipeline: insufficient data")
	// ErrFatal means the result cache is unreachable after retries.
	ErrFatal = errors.New("pipeline: result store unreachable")
)

// Defaults for request options.
const (
	DefaultMinROIMultiplier = 5.0
	DefaultMinRunnerHits    = 2
	DefaultAnalysisDays     = 7
)

// TokenInput names one token to analyze.
type TokenInput struct {
	Address     string `json:"address"`
	Chain       string `json:"chain"`
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	PairAddress string `json:"pair_address,omitempty"`
}

// Options tune a request. Zero values take the documented defaults.
type Options struct {
	MinROIMultiplier  float64           `json:"min_roi_multiplier"`
	MinRunnerHits     int               `json:"min_runner_hits"`
	AnalysisDays      int               `json:"analysis_timeframe_days"`
	CandleSize        market.Resolution `json:"candle_size"`
}

// AnalysisRequest is the top-level request envelope.
type AnalysisRequest struct {
	Tokens  []TokenInput `json:"tokens"`
	Options Options      `json:"options"`
}

// Validate rejects malformed requests and fills option defaults.
func (r *AnalysisRequest) Validate() error {
	if len(r.Tokens) == 0 {
		return fmt.Errorf("%w: tokens array is empty", ErrInvalidRequest)
	}
	for i, tok := range r.Tokens {
		if tok.Address == "" {
			return fmt.Errorf("%w: tokens[%d] missing address", ErrInvalidRequest, i)
		}
		if tok.Chain == "" {
			r.Tokens[i].Chain = "solana"
		} else if tok.Chain != "solana" {
			return fmt.Errorf("%w: unsupported chain %q", ErrInvalidRequest, tok.Chain)
		}
		if tok.Ticker == "" {
			return fmt.Errorf("%w: tokens[%d] missing ticker", ErrInvalidRequest, i)
		}
	}
	if r.Options.MinROIMultiplier < 1 {
		r.Options.MinROIMultiplier = DefaultMinROIMultiplier
	}
	if r.Options.MinRunnerHits < 1 {
		r.Options.MinRunnerHits = DefaultMinRunnerHits
	}
	if r.Options.AnalysisDays < 1 || r.Options.AnalysisDays > 90 {
		r.Options.AnalysisDays = DefaultAnalysisDays
	}
	if r.Options.CandleSize == "" {
		r.Options.CandleSize = market.Res5m
	}
	return nil
}

// VolumeData is the per-rally volume summary in the export shape.
type VolumeData struct {
	AvgVolume        float64 `json:"avg_volume"`
	PeakVolume       float64 `json:"peak_volume"`
	VolumeSpikeRatio float64 `json:"volume_spike_ratio"`
}

// RallyExport is the wire shape for one rally.
type RallyExport struct {
	StartTime     int64      `json:"start_time"`
	EndTime       int64      `json:"end_time"`
	TotalGainPct  float64    `json:"total_gain_pct"`
	PeakGainPct   float64    `json:"peak_gain_pct"`
	RallyType     rally.Type `json:"rally_type"`
	CandleCount   int        `json:"candle_count"`
	GreenRatioPct float64    `json:"green_ratio_pct"`
	VolumeData    VolumeData `json:"volume_data"`
}

// ExportRally converts a detected rally to the wire shape.
func ExportRally(r rally.Rally) RallyExport {
	spike := 0.0
	if r.AvgVolume > 0 {
		spike = r.PeakVolume / r.AvgVolume
	}
	return RallyExport{
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		TotalGainPct:  r.TotalGainPct,
		PeakGainPct:   r.PeakGainPct,
		RallyType:     r.Type,
		CandleCount:   r.Len(),
		GreenRatioPct: r.GreenRatio * 100,
		VolumeData: VolumeData{
			AvgVolume:        r.AvgVolume,
			PeakVolume:       r.PeakVolume,
			VolumeSpikeRatio: spike,
		},
	}
}

// WalletExport is the wire shape for one ranked wallet. Market caps and
// percentages are display only; they never feed back into scoring.
type WalletExport struct {
	Address             string       `json:"address"`
	Tier                ranking.Tier `json:"tier"`
	ProfessionalScore   float64      `json:"professional_score"`
	EntryMarketCap      float64      `json:"entry_market_cap"`
	ATHMarketCap        float64      `json:"ath_market_cap"`
	TokensHit           []string     `json:"tokens_hit"`
	PumpsCalled         int          `json:"pumps_called"`
	AvgTimingMinutes    float64      `json:"avg_timing_minutes"`
	EarliestCallMinutes float64      `json:"earliest_call_minutes"`
	HighConfidenceCount int          `json:"high_confidence_count,omitempty"`
}

// ExportAggregated converts an aggregated wallet to the wire shape.
func ExportAggregated(a ranking.AggregatedWallet) WalletExport {
	return WalletExport{
		Address:             a.Wallet,
		Tier:                a.Tier,
		ProfessionalScore:   a.AvgScore,
		EntryMarketCap:      a.EntryMarketCap,
		ATHMarketCap:        a.ATHMarketCap,
		TokensHit:           a.TokensHit,
		PumpsCalled:         a.PumpsCalled,
		AvgTimingMinutes:    a.AvgTimingMinutes,
		EarliestCallMinutes: a.EarliestCallMinutes,
		HighConfidenceCount: a.HighConfidenceCount,
	}
}

// TokenResult is the per-token section of the result envelope.
type TokenResult struct {
	Token        TokenInput             `json:"token"`
	Success      bool                   `json:"success"`
	Error        string                 `json:"error,omitempty"`
	PumpInfo     string                 `json:"pump_info,omitempty"`
	Rallies      int                    `json:"rallies"`
	RallyDetails []RallyExport          `json:"rally_details"`
	TopWallets   []ranking.ScoredWallet `json:"top_wallets"`
}

// Summary is the request-level roll-up.
type Summary struct {
	TotalTokens        int `json:"total_tokens"`
	Successful         int `json:"successful"`
	Failed             int `json:"failed"`
	TotalPumps         int `json:"total_pumps"`
	CrossTokenAccounts int `json:"cross_token_accounts"`
}

// AnalysisResult is the top-level response envelope. The request never
// throws; failures land in per-token Error strings and the summary.
type AnalysisResult struct {
	Success           bool           `json:"success"`
	Summary           Summary        `json:"summary"`
	Results           []TokenResult  `json:"results"`
	FinalRanking      []WalletExport `json:"final_ranking"`
	CrossTokenOverlap []WalletExport `json:"cross_token_overlap"`
}
