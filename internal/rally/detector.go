// Package rally finds upward price moves in OHLCV candle series. A rally is
// a contiguous candle window that starts on a strong green candle, keeps
// climbing without consolidating or drawing down past the thresholds, and
// gains enough in total to matter.
package rally

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/market"
)

// Type classifies the shape of a rally window.
type Type string

const (
	TypeExplosive   Type = "explosive"
	TypeChoppy      Type = "choppy"
	TypeGrind       Type = "grind"
	TypeUltraChoppy Type = "ultraChoppy"
	TypeStandard    Type = "standard"
)

// Config holds the detection thresholds. Zero value is unusable; start from
// DefaultConfig.
type Config struct {
	// MinStartGainPct is the per-candle gain required of a start candle.
	MinStartGainPct float64
	// MinTotalGainPct is the whole-window gain required to accept a rally.
	MinTotalGainPct float64
	// MaxTotalGainPct rejects windows beyond this as data errors.
	MaxTotalGainPct float64
	// MinGreenRatio is the minimum share of green candles in the window.
	MinGreenRatio float64
	// MaxLength caps the window in candles.
	MaxLength int
	// ConsolidationPct is the absolute per-candle move below which a candle
	// counts as flat.
	ConsolidationPct float64
	// DrawdownEndPct ends the rally when close drops this far from the peak
	// (negative percent).
	DrawdownEndPct float64
	// VolumeExhaustion ends the rally when current volume falls below this
	// fraction of the window's average volume.
	VolumeExhaustion float64
	// VolumeLookback is how many candles feed the start-volume baseline.
	VolumeLookback int
	// OverlapLimit is the tolerated overlap between two rallies as a
	// fraction of the shorter one.
	OverlapLimit float64
	// ReplaceQualityFactor lets a later overlapping rally replace an
	// accepted one when its quality exceeds the accepted's by this factor.
	ReplaceQualityFactor float64
}

// DefaultConfig returns the tuned production thresholds.
func DefaultConfig() Config {
	return Config{
		MinStartGainPct:      1.5,
		MinTotalGainPct:      20,
		MaxTotalGainPct:      10000,
		MinGreenRatio:        0.40,
		MaxLength:            100,
		ConsolidationPct:     2.0,
		DrawdownEndPct:       -15,
		VolumeExhaustion:     0.3,
		VolumeLookback:       15,
		OverlapLimit:         0.30,
		ReplaceQualityFactor: 1.3,
	}
}

// Rally is one detected window over the input series.
type Rally struct {
	StartIdx       int     `json:"start_idx"`
	EndIdx         int     `json:"end_idx"`
	StartTime      int64   `json:"start_time"`
	EndTime        int64   `json:"end_time"`
	TotalGainPct   float64 `json:"total_gain_pct"`
	PeakGainPct    float64 `json:"peak_gain_pct"`
	GreenRatio     float64 `json:"green_ratio"`
	GreenCount     int     `json:"green_count"`
	RedCount       int     `json:"red_count"`
	Type           Type    `json:"rally_type"`
	CombinedVolume float64 `json:"combined_volume"`
	AvgVolume      float64 `json:"avg_volume"`
	PeakVolume     float64 `json:"peak_volume"`
	StartPrice     float64 `json:"start_price"`
	EndPrice       float64 `json:"end_price"`
	PeakPrice      float64 `json:"peak_price"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// Len is the window length in candles.
func (r Rally) Len() int { return r.EndIdx - r.StartIdx + 1 }

// Quality scores the window for dedupe arbitration.
func (r Rally) Quality() float64 {
	return r.PeakGainPct * r.GreenRatio * math.Sqrt(float64(r.Len()))
}

// Detector runs rally detection with a fixed Config.
type Detector struct {
	cfg Config
}

// NewDetector builds a detector; zero thresholds fall back to defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinStartGainPct == 0 {
		cfg.MinStartGainPct = def.MinStartGainPct
	}
	if cfg.MinTotalGainPct == 0 {
		cfg.MinTotalGainPct = def.MinTotalGainPct
	}
	if cfg.MaxTotalGainPct == 0 {
		cfg.MaxTotalGainPct = def.MaxTotalGainPct
	}
	if cfg.MinGreenRatio == 0 {
		cfg.MinGreenRatio = def.MinGreenRatio
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.ConsolidationPct == 0 {
		cfg.ConsolidationPct = def.ConsolidationPct
	}
	if cfg.DrawdownEndPct == 0 {
		cfg.DrawdownEndPct = def.DrawdownEndPct
	}
	if cfg.VolumeExhaustion == 0 {
		cfg.VolumeExhaustion = def.VolumeExhaustion
	}
	if cfg.VolumeLookback == 0 {
		cfg.VolumeLookback = def.VolumeLookback
	}
	if cfg.OverlapLimit == 0 {
		cfg.OverlapLimit = def.OverlapLimit
	}
	if cfg.ReplaceQualityFactor == 0 {
		cfg.ReplaceQualityFactor = def.ReplaceQualityFactor
	}
	return &Detector{cfg: cfg}
}

// Detect returns the time-ordered, deduplicated rallies in the series.
// Fewer than 5 candles yields no rallies.
func (d *Detector) Detect(candles []market.Candle) []Rally {
	if len(candles) < 5 {
		return nil
	}

	var candidates []Rally
	for i := 0; i < len(candles)-1; i++ {
		if !d.validStart(candles, i) {
			continue
		}
		if r, ok := d.grow(candles, i); ok {
			candidates = append(candidates, r)
		}
	}

	rallies := d.dedupe(candidates)
	log.Debug().Int("candles", len(candles)).Int("candidates", len(candidates)).
		Int("rallies", len(rallies)).Msg("rally detection complete")
	return rallies
}

// validStart checks the start rules: green, a real per-candle gain, and
// volume clearing a lenient baseline-relative floor. Higher baselines get a
// stricter multiple since big pools need real conviction to move.
func (d *Detector) validStart(candles []market.Candle, i int) bool {
	c := candles[i]
	if !c.IsGreen() || c.GainPct() < d.cfg.MinStartGainPct {
		return false
	}

	baseline := volumeBaseline(candles, i, d.cfg.VolumeLookback)
	var mult float64
	switch {
	case baseline < 100:
		mult = 0.5
	case baseline < 1000:
		mult = 0.7
	default:
		mult = 0.9
	}
	return c.VolumeUSD > baseline*mult
}

// grow extends the window from start until an end condition fires, then
// validates it.
func (d *Detector) grow(candles []market.Candle, start int) (Rally, bool) {
	startPrice := candles[start].Open
	if startPrice <= 0 {
		return Rally{}, false
	}

	peak := candles[start].Close
	volSum := candles[start].VolumeUSD
	end := start

	for j := start + 1; j < len(candles); j++ {
		length := j - start + 1
		if length > d.cfg.MaxLength {
			break
		}
		c := candles[j]

		// (a) three flat candles in a row.
		if length >= 4 && allFlat(candles[j-2:j+1], d.cfg.ConsolidationPct) {
			end = j - 3
			break
		}
		// (b) drawdown from peak.
		if peak > 0 && (c.Close-peak)/peak*100 <= d.cfg.DrawdownEndPct {
			end = j - 1
			break
		}
		// (c) volume exhaustion once the window has some body.
		avgVol := volSum / float64(length-1)
		if length >= 5 && c.VolumeUSD < d.cfg.VolumeExhaustion*avgVol {
			end = j - 1
			break
		}
		// (d) 3 of the last 5 red.
		if length >= 5 && redCount(candles[j-4:j+1]) >= 3 {
			end = j
			break
		}

		volSum += c.VolumeUSD
		if c.Close > peak {
			peak = c.Close
		}
		end = j
	}

	if end < start+1 {
		return Rally{}, false
	}
	return d.validate(candles, start, end)
}

func (d *Detector) validate(candles []market.Candle, start, end int) (Rally, bool) {
	window := candles[start : end+1]
	startPrice := window[0].Open
	endPrice := window[len(window)-1].Close

	totalGain := (endPrice - startPrice) / startPrice * 100
	if totalGain < d.cfg.MinTotalGainPct {
		return Rally{}, false
	}
	if totalGain > d.cfg.MaxTotalGainPct {
		log.Warn().Float64("total_gain_pct", totalGain).Int("start", start).
			Msg("rejecting rally candidate as data error")
		return Rally{}, false
	}

	green, red := 0, 0
	peakPrice, peakVol, volSum := 0.0, 0.0, 0.0
	maxDD := 0.0
	runPeak := window[0].Close
	for _, c := range window {
		if c.IsGreen() {
			green++
		} else {
			red++
		}
		if c.Close > peakPrice {
			peakPrice = c.Close
		}
		if c.VolumeUSD > peakVol {
			peakVol = c.VolumeUSD
		}
		volSum += c.VolumeUSD
		if c.Close > runPeak {
			runPeak = c.Close
		} else if runPeak > 0 {
			if dd := (c.Close - runPeak) / runPeak * 100; dd < maxDD {
				maxDD = dd
			}
		}
	}

	greenRatio := float64(green) / float64(len(window))
	if greenRatio < d.cfg.MinGreenRatio {
		return Rally{}, false
	}

	r := Rally{
		StartIdx:       start,
		EndIdx:         end,
		StartTime:      window[0].Time,
		EndTime:        window[len(window)-1].Time,
		TotalGainPct:   totalGain,
		PeakGainPct:    (peakPrice - startPrice) / startPrice * 100,
		GreenRatio:     greenRatio,
		GreenCount:     green,
		RedCount:       red,
		CombinedVolume: volSum,
		AvgVolume:      volSum / float64(len(window)),
		PeakVolume:     peakVol,
		StartPrice:     startPrice,
		EndPrice:       endPrice,
		PeakPrice:      peakPrice,
		MaxDrawdownPct: maxDD,
	}
	r.Type = classify(r)
	return r, true
}

func allFlat(window []market.Candle, threshold float64) bool {
	for _, c := range window {
		if math.Abs(c.GainPct()) >= threshold {
			return false
		}
	}
	return true
}

func redCount(window []market.Candle) int {
	n := 0
	for _, c := range window {
		if !c.IsGreen() {
			n++
		}
	}
	return n
}
