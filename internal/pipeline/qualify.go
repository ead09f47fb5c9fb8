package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/market"
)

// PnLSource is the narrow provider surface the qualifier needs.
type PnLSource interface {
	GetWalletPnL(ctx context.Context, wallet, token string) (*market.WalletPnL, error)
}

// QualifyPnL checks each wallet's profit record against the ROI floor.
// A wallet passes when either its realized or its total multiplier clears
// minROI. Wallets with no resolvable record are dropped, not failed: a
// missing PnL is a data gap, not a verdict.
func QualifyPnL(ctx context.Context, src PnLSource, token string, wallets []string, minROI float64) pnlResult {
	if minROI < 1 {
		minROI = DefaultMinROIMultiplier
	}
	res := pnlResult{Accepted: make(map[string]market.WalletPnL)}
	for _, wallet := range wallets {
		if ctx.Err() != nil {
			break
		}
		pnl, err := src.GetWalletPnL(ctx, wallet, token)
		res.Checked++
		if err != nil {
			log.Debug().Err(err).Str("wallet", wallet).Msg("pnl lookup failed")
			continue
		}
		if pnl == nil {
			continue
		}
		if pnl.RealizedMultiplier >= minROI || pnl.TotalMultiplier >= minROI {
			res.Accepted[wallet] = *pnl
		}
	}
	return res
}

// windowStartMs converts an analysis window in days to the epoch-millis
// lower bound the trade feed expects.
func windowStartMs(days int) int64 {
	if days < 1 {
		days = DefaultAnalysisDays
	}
	return time.Now().Add(-time.Duration(days)*24*time.Hour).UnixMilli()
}
