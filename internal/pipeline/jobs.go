package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/market"
	"github.com/solrunner/walletrank/internal/taskgraph"
)

// Job function names. Leaves run on the high or batch queue; coordinators
// run on compute so a leaf can never starve behind its own parent.
const (
	FuncFetchTraders   = "fetch.top_traders"
	FuncFetchBuyers    = "fetch.first_buyers"
	FuncFetchRecent    = "fetch.recent_trades"
	FuncFetchOHLCV     = "fetch.ohlcv_rallies"
	FuncFetchHolders   = "fetch.top_holders"
	FuncQualifyPnL     = "qualify.pnl_batch"
	FuncEnrichHistory  = "enrich.wallet_history"
	FuncAnalyzeToken   = "token.analyze"
	FuncAnalyzeRequest = "request.analyze"
)

// Holder candidates below this position are never fetched.
const holderFetchLimit = 1000

// historyWindowDays is the enrichment lookback. Only ranked finalists get
// a history fetch; one request per discovered wallet would not survive the
// provider's rate limits.
const historyWindowDays = 30

// leafArgs is the argument shape of every discovery leaf.
type leafArgs struct {
	RequestID string            `json:"request_id"`
	BarrierID string            `json:"barrier_id"`
	Token     TokenInput        `json:"token"`
	Days      int               `json:"days"`
	Candle    market.Resolution `json:"candle"`
}

// pnlArgs is the argument shape of one PnL sub-batch.
type pnlArgs struct {
	RequestID string     `json:"request_id"`
	BarrierID string     `json:"barrier_id"`
	Token     TokenInput `json:"token"`
	Wallets   []string   `json:"wallets"`
	MinROI    float64    `json:"min_roi"`
	SubBatch  int        `json:"sub_batch"`
}

// enrichArgs is the argument shape of one finalist history fetch.
type enrichArgs struct {
	RequestID string `json:"request_id"`
	BarrierID string `json:"barrier_id"`
	Wallet    string `json:"wallet"`
	Days      int    `json:"days"`
}

// tokenArgs is the argument shape of a per-token coordinator.
type tokenArgs struct {
	RequestID string     `json:"request_id"`
	BarrierID string     `json:"barrier_id"`
	Token     TokenInput `json:"token"`
	Options   Options    `json:"options"`
}

// requestArgs is the argument shape of a request coordinator.
type requestArgs struct {
	Request AnalysisRequest `json:"request"`
}

// HandlerRegistry is the slice of the worker the pipeline registers on.
type HandlerRegistry interface {
	Register(fn string, h taskgraph.HandlerFunc)
}

// RegisterHandlers wires every pipeline job function onto the worker.
func (a *Analyzer) RegisterHandlers(w HandlerRegistry) {
	w.Register(FuncFetchTraders, a.leafHandler(func(ctx context.Context, args leafArgs) (interface{}, error) {
		return a.api.GetTopTraders(ctx, args.Token.Address, args.Days)
	}))
	w.Register(FuncFetchBuyers, a.leafHandler(func(ctx context.Context, args leafArgs) (interface{}, error) {
		return a.api.GetFirstBuyers(ctx, args.Token.Address)
	}))
	w.Register(FuncFetchRecent, a.leafHandler(func(ctx context.Context, args leafArgs) (interface{}, error) {
		since := windowStartMs(args.Days)
		return a.api.GetRecentTrades(ctx, args.Token.Address, since)
	}))
	w.Register(FuncFetchHolders, a.leafHandler(func(ctx context.Context, args leafArgs) (interface{}, error) {
		return a.api.GetTopHolders(ctx, args.Token.Address, 0, holderFetchLimit)
	}))
	w.Register(FuncFetchOHLCV, a.leafHandler(a.runOHLCV))
	w.Register(FuncQualifyPnL, a.handlePnLBatch)
	w.Register(FuncEnrichHistory, a.handleEnrichHistory)
	w.Register(FuncAnalyzeToken, a.handleAnalyzeToken)
	w.Register(FuncAnalyzeRequest, a.handleAnalyzeRequest)
}

// leafHandler decodes leaf arguments, saves the result under the job ID,
// and increments the fan-out barrier whether the fetch succeeded or not.
// Saving before the increment is what lets the coordinator trust the
// barrier count.
func (a *Analyzer) leafHandler(fn func(ctx context.Context, args leafArgs) (interface{}, error)) taskgraph.HandlerFunc {
	return func(ctx context.Context, job *taskgraph.Job) (interface{}, error) {
		var args leafArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		result, err := fn(ctx, args)
		if err == nil && result != nil {
			if saveErr := a.cache.SaveJobResult(ctx, job.ID, result); saveErr != nil {
				err = saveErr
			}
		}
		// Success or the final attempt releases the coordinator. Retries
		// counts attempts remaining, so zero means no retry will follow.
		if err == nil || job.Retries == 0 {
			if _, bErr := a.cache.BarrierDone(ctx, args.BarrierID); bErr != nil {
				log.Error().Err(bErr).Str("barrier", args.BarrierID).Msg("barrier increment failed")
			}
		}
		return result, err
	}
}

// runOHLCV is the fused leaf: candles, rallies, metadata, and the single
// ATH for the invocation resolved in one job.
func (a *Analyzer) runOHLCV(ctx context.Context, args leafArgs) (interface{}, error) {
	candles, err := a.api.GetOHLCV(ctx, args.Token.Address, args.Days, args.Candle)
	if err != nil {
		return nil, err
	}
	out := ohlcvResult{Candles: candles, Rallies: a.detector.Detect(candles)}

	if out.Token, err = a.api.GetTokenMetadata(ctx, args.Token.Address); err != nil {
		log.Warn().Err(err).Str("token", args.Token.Ticker).Msg("metadata fetch failed")
	}
	if out.ATH, err = a.api.GetTokenATH(ctx, args.Token.Address, candles); err != nil {
		log.Warn().Err(err).Str("token", args.Token.Ticker).Msg("ath resolution failed")
	}
	return out, nil
}

func (a *Analyzer) handlePnLBatch(ctx context.Context, job *taskgraph.Job) (interface{}, error) {
	var args pnlArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	res := QualifyPnL(ctx, a.api, args.Token.Address, args.Wallets, args.MinROI)
	if err := a.cache.SaveJobResult(ctx, job.ID, res); err != nil {
		return nil, err
	}
	if _, err := a.cache.BarrierDone(ctx, args.BarrierID); err != nil {
		log.Error().Err(err).Str("barrier", args.BarrierID).Msg("barrier increment failed")
	}
	return res, nil
}

// handleEnrichHistory fetches one finalist's trading history. A wallet the
// provider has no record for saves nothing and still releases the barrier.
func (a *Analyzer) handleEnrichHistory(ctx context.Context, job *taskgraph.Job) (interface{}, error) {
	var args enrichArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	hist, err := a.api.GetWalletHistory(ctx, args.Wallet, args.Days)
	if err == nil && hist != nil {
		if saveErr := a.cache.SaveJobResult(ctx, job.ID, hist); saveErr != nil {
			err = saveErr
		}
	}
	if err == nil || job.Retries == 0 {
		if _, bErr := a.cache.BarrierDone(ctx, args.BarrierID); bErr != nil {
			log.Error().Err(bErr).Str("barrier", args.BarrierID).Msg("barrier increment failed")
		}
	}
	return hist, err
}

func (a *Analyzer) handleAnalyzeToken(ctx context.Context, job *taskgraph.Job) (interface{}, error) {
	var args tokenArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	res := a.AnalyzeToken(ctx, args.RequestID, job.ID, args.Token, args.Options)
	if err := a.cache.SaveJobResult(ctx, job.ID, res); err != nil {
		return nil, err
	}
	if args.BarrierID != "" {
		if _, err := a.cache.BarrierDone(ctx, args.BarrierID); err != nil {
			log.Error().Err(err).Str("barrier", args.BarrierID).Msg("barrier increment failed")
		}
	}
	return res, nil
}

func (a *Analyzer) handleAnalyzeRequest(ctx context.Context, job *taskgraph.Job) (interface{}, error) {
	var args requestArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return a.AnalyzeRequest(ctx, &args.Request), nil
}
