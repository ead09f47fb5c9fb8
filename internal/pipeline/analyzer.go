package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/market"
	"github.com/solrunner/walletrank/internal/metrics"
	"github.com/solrunner/walletrank/internal/rally"
	"github.com/solrunner/walletrank/internal/ranking"
	"github.com/solrunner/walletrank/internal/resultcache"
	"github.com/solrunner/walletrank/internal/taskgraph"
)

// MarketAPI is the slice of the market client the pipeline consumes.
type MarketAPI interface {
	GetTokenMetadata(ctx context.Context, address string) (*market.Token, error)
	GetOHLCV(ctx context.Context, address string, daysBack int, res market.Resolution) ([]market.Candle, error)
	GetTopTraders(ctx context.Context, address string, windowDays int) ([]*market.Candidate, error)
	GetTopHolders(ctx context.Context, address string, minHoldingUSD float64, limit int) ([]*market.Candidate, error)
	GetFirstBuyers(ctx context.Context, address string) ([]*market.Candidate, error)
	GetRecentTrades(ctx context.Context, address string, sinceMs int64) ([]*market.Candidate, error)
	GetWalletPnL(ctx context.Context, wallet, token string) (*market.WalletPnL, error)
	GetWalletHistory(ctx context.Context, wallet string, days int) (*market.WalletHistory, error)
	GetEntryPrice(ctx context.Context, wallet, token string) (*market.EntryPoint, error)
	GetTokenATH(ctx context.Context, address string, fallback []market.Candle) (*market.ATH, error)
}

// Cache is the slice of the result cache the pipeline consumes.
type Cache interface {
	SaveJobResult(ctx context.Context, jobID string, result interface{}) error
	GetJobResult(ctx context.Context, jobID string, out interface{}) error
	SaveQualifiedSnapshot(ctx context.Context, tokenAddr string, snap interface{}) error
	GetQualifiedSnapshot(ctx context.Context, tokenAddr string, out interface{}) error
	InitBarrier(ctx context.Context, parentID string, total int) error
	BarrierDone(ctx context.Context, parentID string) (int64, error)
	AwaitBarrier(ctx context.Context, requestID, parentID string, fallbackTotal int64, interval, timeout time.Duration) (int64, bool)
	IsAbandoned(ctx context.Context, requestID string) bool
}

// Enqueuer is the slice of the task broker the pipeline consumes.
type Enqueuer interface {
	Push(ctx context.Context, job *taskgraph.Job) error
	PushDelayed(ctx context.Context, job *taskgraph.Job, delay time.Duration) error
}

// Stagger spacing between PnL sub-batches.
const subBatchStagger = 8 * time.Second

// QualifiedSnapshot is the per-token cache entry: the qualified set plus
// the rally details needed to reproduce the token result without refetching.
type QualifiedSnapshot struct {
	TokenAddress string                    `json:"token_address"`
	Wallets      []ranking.QualifiedWallet `json:"wallets"`
	WalletCount  int                       `json:"wallet_count"`
	RallyDetails []RallyExport             `json:"rally_details"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// Analyzer coordinates the per-token sub-pipeline and request aggregation.
type Analyzer struct {
	api      MarketAPI
	cache    Cache
	queue    Enqueuer
	detector *rally.Detector

	pollInterval  time.Duration
	fanoutTimeout time.Duration
	pnlTimeout    time.Duration
}

// NewAnalyzer wires the pipeline dependencies.
func NewAnalyzer(api MarketAPI, cache Cache, queue Enqueuer, detector *rally.Detector) *Analyzer {
	return &Analyzer{
		api:           api,
		cache:         cache,
		queue:         queue,
		detector:      detector,
		pollInterval:  2 * time.Second,
		fanoutTimeout: 10 * time.Minute,
		pnlTimeout:    15 * time.Minute,
	}
}

// SetTimeouts overrides polling and fan-in bounds (tests).
func (a *Analyzer) SetTimeouts(poll, fanout, pnl time.Duration) {
	a.pollInterval = poll
	a.fanoutTimeout = fanout
	a.pnlTimeout = pnl
}

// ohlcvResult is the payload of the OHLCV leaf job: candles, the rallies
// detected in the same job, token metadata, and the single ATH used for
// both scoring and display in this invocation.
type ohlcvResult struct {
	Token   *market.Token  `json:"token"`
	Candles []market.Candle `json:"candles"`
	Rallies []rally.Rally   `json:"rallies"`
	ATH     *market.ATH     `json:"ath"`
}

// pnlResult is the payload of one PnL sub-batch job.
type pnlResult struct {
	Accepted map[string]market.WalletPnL `json:"accepted"`
	Checked  int                         `json:"checked"`
}

// AnalyzeToken runs the per-token sub-pipeline. parentID doubles as the
// fan-out barrier key. Never returns an error: failures land in the
// TokenResult envelope.
func (a *Analyzer) AnalyzeToken(ctx context.Context, requestID, parentID string, tok TokenInput, opts Options) TokenResult {
	res := TokenResult{Token: tok, RallyDetails: []RallyExport{}, TopWallets: []ranking.ScoredWallet{}}

	// Step 1: cache short-circuit. A warm snapshot means another token in
	// this batch (or a recent request) already did the work.
	var snap QualifiedSnapshot
	if err := a.cache.GetQualifiedSnapshot(ctx, tok.Address, &snap); err == nil && snap.WalletCount > 0 {
		log.Info().Str("token", tok.Ticker).Int("wallets", snap.WalletCount).
			Msg("qualified snapshot warm, skipping discovery")
		return a.resultFromSnapshot(tok, snap)
	}

	// Step 2: market data fan-out.
	fan, err := a.fanOut(ctx, requestID, parentID, tok, opts)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	done, complete := a.cache.AwaitBarrier(ctx, requestID, parentID, int64(fan.total), a.pollInterval, a.fanoutTimeout)
	if !complete {
		log.Warn().Str("token", tok.Ticker).Int64("done", done).Int("total", fan.total).
			Msg("fan-out barrier incomplete, proceeding with partial results")
	}

	traders := a.loadCandidates(ctx, fan.tradersID)
	buyers := a.loadCandidates(ctx, fan.buyersID)
	recent := a.loadCandidates(ctx, fan.recentID)
	holders := a.loadCandidates(ctx, fan.holdersID)

	var ohlcv ohlcvResult
	ohlcvErr := a.cache.GetJobResult(ctx, fan.ohlcvID, &ohlcv)

	// Quorum: at least one of traders/buyers must have produced data.
	if traders == nil && buyers == nil {
		res.Error = "candidate discovery quorum not met: traders and first buyers both unavailable"
		return res
	}

	if ohlcvErr != nil || len(ohlcv.Rallies) == 0 {
		res.Success = true
		res.PumpInfo = "no pumps detected in the analysis window"
		return res
	}

	res.Rallies = len(ohlcv.Rallies)
	for _, r := range ohlcv.Rallies {
		res.RallyDetails = append(res.RallyDetails, ExportRally(r))
	}

	// Steps 4-6: merge, pre-qualify, PnL-qualify the rest.
	merged := MergeCandidates(traders, buyers, recent, holders)
	accepted, needsPnL := SplitPreQualified(merged)
	pnlByWallet := a.qualifyByPnL(ctx, requestID, parentID, tok, opts, needsPnL)
	for wallet := range pnlByWallet {
		accepted = append(accepted, merged[wallet])
	}

	// Step 7: entry attachment and scoring inputs.
	qualified := a.attachEntries(ctx, tok, accepted, pnlByWallet, ohlcv)
	if len(qualified) == 0 {
		res.Success = true
		res.PumpInfo = "rallies detected but no qualifying wallets"
		return res
	}

	scored := ranking.RankToken(qualified)
	if len(scored) > ranking.OutputLimit {
		scored = scored[:ranking.OutputLimit]
	}

	// Step 8: 30-day history, finalists only. The fetched histories land
	// in the snapshot too, so the short-circuit path serves them without
	// repeating the calls.
	histories := a.enrichFinalists(ctx, requestID, parentID, scored)
	for i := range scored {
		scored[i].History = histories[scored[i].Wallet]
	}
	for i := range qualified {
		if h, ok := histories[qualified[i].Wallet]; ok {
			qualified[i].History = h
		}
	}

	snap = QualifiedSnapshot{
		TokenAddress: tok.Address,
		Wallets:      qualified,
		WalletCount:  len(qualified),
		RallyDetails: res.RallyDetails,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.cache.SaveQualifiedSnapshot(ctx, tok.Address, snap); err != nil {
		log.Warn().Err(err).Str("token", tok.Ticker).Msg("qualified snapshot save failed")
	}
	metrics.CountTokenAnalyzed(res.Rallies, len(qualified))

	res.TopWallets = scored
	res.Success = true
	return res
}

func (a *Analyzer) resultFromSnapshot(tok TokenInput, snap QualifiedSnapshot) TokenResult {
	scored := ranking.RankToken(snap.Wallets)
	if len(scored) > ranking.OutputLimit {
		scored = scored[:ranking.OutputLimit]
	}
	details := snap.RallyDetails
	if details == nil {
		details = []RallyExport{}
	}
	return TokenResult{
		Token:        tok,
		Success:      true,
		Rallies:      len(details),
		RallyDetails: details,
		TopWallets:   scored,
	}
}

// fanout holds the leaf job IDs of one token's discovery stage.
type fanout struct {
	tradersID, buyersID, recentID, holdersID, ohlcvID string
	total                                             int
}

func (a *Analyzer) fanOut(ctx context.Context, requestID, parentID string, tok TokenInput, opts Options) (*fanout, error) {
	leaves := []struct {
		fn    string
		queue taskgraph.QueueName
	}{
		{FuncFetchTraders, taskgraph.QueueHigh},
		{FuncFetchBuyers, taskgraph.QueueHigh},
		{FuncFetchRecent, taskgraph.QueueHigh},
		{FuncFetchOHLCV, taskgraph.QueueHigh},
		{FuncFetchHolders, taskgraph.QueueBatch},
	}
	if err := a.cache.InitBarrier(ctx, parentID, len(leaves)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	f := &fanout{total: len(leaves)}
	for _, leaf := range leaves {
		job, err := taskgraph.NewJob(leaf.queue, leaf.fn, leafArgs{
			RequestID: requestID,
			BarrierID: parentID,
			Token:     tok,
			Days:      opts.AnalysisDays,
			Candle:    opts.CandleSize,
		})
		if err != nil {
			return nil, err
		}
		switch leaf.fn {
		case FuncFetchTraders:
			f.tradersID = job.ID
		case FuncFetchBuyers:
			f.buyersID = job.ID
		case FuncFetchRecent:
			f.recentID = job.ID
		case FuncFetchOHLCV:
			f.ohlcvID = job.ID
		case FuncFetchHolders:
			f.holdersID = job.ID
		}
		if err := a.queue.Push(ctx, job); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFatal, err)
		}
	}
	return f, nil
}

func (a *Analyzer) loadCandidates(ctx context.Context, jobID string) []*market.Candidate {
	var out []*market.Candidate
	if err := a.cache.GetJobResult(ctx, jobID, &out); err != nil {
		if !errors.Is(err, resultcache.ErrNotFound) {
			log.Debug().Err(err).Str("job", jobID).Msg("leaf result unreadable")
		}
		return nil
	}
	return out
}

// qualifyByPnL fans the remaining candidates out in fixed sub-batches of
// three, staggered 8s apart, and folds the accepted wallets back in.
func (a *Analyzer) qualifyByPnL(ctx context.Context, requestID, parentID string, tok TokenInput, opts Options, candidates []*market.Candidate) map[string]market.WalletPnL {
	acceptedPnL := make(map[string]market.WalletPnL)
	if len(candidates) == 0 {
		return acceptedPnL
	}

	wallets := make([]string, 0, len(candidates))
	for _, c := range candidates {
		wallets = append(wallets, c.Wallet)
	}
	sort.Strings(wallets)
	chunks := ChunkWallets(wallets)

	barrierID := parentID + ":pnl"
	if err := a.cache.InitBarrier(ctx, barrierID, len(chunks)); err != nil {
		log.Error().Err(err).Str("token", tok.Ticker).Msg("pnl barrier init failed")
		return acceptedPnL
	}

	jobIDs := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		job, err := taskgraph.NewJob(taskgraph.QueueBatch, FuncQualifyPnL, pnlArgs{
			RequestID: requestID,
			BarrierID: barrierID,
			Token:     tok,
			Wallets:   chunk,
			MinROI:    opts.MinROIMultiplier,
			SubBatch:  i,
		})
		if err != nil {
			continue
		}
		jobIDs = append(jobIDs, job.ID)
		if err := a.queue.PushDelayed(ctx, job, time.Duration(i)*subBatchStagger); err != nil {
			log.Error().Err(err).Str("token", tok.Ticker).Int("sub_batch", i).
				Msg("pnl sub-batch enqueue failed")
		}
	}

	timeout := a.pnlTimeout + time.Duration(len(chunks))*subBatchStagger
	done, complete := a.cache.AwaitBarrier(ctx, requestID, barrierID, int64(len(jobIDs)), a.pollInterval, timeout)
	if !complete {
		log.Warn().Str("token", tok.Ticker).Int64("done", done).Int("total", len(jobIDs)).
			Msg("pnl barrier incomplete, folding partial results")
	}

	for _, id := range jobIDs {
		var out pnlResult
		if err := a.cache.GetJobResult(ctx, id, &out); err != nil {
			continue
		}
		for wallet, pnl := range out.Accepted {
			acceptedPnL[wallet] = pnl
		}
	}
	log.Info().Str("token", tok.Ticker).Int("candidates", len(candidates)).
		Int("accepted", len(acceptedPnL)).Msg("pnl qualification complete")
	return acceptedPnL
}

// enrichFinalists fetches the 30-day trading history for the ranked
// finalists, one batch-queue leaf per wallet behind its own barrier.
// Failures degrade to a nil history, never to a failed token.
func (a *Analyzer) enrichFinalists(ctx context.Context, requestID, parentID string, finalists []ranking.ScoredWallet) map[string]*market.WalletHistory {
	histories := make(map[string]*market.WalletHistory)
	if len(finalists) == 0 {
		return histories
	}

	barrierID := parentID + ":enrich"
	if err := a.cache.InitBarrier(ctx, barrierID, len(finalists)); err != nil {
		log.Error().Err(err).Str("barrier", barrierID).Msg("enrichment barrier init failed")
		return histories
	}

	jobIDs := make(map[string]string, len(finalists))
	for _, w := range finalists {
		job, err := taskgraph.NewJob(taskgraph.QueueBatch, FuncEnrichHistory, enrichArgs{
			RequestID: requestID,
			BarrierID: barrierID,
			Wallet:    w.Wallet,
			Days:      historyWindowDays,
		})
		if err != nil {
			continue
		}
		if err := a.queue.Push(ctx, job); err != nil {
			log.Error().Err(err).Str("wallet", w.Wallet).Msg("enrichment enqueue failed")
			continue
		}
		jobIDs[w.Wallet] = job.ID
	}
	if len(jobIDs) == 0 {
		return histories
	}

	done, complete := a.cache.AwaitBarrier(ctx, requestID, barrierID, int64(len(jobIDs)), a.pollInterval, a.fanoutTimeout)
	if !complete {
		log.Warn().Int64("done", done).Int("total", len(jobIDs)).
			Msg("enrichment barrier incomplete, serving partial histories")
	}

	for wallet, id := range jobIDs {
		var hist market.WalletHistory
		if err := a.cache.GetJobResult(ctx, id, &hist); err != nil {
			continue
		}
		histories[wallet] = &hist
	}
	return histories
}

// attachEntries resolves each accepted candidate's entry, rejects entries
// after the first rally start, and assembles the scoring inputs. The ATH
// resolved in the OHLCV job is the single source of truth for both scoring
// and display market caps.
func (a *Analyzer) attachEntries(ctx context.Context, tok TokenInput, accepted []*market.Candidate, pnlByWallet map[string]market.WalletPnL, ohlcv ohlcvResult) []ranking.QualifiedWallet {
	if ohlcv.ATH == nil || ohlcv.ATH.PriceUSD <= 0 || len(ohlcv.Rallies) == 0 {
		return nil
	}
	athPrice := ohlcv.ATH.PriceUSD
	firstRallyStart := time.Unix(ohlcv.Rallies[0].StartTime, 0).UTC()

	var supply float64
	if ohlcv.Token != nil {
		supply = ohlcv.Token.TotalSupply
	}
	athMarketCap := ohlcv.ATH.MarketCap
	if athMarketCap == 0 && supply > 0 {
		athMarketCap = athPrice * supply
	}

	qualified := make([]ranking.QualifiedWallet, 0, len(accepted))
	rejectedLate := 0
	for _, cand := range accepted {
		if cand == nil {
			continue
		}
		entryPrice, entryTime := cand.EntryPrice(), cand.FirstBuyTime
		if entryPrice <= 0 || entryTime.IsZero() {
			ep, err := a.api.GetEntryPrice(ctx, cand.Wallet, tok.Address)
			if err != nil || ep == nil {
				continue
			}
			entryPrice, entryTime = ep.PriceUSD, ep.Timestamp
		}
		if entryPrice <= 0 {
			continue
		}
		// Entries at or after the first rally start are not early entries.
		if !entryTime.Before(firstRallyStart) {
			rejectedLate++
			continue
		}

		pnl := pnlByWallet[cand.Wallet]
		q := ranking.QualifiedWallet{
			Wallet:               cand.Wallet,
			TokenAddress:         tok.Address,
			Ticker:               tok.Ticker,
			Sources:              sourceNames(cand),
			EntryPrice:           entryPrice,
			EntryTimestamp:       entryTime,
			RealizedMultiplier:   pnl.RealizedMultiplier,
			TotalMultiplier:      pnl.TotalMultiplier,
			EntryToAthMultiplier: athPrice / entryPrice,
			DistanceToAthPct:     (1 - entryPrice/athPrice) * 100,
			HoldingUSD:           cand.HoldingUSD,
			NumBuys:              cand.NumBuys,
			EntryPriceCV:         cand.EntryPriceCV(),
			TotalVolumeUSD:       cand.TotalVolumeUSD,
			EntryMarketCap:       entryPrice * supply,
			ATHMarketCap:         athMarketCap,
			LeadTimeMinutes:      firstRallyStart.Sub(entryTime).Minutes(),
		}
		qualified = append(qualified, q)
	}
	if rejectedLate > 0 {
		log.Debug().Str("token", tok.Ticker).Int("rejected_late", rejectedLate).
			Msg("dropped wallets entering after the rally start")
	}
	return qualified
}

func sourceNames(c *market.Candidate) []string {
	names := make([]string, 0, len(c.Sources))
	for src := range c.Sources {
		names = append(names, string(src))
	}
	sort.Strings(names)
	return names
}

// AnalyzeRequest runs the full request: per-token coordinator jobs on the
// compute queue, a request-level barrier, then the cross-token fold.
func (a *Analyzer) AnalyzeRequest(ctx context.Context, req *AnalysisRequest) *AnalysisResult {
	out := &AnalysisResult{
		Results:           []TokenResult{},
		FinalRanking:      []WalletExport{},
		CrossTokenOverlap: []WalletExport{},
	}
	if err := req.Validate(); err != nil {
		out.Summary.TotalTokens = len(req.Tokens)
		out.Summary.Failed = len(req.Tokens)
		for _, tok := range req.Tokens {
			out.Results = append(out.Results, TokenResult{Token: tok, Error: err.Error()})
		}
		return out
	}

	requestID := uuid.NewString()
	barrierID := "request:" + requestID
	if err := a.cache.InitBarrier(ctx, barrierID, len(req.Tokens)); err != nil {
		for _, tok := range req.Tokens {
			out.Results = append(out.Results, TokenResult{
				Token: tok,
				Error: fmt.Errorf("%w: %v", ErrFatal, err).Error(),
			})
		}
		out.Summary = Summary{TotalTokens: len(req.Tokens), Failed: len(req.Tokens)}
		return out
	}

	jobIDs := make([]string, 0, len(req.Tokens))
	for _, tok := range req.Tokens {
		job, err := taskgraph.NewJob(taskgraph.QueueCompute, FuncAnalyzeToken, tokenArgs{
			RequestID: requestID,
			BarrierID: barrierID,
			Token:     tok,
			Options:   req.Options,
		})
		if err != nil {
			continue
		}
		jobIDs = append(jobIDs, job.ID)
		if err := a.queue.Push(ctx, job); err != nil {
			log.Error().Err(err).Str("token", tok.Ticker).Msg("token coordinator enqueue failed")
		}
	}

	perTokenTimeout := a.fanoutTimeout + a.pnlTimeout
	a.cache.AwaitBarrier(ctx, requestID, barrierID, int64(len(jobIDs)), a.pollInterval, perTokenTimeout)

	perTicker := make(map[string][]ranking.ScoredWallet)
	for i, tok := range req.Tokens {
		var tr TokenResult
		if i < len(jobIDs) {
			if err := a.cache.GetJobResult(ctx, jobIDs[i], &tr); err != nil {
				tr = TokenResult{Token: tok, Error: "token analysis did not complete"}
			}
		} else {
			tr = TokenResult{Token: tok, Error: "token analysis could not be enqueued"}
		}
		out.Results = append(out.Results, tr)

		out.Summary.TotalTokens++
		if tr.Success {
			out.Summary.Successful++
		} else {
			out.Summary.Failed++
		}
		out.Summary.TotalPumps += tr.Rallies
		if len(tr.TopWallets) > 0 {
			perTicker[tr.Token.Ticker] = tr.TopWallets
		}
	}

	cross := ranking.CrossToken(perTicker, req.Options.MinRunnerHits)
	for _, agg := range cross.Ranked {
		out.FinalRanking = append(out.FinalRanking, ExportAggregated(agg))
	}
	for _, agg := range cross.Overlap {
		out.CrossTokenOverlap = append(out.CrossTokenOverlap, ExportAggregated(agg))
	}
	out.Summary.CrossTokenAccounts = len(cross.Overlap)
	out.Success = out.Summary.Successful > 0
	return out
}
