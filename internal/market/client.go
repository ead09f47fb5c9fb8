// Package market wraps the Solana market-data provider behind typed
// operations. Every operation is a projection of a single provider endpoint
// issued through the rotating key pool.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/keypool"
)

// ErrBadData means the provider answered but the payload shape was not
// usable. Callers drop the leaf result and continue.
var ErrBadData = errors.New("market: unexpected provider payload")

// Requester is the slice of the keypool adapter the client needs.
type Requester interface {
	Get(ctx context.Context, baseURL, endpoint string, params url.Values) ([]byte, error)
}

// Client is the typed market-data client.
type Client struct {
	baseURL string
	http    Requester
}

// NewClient builds a client against the given provider base URL.
func NewClient(baseURL string, req Requester) *Client {
	return &Client{baseURL: baseURL, http: req}
}

// envelope is the provider's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	body, err := c.http.Get(ctx, c.baseURL, endpoint, params)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrBadData, err)
	}
	if !env.Success || len(env.Data) == 0 {
		return fmt.Errorf("%w: empty or unsuccessful response", ErrBadData)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadData, err)
	}
	return nil
}

type tokenPayload struct {
	Address       string  `json:"address"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	PairAddress   string  `json:"pair_address"`
	Liquidity     float64 `json:"liquidity"`
	TotalSupply   float64 `json:"total_supply"`
	CreatedAtUnix int64   `json:"created_at"`
	LPBurnedPct   float64 `json:"lp_burned_pct"`
	MintRevoked   bool    `json:"mint_authority_revoked"`
	FreezeRevoked bool    `json:"freeze_authority_revoked"`
	ATHPrice      float64 `json:"ath_price_usd"`
	ATHTimeUnix   int64   `json:"ath_time"`
	ATHMarketCap  float64 `json:"ath_market_cap"`
}

func (p tokenPayload) token() Token {
	return Token{
		Address:       p.Address,
		Symbol:        p.Symbol,
		Name:          p.Name,
		PairAddress:   p.PairAddress,
		LiquidityUSD:  p.Liquidity,
		TotalSupply:   p.TotalSupply,
		CreatedAt:     time.Unix(p.CreatedAtUnix, 0).UTC(),
		LPBurnedPct:   p.LPBurnedPct,
		MintRevoked:   p.MintRevoked,
		FreezeRevoked: p.FreezeRevoked,
	}
}

// SearchTokens finds tokens matching the query. The provider does not honor
// the liquidity filter reliably, so it is re-applied client-side.
func (c *Client) SearchTokens(ctx context.Context, query string, limit int, minLiquidity float64, sortBy string) ([]Token, error) {
	params := url.Values{}
	params.Set("keyword", query)
	params.Set("limit", strconv.Itoa(limit))
	if sortBy != "" {
		params.Set("sort_by", sortBy)
	}

	var payload struct {
		Items []tokenPayload `json:"items"`
	}
	if err := c.get(ctx, "/defi/v3/search", params, &payload); err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(payload.Items))
	for _, it := range payload.Items {
		if it.Liquidity < minLiquidity {
			continue
		}
		tokens = append(tokens, it.token())
	}
	return tokens, nil
}

// GetTokenMetadata fetches the token overview. Returns (nil, nil) on 404.
func (c *Client) GetTokenMetadata(ctx context.Context, address string) (*Token, error) {
	params := url.Values{}
	params.Set("address", address)

	var payload tokenPayload
	err := c.get(ctx, "/defi/token_overview", params, &payload)
	if errors.Is(err, keypool.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := payload.token()
	return &t, nil
}

type candlePayload struct {
	UnixTime   int64   `json:"unixTime"`
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     float64 `json:"v"`
	VolumeUSD  float64 `json:"vUsd"`
}

// GetOHLCV returns the candle series for the token, oldest first, with
// strictly increasing timestamps. daysBack is clamped to [1, 90].
func (c *Client) GetOHLCV(ctx context.Context, address string, daysBack int, res Resolution) ([]Candle, error) {
	if daysBack < 1 {
		daysBack = 1
	}
	if daysBack > 90 {
		daysBack = 90
	}
	now := time.Now().Unix()
	params := url.Values{}
	params.Set("address", address)
	params.Set("type", string(res))
	params.Set("time_from", strconv.FormatInt(now-int64(daysBack)*86400, 10))
	params.Set("time_to", strconv.FormatInt(now, 10))

	var payload struct {
		Items []candlePayload `json:"items"`
	}
	if err := c.get(ctx, "/defi/ohlcv", params, &payload); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(payload.Items))
	for _, it := range payload.Items {
		candles = append(candles, Candle{
			Time:       it.UnixTime,
			Open:       it.Open,
			High:       it.High,
			Low:        it.Low,
			Close:      it.Close,
			VolumeBase: it.Volume,
			VolumeUSD:  it.VolumeUSD,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })

	// Drop duplicate timestamps; the series invariant is strictly monotonic t.
	dedup := candles[:0]
	var last int64 = -1
	for _, cd := range candles {
		if cd.Time == last {
			continue
		}
		dedup = append(dedup, cd)
		last = cd.Time
	}
	return dedup, nil
}

type traderPayload struct {
	Owner     string  `json:"owner"`
	VolumeUSD float64 `json:"volume_usd"`
	TradeBuy  int     `json:"trade_buy"`
}

// GetTopTraders returns top traders for the token over the window, tagged
// with the topTrader source.
func (c *Client) GetTopTraders(ctx context.Context, address string, windowDays int) ([]*Candidate, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("time_frame", fmt.Sprintf("%dD", windowDays))
	params.Set("sort_by", "volume")

	var payload struct {
		Items []traderPayload `json:"items"`
	}
	if err := c.get(ctx, "/defi/v2/tokens/top_traders", params, &payload); err != nil {
		return nil, err
	}

	out := make([]*Candidate, 0, len(payload.Items))
	for _, it := range payload.Items {
		if it.Owner == "" {
			continue
		}
		cand := NewCandidate(it.Owner, SourceTopTrader)
		cand.VolumeUSD = it.VolumeUSD
		out = append(out, cand)
	}
	return out, nil
}

type holderPayload struct {
	Owner      string  `json:"owner"`
	UIAmount   float64 `json:"ui_amount"`
	ValueUSD   float64 `json:"value_usd"`
}

// GetTopHolders returns holders with at least minHoldingUSD, up to limit.
func (c *Client) GetTopHolders(ctx context.Context, address string, minHoldingUSD float64, limit int) ([]*Candidate, error) {
	if minHoldingUSD <= 0 {
		minHoldingUSD = 100
	}
	if limit <= 0 {
		limit = 1000
	}
	params := url.Values{}
	params.Set("address", address)
	params.Set("limit", strconv.Itoa(limit))

	var payload struct {
		Items []holderPayload `json:"items"`
	}
	if err := c.get(ctx, "/defi/v3/token/holder", params, &payload); err != nil {
		return nil, err
	}

	out := make([]*Candidate, 0, len(payload.Items))
	for _, it := range payload.Items {
		if it.Owner == "" || it.ValueUSD < minHoldingUSD {
			continue
		}
		cand := NewCandidate(it.Owner, SourceTopHolder)
		cand.HoldingUSD = it.ValueUSD
		out = append(out, cand)
	}
	return out, nil
}

// Swap is one swap transaction as reported by the provider.
type Swap struct {
	Owner        string  `json:"owner"`
	BlockUnix    int64   `json:"block_unix_time"`
	Side         string  `json:"side"`
	PriceUSD     float64 `json:"price_usd"`
	VolumeUSD    float64 `json:"volume_usd"`
	FromAddress  string  `json:"from_address"`
	FromAmount   float64 `json:"from_ui_amount"`
	ToAddress    string  `json:"to_address"`
	ToAmount     float64 `json:"to_ui_amount"`
}

// GetFirstBuyers returns the earliest buyers of the token, with duplicate
// buys by the same wallet folded into one candidate (NumBuys, averaged
// entry price, summed volume).
func (c *Client) GetFirstBuyers(ctx context.Context, address string) ([]*Candidate, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("sort_type", "asc")
	params.Set("tx_type", "swap")
	params.Set("limit", "100")

	return c.swapCandidates(ctx, address, params, SourceFirstBuyer)
}

// GetRecentTrades returns wallets that traded the token since sinceMs.
func (c *Client) GetRecentTrades(ctx context.Context, address string, sinceMs int64) ([]*Candidate, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("sort_type", "desc")
	params.Set("tx_type", "swap")
	params.Set("after_time", strconv.FormatInt(sinceMs/1000, 10))
	params.Set("limit", "100")

	return c.swapCandidates(ctx, address, params, SourceRecentTrader)
}

func (c *Client) swapCandidates(ctx context.Context, mint string, params url.Values, src CandidateSource) ([]*Candidate, error) {
	var payload struct {
		Items []Swap `json:"items"`
	}
	if err := c.get(ctx, "/defi/txs/token", params, &payload); err != nil {
		return nil, err
	}

	byWallet := make(map[string]*Candidate)
	order := make([]string, 0, len(payload.Items))
	skipped := 0
	for _, tx := range payload.Items {
		if tx.Owner == "" || !isBuy(tx, mint) {
			continue
		}
		price, ok := ExtractSwapPrice(tx, mint)
		if !ok {
			skipped++
			continue
		}
		cand, seen := byWallet[tx.Owner]
		if !seen {
			cand = NewCandidate(tx.Owner, src)
			byWallet[tx.Owner] = cand
			order = append(order, tx.Owner)
		}
		cand.AddBuy(price, tx.VolumeUSD, time.Unix(tx.BlockUnix, 0).UTC())
	}
	if skipped > 0 {
		log.Debug().Str("token", mint).Int("skipped", skipped).
			Msg("swap transactions without extractable price")
	}

	out := make([]*Candidate, 0, len(byWallet))
	for _, w := range order {
		out = append(out, byWallet[w])
	}
	return out, nil
}

func isBuy(tx Swap, mint string) bool {
	if tx.Side != "" {
		return tx.Side == "buy"
	}
	return tx.ToAddress == mint
}

// GetWalletPnL returns the provider's PnL for the wallet on the token, or
// (nil, nil) when the provider has no data.
func (c *Client) GetWalletPnL(ctx context.Context, wallet, token string) (*WalletPnL, error) {
	params := url.Values{}
	params.Set("wallet", wallet)
	params.Set("token_address", token)

	var payload struct {
		RealizedMultiplier float64 `json:"realized_roi_multiplier"`
		TotalMultiplier    float64 `json:"total_roi_multiplier"`
	}
	err := c.get(ctx, "/wallet/token_pnl", params, &payload)
	if errors.Is(err, keypool.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload.RealizedMultiplier == 0 && payload.TotalMultiplier == 0 {
		return nil, nil
	}
	return &WalletPnL{
		RealizedMultiplier: payload.RealizedMultiplier,
		TotalMultiplier:    payload.TotalMultiplier,
	}, nil
}

// GetWalletHistory returns the wallet's trading summary over the last
// days days, or (nil, nil) when the provider has no record. Fetched only
// for ranked finalists; the per-wallet cost rules it out during discovery.
func (c *Client) GetWalletHistory(ctx context.Context, wallet string, days int) (*WalletHistory, error) {
	if days <= 0 {
		days = 30
	}
	params := url.Values{}
	params.Set("wallet", wallet)
	params.Set("days", strconv.Itoa(days))

	var payload struct {
		TokensTraded   int     `json:"tokens_traded"`
		TradeCount     int     `json:"trade_count"`
		WinRate        float64 `json:"win_rate"`
		RealizedPnLUSD float64 `json:"realized_pnl_usd"`
		BestMultiplier float64 `json:"best_roi_multiplier"`
	}
	err := c.get(ctx, "/wallet/history", params, &payload)
	if errors.Is(err, keypool.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload.TradeCount == 0 {
		return nil, nil
	}
	return &WalletHistory{
		WindowDays:     days,
		TokensTraded:   payload.TokensTraded,
		TradeCount:     payload.TradeCount,
		WinRate:        payload.WinRate,
		RealizedPnLUSD: payload.RealizedPnLUSD,
		BestMultiplier: payload.BestMultiplier,
	}, nil
}

// GetEntryPrice returns the wallet's attributed entry on the token, or
// (nil, nil) when the provider has no record.
func (c *Client) GetEntryPrice(ctx context.Context, wallet, token string) (*EntryPoint, error) {
	params := url.Values{}
	params.Set("wallet", wallet)
	params.Set("token_address", token)

	var payload struct {
		PriceUSD float64 `json:"price_usd"`
		UnixTime int64   `json:"unix_time"`
	}
	err := c.get(ctx, "/wallet/token_entry", params, &payload)
	if errors.Is(err, keypool.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload.PriceUSD <= 0 {
		return nil, nil
	}
	return &EntryPoint{
		PriceUSD:  payload.PriceUSD,
		Timestamp: time.Unix(payload.UnixTime, 0).UTC(),
	}, nil
}
