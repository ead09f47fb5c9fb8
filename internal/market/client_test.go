package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrunner/walletrank/internal/keypool"
)

// fakeRequester serves canned payloads per endpoint without the key pool.
type fakeRequester struct {
	responses map[string]string
	lastQuery url.Values
	err       error
}

func (f *fakeRequester) Get(_ context.Context, _ string, endpoint string, params url.Values) ([]byte, error) {
	f.lastQuery = params
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.responses[endpoint]
	if !ok {
		return nil, keypool.ErrNotFound
	}
	return []byte(body), nil
}

func TestClient_GetOHLCV_SortedAndDeduplicated(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/defi/ohlcv": `{"success":true,"data":{"items":[
			{"unixTime":300,"o":2,"h":3,"l":1,"c":2.5,"v":10,"vUsd":25},
			{"unixTime":0,"o":1,"h":2,"l":0.5,"c":1.5,"v":5,"vUsd":7},
			{"unixTime":300,"o":2,"h":3,"l":1,"c":2.5,"v":10,"vUsd":25},
			{"unixTime":600,"o":2.5,"h":4,"l":2,"c":3.5,"v":20,"vUsd":70}
		]}}`,
	}}
	c := NewClient("http://provider", f)

	candles, err := c.GetOHLCV(context.Background(), "MINT", 1, Res5m)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	for i := 1; i < len(candles); i++ {
		assert.Greater(t, candles[i].Time, candles[i-1].Time, "timestamps must be strictly monotonic")
	}
}

func TestClient_GetOHLCV_ClampsDaysBack(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/defi/ohlcv": `{"success":true,"data":{"items":[]}}`,
	}}
	c := NewClient("http://provider", f)

	_, err := c.GetOHLCV(context.Background(), "MINT", 500, Res1h)
	require.NoError(t, err)

	fromSec, err := strconv.ParseInt(f.lastQuery.Get("time_from"), 10, 64)
	require.NoError(t, err)
	toSec, err := strconv.ParseInt(f.lastQuery.Get("time_to"), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, 90*86400, toSec-fromSec, 5)
}

func TestClient_GetTokenMetadata_NilOn404(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{}}
	c := NewClient("http://provider", f)

	tok, err := c.GetTokenMetadata(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestClient_SearchTokens_FiltersLiquidityClientSide(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/defi/v3/search": `{"success":true,"data":{"items":[
			{"address":"A","symbol":"AAA","liquidity":50000},
			{"address":"B","symbol":"BBB","liquidity":900}
		]}}`,
	}}
	c := NewClient("http://provider", f)

	tokens, err := c.SearchTokens(context.Background(), "meme", 10, 10000, "liquidity")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "A", tokens[0].Address)
}

func TestClient_GetTopHolders_PreFilters(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/defi/v3/token/holder": `{"success":true,"data":{"items":[
			{"owner":"whale","value_usd":12000},
			{"owner":"dust","value_usd":3},
			{"owner":"","value_usd":9999}
		]}}`,
	}}
	c := NewClient("http://provider", f)

	holders, err := c.GetTopHolders(context.Background(), "MINT", 100, 1000)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, "whale", holders[0].Wallet)
	assert.True(t, holders[0].HasSource(SourceTopHolder))
	assert.Equal(t, 12000.0, holders[0].HoldingUSD)
}

func TestClient_GetFirstBuyers_FoldsDuplicateBuys(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/defi/txs/token": `{"success":true,"data":{"items":[
			{"owner":"W1","block_unix_time":100,"side":"buy","price_usd":0.001,"volume_usd":10,"to_address":"MINT","to_ui_amount":10000},
			{"owner":"W1","block_unix_time":160,"side":"buy","price_usd":0.002,"volume_usd":20,"to_address":"MINT","to_ui_amount":10000},
			{"owner":"W1","block_unix_time":220,"side":"buy","price_usd":0.003,"volume_usd":30,"to_address":"MINT","to_ui_amount":10000},
			{"owner":"W2","block_unix_time":130,"side":"sell","price_usd":0.002,"volume_usd":5,"from_address":"MINT","from_ui_amount":2500}
		]}}`,
	}}
	c := NewClient("http://provider", f)

	buyers, err := c.GetFirstBuyers(context.Background(), "MINT")
	require.NoError(t, err)
	require.Len(t, buyers, 1, "sells must not create candidates")

	w1 := buyers[0]
	assert.Equal(t, "W1", w1.Wallet)
	assert.Equal(t, 3, w1.NumBuys)
	assert.InDelta(t, 0.002, w1.EntryPrice(), 1e-9)
	assert.InDelta(t, 60.0, w1.TotalVolumeUSD, 1e-9)
	assert.Equal(t, time.Unix(100, 0).UTC(), w1.FirstBuyTime)
}

func TestClient_GetWalletPnL_NilWhenNoData(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/wallet/token_pnl": `{"success":true,"data":{"realized_roi_multiplier":0,"total_roi_multiplier":0}}`,
	}}
	c := NewClient("http://provider", f)

	pnl, err := c.GetWalletPnL(context.Background(), "W", "MINT")
	require.NoError(t, err)
	assert.Nil(t, pnl)
}

func TestClient_GetWalletHistory(t *testing.T) {
	f := &fakeRequester{responses: map[string]string{
		"/wallet/history": `{"success":true,"data":{
			"tokens_traded":14,"trade_count":92,"win_rate":0.61,
			"realized_pnl_usd":48210.5,"best_roi_multiplier":7.4}}`,
	}}
	c := NewClient("http://provider", f)

	hist, err := c.GetWalletHistory(context.Background(), "W", 30)
	require.NoError(t, err)
	require.NotNil(t, hist)
	assert.Equal(t, 30, hist.WindowDays)
	assert.Equal(t, 14, hist.TokensTraded)
	assert.Equal(t, 92, hist.TradeCount)
	assert.InDelta(t, 0.61, hist.WinRate, 1e-9)
	assert.InDelta(t, 48210.5, hist.RealizedPnLUSD, 1e-9)
	assert.Equal(t, "30", f.lastQuery.Get("days"))

	// A wallet with no trades in the window reads as no record.
	f.responses["/wallet/history"] = `{"success":true,"data":{"trade_count":0}}`
	hist, err = c.GetWalletHistory(context.Background(), "W", 30)
	require.NoError(t, err)
	assert.Nil(t, hist)
}

func TestClient_GetTokenATH_Hybrid(t *testing.T) {
	t.Run("level 1 overview field", func(t *testing.T) {
		f := &fakeRequester{responses: map[string]string{
			"/defi/token_overview": `{"success":true,"data":{"address":"M","ath_price_usd":0.09,"ath_time":1000,"ath_market_cap":90000000}}`,
		}}
		c := NewClient("http://provider", f)
		ath, err := c.GetTokenATH(context.Background(), "M", nil)
		require.NoError(t, err)
		require.NotNil(t, ath)
		assert.Equal(t, 0.09, ath.PriceUSD)
		assert.Equal(t, 90000000.0, ath.MarketCap)
	})

	t.Run("level 2 history max", func(t *testing.T) {
		f := &fakeRequester{responses: map[string]string{
			"/defi/token_overview": `{"success":true,"data":{"address":"M"}}`,
			"/defi/history_price": `{"success":true,"data":{"items":[
				{"unixTime":10,"value":0.01},{"unixTime":20,"value":0.07},{"unixTime":30,"value":0.02}
			]}}`,
		}}
		c := NewClient("http://provider", f)
		ath, err := c.GetTokenATH(context.Background(), "M", nil)
		require.NoError(t, err)
		require.NotNil(t, ath)
		assert.Equal(t, 0.07, ath.PriceUSD)
	})

	t.Run("level 3 candle fallback", func(t *testing.T) {
		f := &fakeRequester{responses: map[string]string{}}
		c := NewClient("http://provider", f)
		candles := []Candle{{Time: 1, Close: 0.03}, {Time: 2, Close: 0.05}, {Time: 3, Close: 0.04}}
		ath, err := c.GetTokenATH(context.Background(), "M", candles)
		require.NoError(t, err)
		require.NotNil(t, ath)
		assert.Equal(t, 0.05, ath.PriceUSD)
	})

	t.Run("nothing resolvable", func(t *testing.T) {
		f := &fakeRequester{responses: map[string]string{}}
		c := NewClient("http://provider", f)
		ath, err := c.GetTokenATH(context.Background(), "M", nil)
		require.NoError(t, err)
		assert.Nil(t, ath)
	})
}

func TestClient_BadPayloadIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	pool := keypool.NewPool([]string{"test-key-01"})
	cfg := keypool.DefaultAdapterConfig()
	cfg.SustainedRate = 1000
	cfg.Burst = 100
	c := NewClient(srv.URL, keypool.NewAdapter(pool, cfg))

	_, err := c.GetOHLCV(context.Background(), "MINT", 1, Res5m)
	assert.ErrorIs(t, err, ErrBadData)
}
