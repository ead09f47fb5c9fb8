package market

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// athHistoryDays is the lookback for the historical-price fallback.
const athHistoryDays = 90

// GetTokenATH resolves the token's all-time-high with a three-level hybrid:
// the overview's ATH field first, then the max of a 90-day 5-minute
// historical price query, then the max close of candles the caller already
// holds. Returns (nil, nil) when all three levels come up empty.
func (c *Client) GetTokenATH(ctx context.Context, address string, fallback []Candle) (*ATH, error) {
	// Level 1: token overview.
	params := url.Values{}
	params.Set("address", address)
	var overview tokenPayload
	if err := c.get(ctx, "/defi/token_overview", params, &overview); err == nil && overview.ATHPrice > 0 {
		return &ATH{
			PriceUSD:  overview.ATHPrice,
			Timestamp: time.Unix(overview.ATHTimeUnix, 0).UTC(),
			MarketCap: overview.ATHMarketCap,
		}, nil
	}

	// Level 2: historical prices over a long window.
	if ath := c.athFromHistory(ctx, address); ath != nil {
		return ath, nil
	}

	// Level 3: max close from the series already in hand.
	var best *ATH
	for _, cd := range fallback {
		if best == nil || cd.Close > best.PriceUSD {
			best = &ATH{PriceUSD: cd.Close, Timestamp: time.Unix(cd.Time, 0).UTC()}
		}
	}
	if best == nil {
		log.Debug().Str("token", address).Msg("no ATH resolvable at any level")
		return nil, nil
	}
	return best, nil
}

func (c *Client) athFromHistory(ctx context.Context, address string) *ATH {
	now := time.Now().Unix()
	params := url.Values{}
	params.Set("address", address)
	params.Set("type", string(Res5m))
	params.Set("time_from", strconv.FormatInt(now-athHistoryDays*86400, 10))
	params.Set("time_to", strconv.FormatInt(now, 10))

	var payload struct {
		Items []struct {
			UnixTime int64   `json:"unixTime"`
			Value    float64 `json:"value"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/defi/history_price", params, &payload); err != nil {
		return nil
	}

	var best *ATH
	for _, it := range payload.Items {
		if best == nil || it.Value > best.PriceUSD {
			best = &ATH{PriceUSD: it.Value, Timestamp: time.Unix(it.UnixTime, 0).UTC()}
		}
	}
	return best
}
