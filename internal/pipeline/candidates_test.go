package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrunner/walletrank/internal/market"
)

func TestMergeCandidates_UnionsSourcesAndBuys(t *testing.T) {
	at := time.Unix(1000, 0)
	asTrader := buyer("w1", market.SourceTopTrader, 1.0, at)
	asBuyer := buyer("w1", market.SourceFirstBuyer, 2.0, at.Add(time.Minute))
	solo := buyer("w2", market.SourceRecentTrader, 3.0, at)

	merged := MergeCandidates(
		[]*market.Candidate{asTrader, nil},
		[]*market.Candidate{asBuyer},
		[]*market.Candidate{solo},
	)

	require.Len(t, merged, 2)
	w1 := merged["w1"]
	assert.True(t, w1.HasSource(market.SourceTopTrader))
	assert.True(t, w1.HasSource(market.SourceFirstBuyer))
	assert.Equal(t, 2, w1.NumBuys)
	assert.Equal(t, at, w1.FirstBuyTime)
	assert.InDelta(t, 1.5, w1.EntryPrice(), 1e-9)
}

func TestSplitPreQualified(t *testing.T) {
	at := time.Unix(1000, 0)
	merged := MergeCandidates(
		[]*market.Candidate{buyer("trader", market.SourceTopTrader, 1, at)},
		[]*market.Candidate{buyer("first", market.SourceFirstBuyer, 1, at)},
		[]*market.Candidate{buyer("recent", market.SourceRecentTrader, 1, at)},
		[]*market.Candidate{buyer("holder", market.SourceTopHolder, 1, at)},
	)

	accepted, needsPnL := SplitPreQualified(merged)

	names := func(cs []*market.Candidate) []string {
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.Wallet)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"trader", "first"}, names(accepted))
	assert.ElementsMatch(t, []string{"recent", "holder"}, names(needsPnL))
}

func TestChunkWallets(t *testing.T) {
	assert.Nil(t, ChunkWallets(nil))

	chunks := ChunkWallets([]string{"a", "b", "c", "d", "e", "f", "g"})
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, chunks[0])
	assert.Equal(t, []string{"d", "e", "f"}, chunks[1])
	assert.Equal(t, []string{"g"}, chunks[2])
}

func TestQualifyPnL(t *testing.T) {
	api := newFakeAPI()
	api.pnl["realized"] = &market.WalletPnL{RealizedMultiplier: 6, TotalMultiplier: 1}
	api.pnl["unrealized"] = &market.WalletPnL{RealizedMultiplier: 0.5, TotalMultiplier: 9}
	api.pnl["loser"] = &market.WalletPnL{RealizedMultiplier: 0.2, TotalMultiplier: 0.8}
	// "ghost" has no record at all.

	res := QualifyPnL(context.Background(), api, tokenAddr,
		[]string{"realized", "unrealized", "loser", "ghost"}, 5.0)

	assert.Equal(t, 4, res.Checked)
	assert.Contains(t, res.Accepted, "realized")
	assert.Contains(t, res.Accepted, "unrealized")
	assert.NotContains(t, res.Accepted, "loser")
	assert.NotContains(t, res.Accepted, "ghost")
}
