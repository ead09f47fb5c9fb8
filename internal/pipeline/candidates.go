package pipeline

import (
	"github.com/solrunner/walletrank/internal/market"
)

// MergeCandidates unions candidate lists from all discovery sources into a
// single wallet-keyed set. The merge is commutative: source lists may
// arrive in any completion order without changing the outcome.
func MergeCandidates(lists ...[]*market.Candidate) map[string]*market.Candidate {
	merged := make(map[string]*market.Candidate)
	for _, list := range lists {
		for _, cand := range list {
			if cand == nil || cand.Wallet == "" {
				continue
			}
			if existing, ok := merged[cand.Wallet]; ok {
				existing.Merge(cand)
			} else {
				cp := *cand
				if cp.Sources == nil {
					cp.Sources = map[market.CandidateSource]bool{}
				}
				merged[cand.Wallet] = &cp
			}
		}
	}
	return merged
}

// SplitPreQualified partitions merged candidates: top-trader and
// first-buyer sources are strong enough evidence to accept without a PnL
// round-trip; holders and recent traders go to the PnL check.
func SplitPreQualified(merged map[string]*market.Candidate) (accepted, needsPnL []*market.Candidate) {
	for _, cand := range merged {
		if cand.HasSource(market.SourceTopTrader) || cand.HasSource(market.SourceFirstBuyer) {
			accepted = append(accepted, cand)
		} else {
			needsPnL = append(needsPnL, cand)
		}
	}
	return accepted, needsPnL
}

// SubBatchSize is the fixed fan-out chunk for PnL checks. Fixed at 3 (not
// a fraction of the total) to keep provider load flat regardless of how
// many candidates a token produces.
const SubBatchSize = 3

// ChunkWallets splits wallets into sub-batches of SubBatchSize.
func ChunkWallets(wallets []string) [][]string {
	if len(wallets) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(wallets)+SubBatchSize-1)/SubBatchSize)
	for start := 0; start < len(wallets); start += SubBatchSize {
		end := start + SubBatchSize
		if end > len(wallets) {
			end = len(wallets)
		}
		chunks = append(chunks, wallets[start:end])
	}
	return chunks
}
