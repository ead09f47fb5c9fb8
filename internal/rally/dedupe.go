package rally

import "sort"

// dedupe enforces the non-overlap guarantee: candidates sorted by start
// index are accepted greedily, and a later candidate overlapping an accepted
// one beyond the limit only survives by replacing it when its quality is
// clearly higher.
func (d *Detector) dedupe(candidates []Rally) []Rally {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StartIdx < candidates[j].StartIdx
	})

	accepted := make([]Rally, 0, len(candidates))
	for _, cand := range candidates {
		var conflicts []int
		for idx, acc := range accepted {
			if overlapTooLarge(acc, cand, d.cfg.OverlapLimit) {
				conflicts = append(conflicts, idx)
			}
		}
		if len(conflicts) == 0 {
			accepted = append(accepted, cand)
			continue
		}
		// The candidate must beat every window it collides with, and all
		// of them go so the survivors stay pair-wise non-overlapping.
		beatsAll := true
		for _, idx := range conflicts {
			if cand.Quality() < d.cfg.ReplaceQualityFactor*accepted[idx].Quality() {
				beatsAll = false
				break
			}
		}
		if !beatsAll {
			continue
		}
		kept := accepted[:0]
		for idx, acc := range accepted {
			if len(conflicts) > 0 && idx == conflicts[0] {
				conflicts = conflicts[1:]
				continue
			}
			kept = append(kept, acc)
		}
		accepted = append(kept, cand)
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].StartIdx < accepted[j].StartIdx
	})
	return accepted
}

// overlapTooLarge reports whether a and b share more than limit of the
// shorter window.
func overlapTooLarge(a, b Rally, limit float64) bool {
	lo := a.StartIdx
	if b.StartIdx > lo {
		lo = b.StartIdx
	}
	hi := a.EndIdx
	if b.EndIdx < hi {
		hi = b.EndIdx
	}
	overlap := hi - lo + 1
	if overlap <= 0 {
		return false
	}
	shorter := a.Len()
	if b.Len() < shorter {
		shorter = b.Len()
	}
	return float64(overlap) > limit*float64(shorter)
}
