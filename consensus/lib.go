package consensus

import (
	"sort"

	"chaindpos/types"
)

// CalculateLib computes the new last-irreversible-block pointer from the
// previous round's per-miner implied heights, restricted to miners who
// actually produced a block in the current round.
//
// With at least floor(2N/3) reports the height at index floor((count-1)/3)
// of the ascending list is implied-irreversible by more than one third of
// the reporters under a >2/3-honest assumption. Below quorum there is no
// LIB update this round.
func CalculateLib(prev, cur *types.Round) (height int64, libRoundNumber int64, ok bool) {
	if prev == nil || cur == nil {
		return 0, 0, false
	}

	heights := make([]int64, 0, cur.MinersCount())
	for _, ms := range cur.MinedMiners() {
		prevSlot := prev.Slot(ms.PubKey)
		if prevSlot == nil || prevSlot.ImpliedIrreversibleBlockHeight <= 0 {
			continue
		}
		heights = append(heights, prevSlot.ImpliedIrreversibleBlockHeight)
	}

	quorum := cur.MinersCount() * 2 / 3
	if quorum < 1 || len(heights) < quorum {
		return 0, 0, false
	}

	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights[(len(heights)-1)/3], prev.RoundNumber, true
}
