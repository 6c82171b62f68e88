package consensus

import (
	"sort"
	"time"

	"chaindpos/election"
	"chaindpos/types"

	"github.com/pkg/errors"
)

// Replacement pairs an evil miner with the candidate inheriting its slot.
type Replacement struct {
	Evil      string
	Candidate string
}

// ChargeMissedSlots returns a copy of the round with this round's misses
// added to the counters. Detection at a round/term boundary runs on this
// view - the boundary happens before any counter reset, uniformly on both
// the NextRound and the NextTerm path.
func ChargeMissedSlots(r *types.Round) *types.Round {
	cp := r.Copy()
	for _, pk := range cp.SortedPubkeys() {
		if !cp.Miners[pk].HasMined() {
			cp.Miners[pk].MissedTimeSlots++
		}
	}
	return cp
}

// DetectEvilMiners returns the pubkeys, ascending, whose missed-slot count
// reached the tolerance.
func DetectEvilMiners(r *types.Round, tolerance int64) []string {
	if tolerance <= 0 {
		return nil
	}
	evil := make([]string, 0)
	for _, pk := range r.SortedPubkeys() {
		if r.Miners[pk].MissedTimeSlots >= tolerance {
			evil = append(evil, pk)
		}
	}
	sort.Strings(evil)
	return evil
}

// ReplaceEvilMiners builds the adjusted committee: every evil miner leaves,
// candidates step in strictly 1:1. When the collaborator returns fewer
// candidates than evil miners the unmatched ones are still removed and the
// committee shrinks - an evil miner is never silently left active.
func ReplaceEvilMiners(committee *types.MinerList, evil []string, el election.Election) (*types.MinerList, []Replacement, []string, error) {
	if len(evil) == 0 {
		return committee, nil, nil, nil
	}

	candidates, err := el.GetReplacementCandidates(evil, committee)
	if err != nil {
		return nil, nil, nil, err
	}

	pairs := make([]Replacement, 0, len(evil))
	removed := make([]string, 0)
	for i, pk := range evil {
		if i < len(candidates) {
			pairs = append(pairs, Replacement{Evil: pk, Candidate: candidates[i]})
		} else {
			removed = append(removed, pk)
		}
	}

	// 候选人来自外部，不可信，上链前必须查重
	adjusted := committee.Remove(evil)
	for _, p := range pairs {
		if adjusted.Has(p.Candidate) {
			return nil, nil, nil, errors.Wrapf(ErrBadCandidate,
				"candidate %s for evil miner %s already in committee", p.Candidate, p.Evil)
		}
		adjusted = adjusted.Add([]string{p.Candidate})
	}
	return adjusted, pairs, removed, nil
}

// ApplyReplacements rewrites an already generated round for the adjusted
// committee. A matched candidate inherits the departing miner's order and
// expected mining time with fresh counters; unmatched evil miners simply
// leave, after which the remaining orders are compacted back to 1..N.
func ApplyReplacements(next *types.Round, pairs []Replacement, removed []string, genTime time.Time, interval time.Duration) {
	if len(pairs) == 0 && len(removed) == 0 {
		return
	}

	for _, p := range pairs {
		old := next.Miners[p.Evil]
		if old == nil {
			continue
		}
		delete(next.Miners, p.Evil)
		next.Miners[p.Candidate] = &types.MinerSlot{
			PubKey:               p.Candidate,
			Order:                old.Order,
			ExpectedMiningTime:   old.ExpectedMiningTime,
			IsExtraBlockProducer: old.IsExtraBlockProducer,
		}
	}
	for _, pk := range removed {
		delete(next.Miners, pk)
	}

	if len(removed) > 0 {
		compactOrders(next, genTime, interval)
	}
	// An unmatched evil miner can take the extra producer flag with it;
	// the round must not end up without one.
	if next.ExtraBlockProducer() == nil {
		keys := next.SortedPubkeys()
		if len(keys) > 0 {
			next.Miners[keys[0]].IsExtraBlockProducer = true
		}
	}
	next.IsMinerListJustChanged = true
}

// compactOrders reassigns orders 1..N preserving the previous relative
// order, and recomputes the expected times from the generation time.
func compactOrders(next *types.Round, genTime time.Time, interval time.Duration) {
	slots := next.SlotsByOrder()
	for i, ms := range slots {
		ms.Order = i + 1
		ms.ExpectedMiningTime = genTime.Add(time.Duration(i+1) * interval)
	}
}

// BuildTermSnapshot aggregates the finishing term's statistics from its last
// round (with the final misses already charged).
func BuildTermSnapshot(charged *types.Round) election.TermSnapshot {
	snap := election.TermSnapshot{
		TermNumber:     charged.TermNumber,
		EndRoundNumber: charged.RoundNumber,
		MinedBlocks:    make(map[string]int64, charged.MinersCount()),
		MissedSlots:    make(map[string]int64, charged.MinersCount()),
	}
	for _, pk := range charged.SortedPubkeys() {
		snap.MinedBlocks[pk] = charged.Miners[pk].ProducedBlocks
		snap.MissedSlots[pk] = charged.Miners[pk].MissedTimeSlots
	}
	return snap
}
