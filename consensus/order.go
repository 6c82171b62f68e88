package consensus

import (
	"fmt"
	"math/big"
	"sort"

	"chaindpos/types"
)

// SupposedOrder maps a reveal signature onto a mining order:
// (|signature| mod minersCount) + 1.
func SupposedOrder(signature []byte, minersCount int) int {
	if minersCount < 1 {
		return 0
	}
	v := new(big.Int).SetBytes(signature)
	v.Abs(v)
	v.Mod(v, big.NewInt(int64(minersCount)))
	return int(v.Int64()) + 1
}

// AssignOrder records the acting miner's proposed and final next-round order
// derived from its signature. A miner already holding that final order is
// bumped to the lowest free order, scanned over the complete range [1..n] -
// a conflict is never left unresolved.
func AssignOrder(r *types.Round, pubkey string, signature []byte) error {
	slot := r.Slot(pubkey)
	if slot == nil {
		return types.ErrMinerNotFound
	}
	n := r.MinersCount()
	supposed := SupposedOrder(signature, n)

	slot.SupposedOrderOfNextRound = supposed

	for _, k := range r.SortedPubkeys() {
		if k == pubkey {
			continue
		}
		other := r.Miners[k]
		if other.FinalOrderOfNextRound != supposed {
			continue
		}
		free := firstFreeOrder(r, pubkey, supposed)
		if free == 0 {
			return ErrOrderConflictUnresolved
		}
		other.FinalOrderOfNextRound = free
	}
	slot.FinalOrderOfNextRound = supposed

	return VerifyFinalOrders(r)
}

// firstFreeOrder scans the full range [1..n] for the lowest order not held
// by any miner. The acting miner's own (stale) final order does not count as
// occupied; taken does.
func firstFreeOrder(r *types.Round, acting string, taken int) int {
	n := r.MinersCount()
	occupied := make(map[int]bool, n)
	occupied[taken] = true
	for _, k := range r.SortedPubkeys() {
		if k == acting {
			continue
		}
		if o := r.Miners[k].FinalOrderOfNextRound; o > 0 {
			occupied[o] = true
		}
	}
	for v := 1; v <= n; v++ {
		if !occupied[v] {
			return v
		}
	}
	return 0
}

// TuneOrder applies the acting miner's adjustments to other miners' final
// next-round orders. The whole set is validated against full-range
// uniqueness first; an adjustment batch that would create a duplicate or
// out-of-range order is rejected without touching the round.
func TuneOrder(r *types.Round, adjustments map[string]int) error {
	if len(adjustments) == 0 {
		return nil
	}
	n := r.MinersCount()

	cp := r.Copy()
	for _, k := range sortedKeys(adjustments) {
		order := adjustments[k]
		slot := cp.Slot(k)
		if slot == nil {
			return fmt.Errorf("tune order for %v: %w", k, types.ErrMinerNotFound)
		}
		if order < 1 || order > n {
			return fmt.Errorf("tune order %v for %v: %w", order, k, types.ErrOrderOutOfRange)
		}
		slot.FinalOrderOfNextRound = order
	}
	if err := VerifyFinalOrders(cp); err != nil {
		return err
	}

	for k, order := range adjustments {
		r.Miners[k].FinalOrderOfNextRound = order
	}
	return nil
}

// VerifyFinalOrders re-checks the invariant after any order mutation: the
// recorded final_order_of_next_round values must be distinct values inside
// [1..miners_count]. Once every miner has recorded one, distinctness makes
// the set exactly {1..miners_count} - no duplicates, no gaps.
func VerifyFinalOrders(r *types.Round) error {
	n := r.MinersCount()
	seen := make(map[int]string, n)
	for _, k := range r.SortedPubkeys() {
		o := r.Miners[k].FinalOrderOfNextRound
		if o == 0 {
			continue // 还没记录
		}
		if o < 1 || o > n {
			return fmt.Errorf("final order %v of %v with %v miners: %w", o, k, n, ErrBrokenFinalOrders)
		}
		if prev, dup := seen[o]; dup {
			return fmt.Errorf("final order %v held by both %v and %v: %w", o, prev, k, ErrBrokenFinalOrders)
		}
		seen[o] = k
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
