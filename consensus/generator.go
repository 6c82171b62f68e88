package consensus

import (
	"fmt"
	"sort"
	"time"

	"chaindpos/types"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

// GenerateFirstRound builds round 1 of term 1 for a fresh chain. Orders are
// the sorted-pubkey ranks; the first miner doubles as the bootstrap extra
// block producer.
func GenerateFirstRound(committee *types.MinerList, start time.Time, interval time.Duration) (*types.Round, error) {
	if err := committee.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateRound, err)
	}

	r := &types.Round{
		RoundNumber: 1,
		TermNumber:  1,
		Miners:      make(map[string]*types.MinerSlot, committee.Size()),
	}
	for i, pk := range committee.Pubkeys {
		r.Miners[pk] = &types.MinerSlot{
			PubKey:               pk,
			Order:                i + 1,
			ExpectedMiningTime:   start.Add(time.Duration(i+1) * interval),
			IsExtraBlockProducer: i == 0,
		}
	}
	return r, nil
}

// GenerateNextRound builds the successor round inside the same term.
//
// Miners that mined carry their final next-round order forward; miners that
// missed take the remaining free orders ascending by pubkey and get their
// missed-slot counter bumped. Every assignment rule here must be a pure
// function of the inputs - independent nodes regenerate this round and have
// to agree bit for bit.
func GenerateNextRound(cur *types.Round, now time.Time, interval time.Duration) (*types.Round, error) {
	if err := cur.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateRound, err)
	}
	if _, err := cur.FirstMiner(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateRound, err)
	}

	n := cur.MinersCount()
	next := &types.Round{
		RoundNumber:                           cur.RoundNumber + 1,
		TermNumber:                            cur.TermNumber,
		Miners:                                make(map[string]*types.MinerSlot, n),
		ConfirmedIrreversibleBlockHeight:      cur.ConfirmedIrreversibleBlockHeight,
		ConfirmedIrreversibleBlockRoundNumber: cur.ConfirmedIrreversibleBlockRoundNumber,
		BlockchainAge:                         nextAge(cur, now),
	}
	if extra := cur.ExtraBlockProducer(); extra != nil {
		next.ExtraBlockProducerOfPreviousRound = extra.PubKey
	}

	// 1. 出过块的矿工按final order就位
	occupied := make(map[int]bool, n)
	placed := make(map[string]bool, n)
	for _, ms := range cur.MinedMiners() {
		order := ms.FinalOrderOfNextRound
		if order < 1 || order > n || occupied[order] {
			continue // 没有可用final order的矿工去空位池
		}
		next.Miners[ms.PubKey] = carrySlot(ms, order, now, interval)
		occupied[order] = true
		placed[ms.PubKey] = true
	}

	// 2. 其余矿工按pubkey升序占剩下的空位
	free := make([]int, 0, n)
	for v := 1; v <= n; v++ {
		if !occupied[v] {
			free = append(free, v)
		}
	}
	rest := make([]*types.MinerSlot, 0, n)
	for _, pk := range cur.SortedPubkeys() {
		if !placed[pk] {
			rest = append(rest, cur.Miners[pk])
		}
	}
	for i, ms := range rest {
		slot := carrySlot(ms, free[i], now, interval)
		if !ms.HasMined() {
			slot.MissedTimeSlots++
		}
		next.Miners[ms.PubKey] = slot
	}

	markExtraBlockProducer(cur, next)
	return next, nil
}

// GenerateFirstRoundOfNextTerm builds the first round of term T+1 for the
// (possibly evil-adjusted) committee handed over by the membership
// collaborator. Counters reset; the LIB pointer carries over unchanged.
func GenerateFirstRoundOfNextTerm(cur *types.Round, now time.Time, interval time.Duration, committee *types.MinerList) (*types.Round, error) {
	if err := cur.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateRound, err)
	}
	if err := committee.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateRound, err)
	}

	seed := cur.XORedSignatures()
	next := &types.Round{
		RoundNumber:                           cur.RoundNumber + 1,
		TermNumber:                            cur.TermNumber + 1,
		Miners:                                make(map[string]*types.MinerSlot, committee.Size()),
		ConfirmedIrreversibleBlockHeight:      cur.ConfirmedIrreversibleBlockHeight,
		ConfirmedIrreversibleBlockRoundNumber: cur.ConfirmedIrreversibleBlockRoundNumber,
		BlockchainAge:                         nextAge(cur, now),
		IsMinerListJustChanged:                true,
	}
	if extra := cur.ExtraBlockProducer(); extra != nil {
		next.ExtraBlockProducerOfPreviousRound = extra.PubKey
	}

	for pk, order := range shuffleOrders(seed, committee.Pubkeys) {
		next.Miners[pk] = &types.MinerSlot{
			PubKey:             pk,
			Order:              order,
			ExpectedMiningTime: now.Add(time.Duration(order) * interval),
		}
	}

	extraOrder := SupposedOrder(seed, committee.Size())
	if ms := next.MinerByOrder(extraOrder); ms != nil {
		ms.IsExtraBlockProducer = true
	}
	return next, nil
}

// carrySlot moves a miner into the next round at the given order, carrying
// the term-cumulative counters and dropping all per-round values.
func carrySlot(ms *types.MinerSlot, order int, genTime time.Time, interval time.Duration) *types.MinerSlot {
	return &types.MinerSlot{
		PubKey:             ms.PubKey,
		Order:              order,
		ExpectedMiningTime: genTime.Add(time.Duration(order) * interval),
		ProducedBlocks:     ms.ProducedBlocks,
		ProducedTinyBlocks: ms.ProducedTinyBlocks,
		MissedTimeSlots:    ms.MissedTimeSlots,
	}
}

// markExtraBlockProducer picks the next round's extra block producer from
// the first mined miner's signature; without any signature the fallback is
// the lowest pubkey - a deterministic total order, never map iteration.
func markExtraBlockProducer(cur, next *types.Round) {
	var sig []byte
	for _, ms := range cur.SlotsByOrder() {
		if ms.HasMined() && len(ms.Signature) != 0 {
			sig = ms.Signature
			break
		}
	}

	if len(sig) != 0 {
		if ms := next.MinerByOrder(SupposedOrder(sig, next.MinersCount())); ms != nil {
			ms.IsExtraBlockProducer = true
			return
		}
	}
	keys := next.SortedPubkeys()
	next.Miners[keys[0]].IsExtraBlockProducer = true
}

// shuffleOrders deterministically maps pubkeys to orders 1..n, ranked by
// tmhash(seed||pubkey) with the pubkey as tie-breaker.
func shuffleOrders(seed []byte, pubkeys []string) map[string]int {
	type ranked struct {
		pk   string
		hash string
	}
	rs := make([]ranked, len(pubkeys))
	for i, pk := range pubkeys {
		rs[i] = ranked{pk: pk, hash: string(tmhash.Sum(append(append([]byte(nil), seed...), pk...)))}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].hash != rs[j].hash {
			return rs[i].hash < rs[j].hash
		}
		return rs[i].pk < rs[j].pk
	})

	orders := make(map[string]int, len(rs))
	for i, r := range rs {
		orders[r.pk] = i + 1
	}
	return orders
}

// nextAge advances the blockchain age by the wall-clock span of the closing
// round, at least one second. The generation time is part of the proposed
// round, so every node derives the same age.
func nextAge(cur *types.Round, now time.Time) int64 {
	start, err := cur.RoundStartTime()
	if err != nil {
		return cur.BlockchainAge + 1
	}
	delta := int64(now.Sub(start) / time.Second)
	if delta < 1 {
		delta = 1
	}
	return cur.BlockchainAge + delta
}
