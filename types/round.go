package types

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

// MinerSlot holds one miner's state within a Round.
//
// Order is the miner's position in the round, 1..N, unique within the round.
// The commit-reveal fields follow the usual two-round dance: OutValue and
// Signature are published while mining, InValue stays local, PreviousInValue
// is revealed (or reconstructed) one round later.
type MinerSlot struct {
	PubKey             string      `json:"pub_key"`
	Order              int         `json:"order"`
	ExpectedMiningTime time.Time   `json:"expected_mining_time"`
	ActualMiningTimes  []time.Time `json:"actual_mining_times"`

	OutValue        tmbytes.HexBytes `json:"out_value"`
	InValue         tmbytes.HexBytes `json:"in_value"`
	PreviousInValue tmbytes.HexBytes `json:"previous_in_value"`
	Signature       tmbytes.HexBytes `json:"signature"`

	SupposedOrderOfNextRound int `json:"supposed_order_of_next_round"`
	FinalOrderOfNextRound    int `json:"final_order_of_next_round"`

	// 任期内累计的计数器，只在换届时清零
	ProducedBlocks     int64 `json:"produced_blocks"`
	ProducedTinyBlocks int64 `json:"produced_tiny_blocks"`
	MissedTimeSlots    int64 `json:"missed_time_slots"`

	// secret sharing transport, keyed by recipient (EncryptedPieces)
	// or by the owner of the secret the piece belongs to (DecryptedPieces)
	EncryptedPieces map[string][]byte `json:"encrypted_pieces"`
	DecryptedPieces map[string][]byte `json:"decrypted_pieces"`

	IsExtraBlockProducer bool `json:"is_extra_block_producer"`

	ImpliedIrreversibleBlockHeight int64 `json:"implied_irreversible_block_height"`
}

// HasMined reports whether the miner already produced its normal block in
// this round. Publishing OutValue is what "mining the slot" means here.
func (ms *MinerSlot) HasMined() bool {
	return len(ms.OutValue) != 0
}

// Copy returns a deep copy of the slot.
func (ms *MinerSlot) Copy() *MinerSlot {
	cp := *ms
	cp.ActualMiningTimes = append([]time.Time(nil), ms.ActualMiningTimes...)
	cp.OutValue = append(tmbytes.HexBytes(nil), ms.OutValue...)
	cp.InValue = append(tmbytes.HexBytes(nil), ms.InValue...)
	cp.PreviousInValue = append(tmbytes.HexBytes(nil), ms.PreviousInValue...)
	cp.Signature = append(tmbytes.HexBytes(nil), ms.Signature...)
	cp.EncryptedPieces = copyPieces(ms.EncryptedPieces)
	cp.DecryptedPieces = copyPieces(ms.DecryptedPieces)
	return &cp
}

func copyPieces(src map[string][]byte) map[string][]byte {
	if src == nil {
		return nil
	}
	dst := make(map[string][]byte, len(src))
	for k, v := range src {
		dst[k] = append([]byte(nil), v...)
	}
	return dst
}

// Round is one scheduling epoch: a fixed ordered slot assignment for every
// committee miner, plus the LIB pointer established while the round ran.
//
// Miners is a logical set keyed by hex pubkey. Any selection over it MUST go
// through SortedPubkeys or SlotsByOrder - never raw map iteration, different
// nodes have to reach identical answers.
type Round struct {
	RoundNumber int64 `json:"round_number"`
	TermNumber  int64 `json:"term_number"`

	Miners map[string]*MinerSlot `json:"miners"`

	ExtraBlockProducerOfPreviousRound string `json:"extra_block_producer_of_previous_round"`

	ConfirmedIrreversibleBlockHeight      int64 `json:"confirmed_irreversible_block_height"`
	ConfirmedIrreversibleBlockRoundNumber int64 `json:"confirmed_irreversible_block_round_number"`

	BlockchainAge          int64 `json:"blockchain_age"`
	IsMinerListJustChanged bool  `json:"is_miner_list_just_changed"`
}

// SortedPubkeys returns the miner pubkeys in ascending order.
// 所有需要确定性的遍历都从这里开始
func (r *Round) SortedPubkeys() []string {
	keys := make([]string, 0, len(r.Miners))
	for k := range r.Miners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SlotsByOrder returns the slots sorted by their mining order.
func (r *Round) SlotsByOrder() []*MinerSlot {
	slots := make([]*MinerSlot, 0, len(r.Miners))
	for _, k := range r.SortedPubkeys() {
		slots = append(slots, r.Miners[k])
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Order < slots[j].Order })
	return slots
}

// Slot returns the slot of the given miner, or nil if the miner is not part
// of this round.
func (r *Round) Slot(pubkey string) *MinerSlot {
	return r.Miners[pubkey]
}

// MinersCount returns the committee size of this round.
func (r *Round) MinersCount() int {
	return len(r.Miners)
}

// MinerList returns the round's committee as a MinerList.
func (r *Round) MinerList() *MinerList {
	return NewMinerList(r.SortedPubkeys())
}

// FirstMiner returns the slot holding order 1. A round without a first miner
// cannot be scheduled from and is treated as structurally broken.
func (r *Round) FirstMiner() (*MinerSlot, error) {
	if ms := r.MinerByOrder(1); ms != nil {
		return ms, nil
	}
	return nil, ErrNoFirstMiner
}

// MinerByOrder returns the slot holding the given order, or nil.
func (r *Round) MinerByOrder(order int) *MinerSlot {
	for _, k := range r.SortedPubkeys() {
		if r.Miners[k].Order == order {
			return r.Miners[k]
		}
	}
	return nil
}

// MinedMiners returns the slots whose miners produced their block this
// round, ordered by pubkey.
func (r *Round) MinedMiners() []*MinerSlot {
	slots := make([]*MinerSlot, 0, len(r.Miners))
	for _, k := range r.SortedPubkeys() {
		if r.Miners[k].HasMined() {
			slots = append(slots, r.Miners[k])
		}
	}
	return slots
}

// NotMinedMiners returns the slots whose miners missed their slot this
// round, ordered by pubkey.
func (r *Round) NotMinedMiners() []*MinerSlot {
	slots := make([]*MinerSlot, 0, len(r.Miners))
	for _, k := range r.SortedPubkeys() {
		if !r.Miners[k].HasMined() {
			slots = append(slots, r.Miners[k])
		}
	}
	return slots
}

// ExtraBlockProducer returns the slot marked as this round's extra block
// producer, or nil if none is marked (only valid transiently).
func (r *Round) ExtraBlockProducer() *MinerSlot {
	for _, k := range r.SortedPubkeys() {
		if r.Miners[k].IsExtraBlockProducer {
			return r.Miners[k]
		}
	}
	return nil
}

// MiningInterval derives the per-slot interval from the spacing between the
// first two orders. Returns 0 for a single-miner round; callers fall back to
// their configured default.
func (r *Round) MiningInterval() time.Duration {
	first := r.MinerByOrder(1)
	second := r.MinerByOrder(2)
	if first == nil || second == nil {
		return 0
	}
	return second.ExpectedMiningTime.Sub(first.ExpectedMiningTime)
}

// RoundStartTime is the expected mining time of the first miner.
func (r *Round) RoundStartTime() (time.Time, error) {
	first, err := r.FirstMiner()
	if err != nil {
		return time.Time{}, err
	}
	return first.ExpectedMiningTime, nil
}

// RoundEndTime is the moment the last normal slot closes; the extra block
// slot opens here.
func (r *Round) RoundEndTime(interval time.Duration) (time.Time, error) {
	last := r.MinerByOrder(r.MinersCount())
	if last == nil {
		return time.Time{}, ErrNoFirstMiner
	}
	return last.ExpectedMiningTime.Add(interval), nil
}

// IsTimeSlotPassed reports whether the miner's normal slot is already over
// at the given wall-clock time.
func (r *Round) IsTimeSlotPassed(pubkey string, now time.Time, interval time.Duration) bool {
	ms := r.Slot(pubkey)
	if ms == nil {
		return false
	}
	return !now.Before(ms.ExpectedMiningTime.Add(interval))
}

// XORedSignatures folds every published signature of the round into a single
// tmhash-sized value. Rounds with no signatures yield all zeroes.
func (r *Round) XORedSignatures() []byte {
	out := make([]byte, tmhash.Size)
	for _, k := range r.SortedPubkeys() {
		sig := r.Miners[k].Signature
		for i := 0; i < len(sig) && i < len(out); i++ {
			out[i] ^= sig[i]
		}
	}
	return out
}

// RoundID identifies the scheduling content of the round: numbers, slot
// assignment and expected times. It is stable across in-round mutation
// (UpdateValue/TinyBlock), so a re-broadcast of the same round keeps its id
// while a brand-new round gets a fresh one.
func (r *Round) RoundID() tmbytes.HexBytes {
	header := make([]byte, 16)
	binary.BigEndian.PutUint64(header[:8], uint64(r.RoundNumber))
	binary.BigEndian.PutUint64(header[8:], uint64(r.TermNumber))

	bzs := make([][]byte, 0, len(r.Miners)+1)
	bzs = append(bzs, header)
	for _, k := range r.SortedPubkeys() {
		ms := r.Miners[k]
		bz := make([]byte, 0, len(k)+16)
		bz = append(bz, k...)
		bz = appendUint64(bz, uint64(ms.Order))
		bz = appendUint64(bz, uint64(ms.ExpectedMiningTime.UnixNano()))
		bzs = append(bzs, bz)
	}
	return merkle.HashFromByteSlices(bzs)
}

// Hash covers the full round content, including every in-round mutation.
// Used by the post-execution symmetry check against the header's claim.
func (r *Round) Hash() tmbytes.HexBytes {
	bz, err := tmjson.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("round can not be hashed: %v", err))
	}
	return tmhash.Sum(bz)
}

func appendUint64(bz []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(bz, buf[:]...)
}

// Copy returns a deep copy of the round.
func (r *Round) Copy() *Round {
	cp := *r
	cp.Miners = make(map[string]*MinerSlot, len(r.Miners))
	for k, ms := range r.Miners {
		cp.Miners[k] = ms.Copy()
	}
	return &cp
}

// ValidateBasic performs the structural checks every stored or proposed
// round must satisfy: nonempty committee, positive numbers, unique in-range
// orders, non-null expected times, at most one extra block producer.
func (r *Round) ValidateBasic() error {
	if len(r.Miners) == 0 {
		return ErrEmptyRound
	}
	if r.RoundNumber < 1 {
		return fmt.Errorf("round number %v: %w", r.RoundNumber, ErrBadRoundNumber)
	}
	if r.TermNumber < 1 {
		return fmt.Errorf("term number %v: %w", r.TermNumber, ErrBadRoundNumber)
	}

	n := len(r.Miners)
	seen := make(map[int]string, n)
	extras := 0
	for _, k := range r.SortedPubkeys() {
		ms := r.Miners[k]
		if ms.PubKey != k {
			return fmt.Errorf("slot key %q holds pubkey %q: %w", k, ms.PubKey, ErrMinerKeyMismatch)
		}
		if ms.Order < 1 || ms.Order > n {
			return fmt.Errorf("miner %v order %v with %v miners: %w", k, ms.Order, n, ErrOrderOutOfRange)
		}
		if prev, ok := seen[ms.Order]; ok {
			return fmt.Errorf("order %v held by %v and %v: %w", ms.Order, prev, k, ErrDuplicateOrder)
		}
		seen[ms.Order] = k
		if ms.ExpectedMiningTime.IsZero() {
			return fmt.Errorf("miner %v: %w", k, ErrNilExpectedTime)
		}
		if ms.IsExtraBlockProducer {
			extras++
		}
	}
	if extras > 1 {
		return ErrMultipleExtraProducers
	}
	return nil
}

// ProducedBlocksTotal sums every miner's produced block counter; used for
// the term snapshot reported at a term boundary.
func (r *Round) ProducedBlocksTotal() int64 {
	var total int64
	for _, ms := range r.Miners {
		total += ms.ProducedBlocks
	}
	return total
}

func (r *Round) String() string {
	return fmt.Sprintf("Round{#%v term %v miners %v lib %v/%v}",
		r.RoundNumber, r.TermNumber, r.MinersCount(),
		r.ConfirmedIrreversibleBlockHeight, r.ConfirmedIrreversibleBlockRoundNumber)
}
